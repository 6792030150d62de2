package domain

const (
	CanonicalEventClassDomain        = "domain"
	CanonicalEventClassAnalyticsOnly = "analytics_only"
	CanonicalEventClassOps           = "ops"
)

// Events published by this service.
const (
	EventEpisodeStageChanged    = "episode.stage_changed"
	EventEpisodeEventRecorded   = "episode.event_recorded"
	EventNotificationRequested  = "notification.requested"
	EventIdempotencyConflictOps = "clinic.idempotency.conflict"
)

// Events consumed from other services.
const (
	InboundAppointmentConfirmed = "scheduling.appointment_confirmed"
	InboundAppointmentCancelled = "scheduling.appointment_cancelled"
	InboundConsentSigned        = "consent.form_signed"
	InboundBudgetAccepted       = "billing.budget_accepted"
	InboundBudgetRejected       = "billing.budget_rejected"
)

var inboundEventTypes = map[string]EventType{
	InboundAppointmentConfirmed: EventAppointmentConfirmed,
	InboundAppointmentCancelled: EventAppointmentCancelled,
	InboundConsentSigned:        EventConsentSigned,
	InboundBudgetAccepted:       EventBudgetAccepted,
	InboundBudgetRejected:       EventBudgetRejected,
}

// InboundEventType maps a consumed event type to the episode event it feeds.
func InboundEventType(eventType string) (EventType, bool) {
	t, ok := inboundEventTypes[eventType]
	return t, ok
}

func IsCanonicalInputEvent(eventType string) bool {
	_, ok := inboundEventTypes[eventType]
	return ok
}

func CanonicalEventClass(eventType string) string {
	switch eventType {
	case EventEpisodeStageChanged:
		return CanonicalEventClassDomain
	case EventEpisodeEventRecorded:
		return CanonicalEventClassAnalyticsOnly
	case EventNotificationRequested, EventIdempotencyConflictOps:
		return CanonicalEventClassOps
	}
	if IsCanonicalInputEvent(eventType) {
		return CanonicalEventClassDomain
	}
	return ""
}

func CanonicalPartitionKeyPath(eventType string) string {
	switch eventType {
	case EventEpisodeStageChanged, EventEpisodeEventRecorded:
		return "data.episode_id"
	case EventNotificationRequested:
		return "data.patient_id"
	case EventIdempotencyConflictOps:
		return "envelope.source_service"
	}
	if IsCanonicalInputEvent(eventType) {
		return "data.episode_id"
	}
	return ""
}
