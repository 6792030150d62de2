package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

func (s *Service) OpenEpisode(ctx context.Context, actor Actor, input OpenEpisodeInput) (domain.Episode, error) {
	if err := s.authorize(ctx, actor, ActionEpisodeWrite); err != nil {
		return domain.Episode{}, err
	}
	patientID := strings.TrimSpace(input.PatientID)
	if patientID == "" {
		return domain.Episode{}, fmt.Errorf("%w: patient_id is required", domain.ErrInvalidInput)
	}
	return runIdempotent(ctx, s, actor, "open_episode", input, func() (domain.Episode, error) {
		patient, err := s.patients().get(ctx, patientID)
		if err != nil {
			return domain.Episode{}, err
		}
		if patient.Archived {
			return domain.Episode{}, fmt.Errorf("%w: patient %s is archived", domain.ErrConflict, patientID)
		}
		occurredAt := input.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = s.nowFn()
		}
		ep, rec, err := s.machine.Open(domain.DomainEvent{
			ID:         uuid.NewString(),
			EpisodeID:  uuid.NewString(),
			Type:       domain.EventEpisodeOpened,
			OccurredAt: occurredAt,
			ActorID:    actor.SubjectID,
			ActorRole:  actor.Role,
			Payload:    domain.EventPayload{PatientID: patientID},
		})
		if err != nil {
			return domain.Episode{}, err
		}
		outbox, err := s.transitionOutbox(actor, ep, rec)
		if err != nil {
			return domain.Episode{}, err
		}
		if err := s.episodes.Create(ctx, ep, rec, outbox); err != nil {
			return domain.Episode{}, err
		}
		s.observer.TransitionApplied("", ep.Stage, rec.Type)
		s.logger.InfoContext(ctx, "episode opened",
			"operation", "open_episode",
			"outcome", "success",
			"episode_id", ep.ID,
			"patient_id", patientID,
		)
		return ep, nil
	})
}

func (s *Service) GetEpisode(ctx context.Context, actor Actor, episodeID string) (domain.Episode, error) {
	if err := s.authorize(ctx, actor, ActionEpisodeRead); err != nil {
		return domain.Episode{}, err
	}
	return s.episodes.Get(ctx, strings.TrimSpace(episodeID))
}

func (s *Service) ListEpisodes(ctx context.Context, actor Actor, filter ports.EpisodeFilter) ([]domain.Episode, error) {
	if err := s.authorize(ctx, actor, ActionEpisodeRead); err != nil {
		return nil, err
	}
	if filter.Stage != "" && !filter.Stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidInput, filter.Stage)
	}
	filter.Limit = s.clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.episodes.List(ctx, filter)
}

func (s *Service) GetEventLog(ctx context.Context, actor Actor, episodeID string) ([]domain.EventRecord, error) {
	if err := s.authorize(ctx, actor, ActionEpisodeRead); err != nil {
		return nil, err
	}
	if _, err := s.episodes.Get(ctx, episodeID); err != nil {
		return nil, err
	}
	return s.episodes.Events(ctx, episodeID)
}

func (s *Service) AvailableEvents(ctx context.Context, actor Actor, episodeID string) ([]domain.EventType, error) {
	ep, err := s.GetEpisode(ctx, actor, episodeID)
	if err != nil {
		return nil, err
	}
	return s.machine.Available(ep), nil
}

// ApplyEvent runs one domain event through the state machine and persists
// the resulting log entry. Re-submitting an event id that is already in the
// log returns the stored record with Duplicate set. Without an event id the
// id is derived from the Idempotency-Key, so a retried request finds the
// record appended by the first attempt.
func (s *Service) ApplyEvent(ctx context.Context, actor Actor, episodeID string, input ApplyEventInput) (TransitionResult, error) {
	if err := s.authorize(ctx, actor, ActionEpisodeWrite); err != nil {
		return TransitionResult{}, err
	}
	episodeID = strings.TrimSpace(episodeID)
	input.EventID = strings.TrimSpace(input.EventID)
	if key := strings.TrimSpace(actor.IdempotencyKey); input.EventID == "" && key != "" {
		input.EventID = stableEventID("apply_event", episodeID, key)
	}
	request := struct {
		EpisodeID string          `json:"episode_id"`
		Input     ApplyEventInput `json:"input"`
	}{episodeID, input}
	return runIdempotent(ctx, s, actor, "apply_event", request, func() (TransitionResult, error) {
		return s.applyEvent(ctx, actor, episodeID, input)
	})
}

func (s *Service) applyEvent(ctx context.Context, actor Actor, episodeID string, input ApplyEventInput) (TransitionResult, error) {
	if episodeID == "" {
		return TransitionResult{}, fmt.Errorf("%w: episode_id is required", domain.ErrInvalidInput)
	}
	eventType, err := domain.ParseEventType(string(input.Type))
	if err != nil {
		return TransitionResult{}, err
	}
	if eventType == domain.EventEpisodeOpened {
		return TransitionResult{}, fmt.Errorf("%w: use the open episode operation", domain.ErrInvalidInput)
	}
	eventID := input.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	if existing, err := s.episodes.EventByID(ctx, eventID); err == nil {
		return s.duplicateResult(ctx, episodeID, eventType, existing)
	} else if !isNotFound(err) {
		return TransitionResult{}, err
	}

	ep, err := s.episodes.Get(ctx, episodeID)
	if err != nil {
		return TransitionResult{}, err
	}
	if input.ExpectedVersion != nil && *input.ExpectedVersion != ep.Version {
		return TransitionResult{}, fmt.Errorf("%w: expected version %d, current %d", domain.ErrVersionConflict, *input.ExpectedVersion, ep.Version)
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.nowFn()
	}
	payload := input.Payload
	if eventType == domain.EventExplorationCompleted && actor.Role == domain.RoleTrainee {
		payload.PerformerTrainee = true
		payload.PerformerID = actor.SubjectID
	}
	ev := domain.DomainEvent{
		ID:         eventID,
		EpisodeID:  episodeID,
		Type:       eventType,
		OccurredAt: occurredAt,
		ActorID:    actor.SubjectID,
		ActorRole:  actor.Role,
		Payload:    payload,
	}

	refs, err := s.resolveReferences(ctx, ep, ev)
	if err != nil {
		return TransitionResult{}, err
	}
	next, rec, err := s.machine.Apply(ep, ev, refs)
	if err != nil {
		s.recordRejection(ctx, ep, ev, err)
		return TransitionResult{}, err
	}
	outbox, err := s.transitionOutbox(actor, next, rec)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := s.episodes.Append(ctx, next, rec, ep.Version, outbox); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			if existing, lookupErr := s.episodes.EventByID(ctx, eventID); lookupErr == nil {
				return s.duplicateResult(ctx, episodeID, eventType, existing)
			}
		}
		return TransitionResult{}, err
	}

	s.observer.TransitionApplied(rec.FromStage, rec.ToStage, rec.Type)
	s.logger.InfoContext(ctx, "episode event applied",
		"operation", "apply_event",
		"outcome", "success",
		"episode_id", next.ID,
		"event_type", string(rec.Type),
		"from_stage", string(rec.FromStage),
		"to_stage", string(rec.ToStage),
		"sequence", rec.Sequence,
	)
	s.afterTransition(ctx, actor, next, rec)

	return TransitionResult{Episode: next, Record: rec, Advanced: rec.Advanced()}, nil
}

func (s *Service) duplicateResult(ctx context.Context, episodeID string, eventType domain.EventType, existing domain.EventRecord) (TransitionResult, error) {
	if existing.EpisodeID != episodeID || existing.Type != eventType {
		return TransitionResult{}, fmt.Errorf("%w: event id %s already used for %s", domain.ErrConflict, existing.EventID, existing.Type)
	}
	ep, err := s.episodes.Get(ctx, episodeID)
	if err != nil {
		return TransitionResult{}, err
	}
	s.observer.DuplicateEvent(existing.Type)
	return TransitionResult{Episode: ep, Record: existing, Advanced: existing.Advanced(), Duplicate: true}, nil
}

func (s *Service) recordRejection(ctx context.Context, ep domain.Episode, ev domain.DomainEvent, err error) {
	reason := "invalid"
	var guardErr *domain.GuardError
	switch {
	case errors.As(err, &guardErr):
		reason = "guard"
	case errors.Is(err, domain.ErrInvalidTransition):
		reason = "no_transition"
	case errors.Is(err, domain.ErrEpisodeClosed):
		reason = "closed"
	}
	s.rejected.Add(1)
	s.observer.TransitionRejected(ep.Stage, ev.Type, reason)
	s.logger.WarnContext(ctx, "episode event rejected",
		"operation", "apply_event",
		"outcome", "rejected",
		"episode_id", ep.ID,
		"stage", string(ep.Stage),
		"event_type", string(ev.Type),
		"reason", reason,
		"error", err,
	)
}

// resolveReferences loads the collaborating records the guards for ev read.
// Missing records are left nil so that the guard reports them.
func (s *Service) resolveReferences(ctx context.Context, ep domain.Episode, ev domain.DomainEvent) (domain.References, error) {
	refs := domain.References{Services: map[string]domain.ServiceItem{}}
	switch ev.Type {
	case domain.EventIntakeCompleted:
		patient, err := s.patients().get(ctx, ep.PatientID)
		if err != nil && !isNotFound(err) {
			return refs, err
		}
		if err == nil {
			refs.Patient = &patient
		}
	case domain.EventTriageRouted:
		if err := s.loadServices(ctx, refs.Services, ev.Payload.ServiceID); err != nil {
			return refs, err
		}
	case domain.EventAppointmentConfirmed:
		if ev.Payload.AppointmentID == "" {
			break
		}
		appt, err := s.appointments().get(ctx, ev.Payload.AppointmentID)
		if err != nil && !isNotFound(err) {
			return refs, err
		}
		if err == nil {
			refs.Appointment = &appt
		}
	case domain.EventExplorationCompleted:
		if ev.Payload.EvaluationID == "" {
			break
		}
		evaluation, err := s.evaluations().get(ctx, ev.Payload.EvaluationID)
		if err != nil && !isNotFound(err) {
			return refs, err
		}
		if err == nil {
			refs.Evaluation = &evaluation
		}
	case domain.EventPlanProposed:
		ids := make([]string, 0, len(ev.Payload.PlanItems))
		for _, item := range ev.Payload.PlanItems {
			ids = append(ids, item.ServiceID)
		}
		if err := s.loadServices(ctx, refs.Services, ids...); err != nil {
			return refs, err
		}
	case domain.EventBudgetIssued:
		ids := make([]string, 0, len(ep.Facts.Plan))
		for _, item := range ep.Facts.Plan {
			ids = append(ids, item.ServiceID)
		}
		if err := s.loadServices(ctx, refs.Services, ids...); err != nil {
			return refs, err
		}
	}
	return refs, nil
}

func (s *Service) loadServices(ctx context.Context, into map[string]domain.ServiceItem, ids ...string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := into[id]; ok {
			continue
		}
		svc, err := s.services().get(ctx, id)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		into[id] = svc
	}
	return nil
}

// afterTransition runs best-effort side effects that must not undo an
// accepted transition.
func (s *Service) afterTransition(ctx context.Context, actor Actor, ep domain.Episode, rec domain.EventRecord) {
	switch rec.Type {
	case domain.EventTreatmentSessionComplete:
		s.consumeSupplies(ctx, ep, rec)
	case domain.EventExplorationCompleted:
		s.completeAppointment(ctx, nonEmpty(rec.Payload.AppointmentID, ep.Facts.AppointmentID))
	}
	if rec.Advanced() {
		s.notify(ctx, ports.Notification{
			PatientID: ep.PatientID,
			EpisodeID: ep.ID,
			Template:  "episode.stage." + string(rec.ToStage),
			Data: map[string]string{
				"from_stage": string(rec.FromStage),
				"to_stage":   string(rec.ToStage),
				"event_type": string(rec.Type),
				"sequence":   strconv.FormatInt(rec.Sequence, 10),
			},
		})
	}
}

func (s *Service) completeAppointment(ctx context.Context, appointmentID string) {
	if appointmentID == "" {
		return
	}
	now := s.nowFn()
	_, err := s.appointments().update(ctx, appointmentID, now, func(appt *domain.Appointment) error {
		if appt.Status == domain.AppointmentStatusConfirmed {
			appt.Status = domain.AppointmentStatusCompleted
			appt.UpdatedAt = now
		}
		return nil
	})
	if err != nil && !isNotFound(err) {
		s.logger.WarnContext(ctx, "appointment completion failed",
			"operation", "complete_appointment",
			"outcome", "failure",
			"appointment_id", appointmentID,
			"error", err,
		)
	}
}

// VerifyEpisode checks the hash chain of the log and that replaying it
// reproduces the stored snapshot.
func (s *Service) VerifyEpisode(ctx context.Context, actor Actor, episodeID string) (VerifyResult, error) {
	if err := s.authorize(ctx, actor, ActionEpisodeVerify); err != nil {
		return VerifyResult{}, err
	}
	ep, err := s.episodes.Get(ctx, episodeID)
	if err != nil {
		return VerifyResult{}, err
	}
	records, err := s.episodes.Events(ctx, episodeID)
	if err != nil {
		return VerifyResult{}, err
	}
	result := VerifyResult{EpisodeID: ep.ID, Events: len(records)}
	if len(records) > 0 {
		result.HeadHash = records[len(records)-1].Hash
	}
	replayed, err := s.machine.Replay(records)
	if err != nil {
		if errors.Is(err, domain.ErrChainBroken) || isNotFound(err) {
			result.Problem = err.Error()
			return result, nil
		}
		return VerifyResult{}, err
	}
	result.Valid = true
	diff := domain.SnapshotDiff(ep, replayed)
	result.SnapshotMatch = len(diff) == 0
	if !result.SnapshotMatch {
		result.Problem = "snapshot differs from log in " + strings.Join(diff, ", ")
	}
	return result, nil
}

// ReplayEpisode rebuilds the episode purely from its log.
func (s *Service) ReplayEpisode(ctx context.Context, actor Actor, episodeID string) (domain.Episode, error) {
	if err := s.authorize(ctx, actor, ActionEpisodeVerify); err != nil {
		return domain.Episode{}, err
	}
	records, err := s.episodes.Events(ctx, episodeID)
	if err != nil {
		return domain.Episode{}, err
	}
	return s.machine.Replay(records)
}
