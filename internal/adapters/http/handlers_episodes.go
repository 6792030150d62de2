package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wiye1050/gestionclinica-sub004/internal/application"
	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

func (h *Handler) openEpisode(w http.ResponseWriter, r *http.Request) {
	var req contracts.OpenEpisodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	input := application.OpenEpisodeInput{PatientID: req.PatientID}
	if req.OccurredAt != nil {
		input.OccurredAt = req.OccurredAt.UTC()
	}
	ep, err := h.service.OpenEpisode(r.Context(), actorFromContext(r.Context()), input)
	if err != nil {
		h.writeDomainError(w, r, "open_episode", err)
		return
	}
	writeSuccess(w, http.StatusCreated, ep)
}

func (h *Handler) listEpisodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ports.EpisodeFilter{PatientID: strings.TrimSpace(q.Get("patient_id"))}
	if raw := q.Get("stage"); raw != "" {
		stage, err := domain.ParseStage(raw)
		if err != nil {
			h.writeDomainError(w, r, "list_episodes", err)
			return
		}
		filter.Stage = stage
	}
	var err error
	if filter.Limit, filter.Offset, err = pagination(r); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	episodes, err := h.service.ListEpisodes(r.Context(), actorFromContext(r.Context()), filter)
	if err != nil {
		h.writeDomainError(w, r, "list_episodes", err)
		return
	}
	writeSuccess(w, http.StatusOK, episodes)
}

func (h *Handler) getEpisode(w http.ResponseWriter, r *http.Request) {
	ep, err := h.service.GetEpisode(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "episodeID"))
	if err != nil {
		h.writeDomainError(w, r, "get_episode", err)
		return
	}
	writeSuccess(w, http.StatusOK, ep)
}

func (h *Handler) applyEvent(w http.ResponseWriter, r *http.Request) {
	var req contracts.ApplyEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	eventType, err := domain.ParseEventType(req.EventType)
	if err != nil {
		h.writeDomainError(w, r, "apply_event", err)
		return
	}
	input := application.ApplyEventInput{
		EventID:         req.EventID,
		Type:            eventType,
		ExpectedVersion: req.ExpectedVersion,
		Payload:         payloadFromRequest(req),
	}
	if req.OccurredAt != nil {
		input.OccurredAt = req.OccurredAt.UTC()
	}
	res, err := h.service.ApplyEvent(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "episodeID"), input)
	if err != nil {
		h.writeDomainError(w, r, "apply_event", err)
		return
	}
	statusCode := http.StatusCreated
	if res.Duplicate {
		statusCode = http.StatusOK
	}
	writeSuccess(w, statusCode, contracts.TransitionResponse{
		Episode:   res.Episode,
		Record:    res.Record,
		Advanced:  res.Advanced,
		Duplicate: res.Duplicate,
	})
}

func payloadFromRequest(req contracts.ApplyEventRequest) domain.EventPayload {
	payload := domain.EventPayload{
		ConsentKind:         domain.ConsentKind(req.ConsentKind),
		ConsentDocumentRef:  req.ConsentDocumentRef,
		TriageRoute:         domain.TriageRoute(req.TriageRoute),
		ServiceID:           req.ServiceID,
		ReferralDestination: req.ReferralDestination,
		AppointmentID:       req.AppointmentID,
		Findings:            req.Findings,
		PerformerTrainee:    req.PerformerTrainee,
		EvaluationID:        req.EvaluationID,
		DiagnosisCodes:      req.DiagnosisCodes,
		RequiresTreatment:   req.RequiresTreatment,
		BudgetTotalCents:    req.BudgetTotalCents,
		Currency:            req.Currency,
		SessionNumber:       req.SessionNumber,
		Outcome:             domain.FollowUpOutcome(req.Outcome),
		AdditionalSessions:  req.AdditionalSessions,
		RecallIntervalDays:  req.RecallIntervalDays,
		Reason:              req.Reason,
		Notes:               req.Notes,
	}
	for _, item := range req.PlanItems {
		payload.PlanItems = append(payload.PlanItems, domain.PlanItem{ServiceID: item.ServiceID, Quantity: item.Quantity})
	}
	for _, s := range req.Supplies {
		payload.Supplies = append(payload.Supplies, domain.SupplyUsage{ItemID: s.ItemID, Quantity: s.Quantity})
	}
	return payload
}

func (h *Handler) getEventLog(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.GetEventLog(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "episodeID"))
	if err != nil {
		h.writeDomainError(w, r, "get_event_log", err)
		return
	}
	writeSuccess(w, http.StatusOK, records)
}

func (h *Handler) availableEvents(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	events, err := h.service.AvailableEvents(r.Context(), actorFromContext(r.Context()), episodeID)
	if err != nil {
		h.writeDomainError(w, r, "available_events", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"episode_id": episodeID, "events": events})
}

func (h *Handler) verifyEpisode(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.VerifyEpisode(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "episodeID"))
	if err != nil {
		h.writeDomainError(w, r, "verify_episode", err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.VerifyEpisodeResponse{
		EpisodeID:     res.EpisodeID,
		Valid:         res.Valid,
		Events:        res.Events,
		HeadHash:      res.HeadHash,
		SnapshotMatch: res.SnapshotMatch,
		Problem:       res.Problem,
	})
}

func pagination(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit, err := optionalInt(q.Get("limit"), "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := optionalInt(q.Get("offset"), "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func optionalInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &queryError{name: name}
	}
	return v, nil
}

func optionalBool(raw string) bool {
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}

func optionalDay(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, &queryError{name: "day"}
	}
	return day, nil
}

type queryError struct {
	name string
}

func (e *queryError) Error() string {
	return "invalid " + e.name + " query param"
}
