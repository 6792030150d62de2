package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wiye1050/gestionclinica-sub004/internal/application"
	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
)

func (h *Handler) createPatient(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreatePatientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	res, err := h.service.CreatePatient(r.Context(), actorFromContext(r.Context()), application.CreatePatientInput{
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		BirthDate:  req.BirthDate,
		Email:      req.Email,
		Phone:      req.Phone,
		NationalID: req.NationalID,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, "create_patient", err)
		return
	}
	writeSuccess(w, http.StatusCreated, contracts.CreatePatientResponse{
		Patient:           res.Patient,
		PossibleDuplicate: res.PossibleDuplicates,
	})
}

func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	patients, err := h.service.ListPatients(r.Context(), actorFromContext(r.Context()), application.PatientFilter{
		IncludeArchived: optionalBool(r.URL.Query().Get("include_archived")),
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		h.writeDomainError(w, r, "list_patients", err)
		return
	}
	writeSuccess(w, http.StatusOK, patients)
}

func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	patient, err := h.service.GetPatient(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeDomainError(w, r, "get_patient", err)
		return
	}
	writeSuccess(w, http.StatusOK, patient)
}

func (h *Handler) updatePatient(w http.ResponseWriter, r *http.Request) {
	var req contracts.UpdatePatientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	patient, err := h.service.UpdatePatient(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "patientID"), application.UpdatePatientInput{
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		BirthDate:  req.BirthDate,
		Email:      req.Email,
		Phone:      req.Phone,
		NationalID: req.NationalID,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, "update_patient", err)
		return
	}
	writeSuccess(w, http.StatusOK, patient)
}

func (h *Handler) archivePatient(w http.ResponseWriter, r *http.Request) {
	patient, err := h.service.ArchivePatient(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeDomainError(w, r, "archive_patient", err)
		return
	}
	writeSuccess(w, http.StatusOK, patient)
}

func (h *Handler) scheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req contracts.ScheduleAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	appt, err := h.service.ScheduleAppointment(r.Context(), actorFromContext(r.Context()), application.ScheduleAppointmentInput{
		PatientID:      req.PatientID,
		EpisodeID:      req.EpisodeID,
		ServiceID:      req.ServiceID,
		PractitionerID: req.PractitionerID,
		StartsAt:       req.StartsAt.UTC(),
		EndsAt:         req.EndsAt.UTC(),
	})
	if err != nil {
		h.writeDomainError(w, r, "schedule_appointment", err)
		return
	}
	writeSuccess(w, http.StatusCreated, appt)
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	day, err := optionalDay(q.Get("day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	appts, err := h.service.ListAppointments(r.Context(), actorFromContext(r.Context()), application.AppointmentFilter{
		PatientID:      strings.TrimSpace(q.Get("patient_id")),
		PractitionerID: strings.TrimSpace(q.Get("practitioner_id")),
		Status:         strings.TrimSpace(q.Get("status")),
		Day:            day,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		h.writeDomainError(w, r, "list_appointments", err)
		return
	}
	writeSuccess(w, http.StatusOK, appts)
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.GetAppointment(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeDomainError(w, r, "get_appointment", err)
		return
	}
	writeSuccess(w, http.StatusOK, appt)
}

func (h *Handler) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ConfirmAppointment(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeDomainError(w, r, "confirm_appointment", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req contracts.CancelAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	res, err := h.service.CancelAppointment(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "appointmentID"), req.Reason)
	if err != nil {
		h.writeDomainError(w, r, "cancel_appointment", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}
