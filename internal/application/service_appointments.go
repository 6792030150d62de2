package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func (s *Service) ScheduleAppointment(ctx context.Context, actor Actor, input ScheduleAppointmentInput) (domain.Appointment, error) {
	if err := s.authorize(ctx, actor, ActionAppointmentEdit); err != nil {
		return domain.Appointment{}, err
	}
	now := s.nowFn()
	appt := domain.Appointment{
		AppointmentID:  uuid.NewString(),
		PatientID:      strings.TrimSpace(input.PatientID),
		EpisodeID:      strings.TrimSpace(input.EpisodeID),
		ServiceID:      strings.TrimSpace(input.ServiceID),
		PractitionerID: strings.TrimSpace(input.PractitionerID),
		StartsAt:       input.StartsAt.UTC(),
		EndsAt:         input.EndsAt.UTC(),
		Status:         domain.AppointmentStatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := domain.ValidateAppointment(appt); err != nil {
		return domain.Appointment{}, err
	}

	return runIdempotent(ctx, s, actor, "schedule_appointment", input, func() (domain.Appointment, error) {
		patient, err := s.patients().get(ctx, appt.PatientID)
		if err != nil {
			return domain.Appointment{}, err
		}
		if patient.Archived {
			return domain.Appointment{}, fmt.Errorf("%w: patient is archived", domain.ErrConflict)
		}
		if appt.EpisodeID != "" {
			ep, err := s.episodes.Get(ctx, appt.EpisodeID)
			if err != nil {
				return domain.Appointment{}, err
			}
			if ep.PatientID != appt.PatientID {
				return domain.Appointment{}, fmt.Errorf("%w: episode belongs to another patient", domain.ErrInvalidInput)
			}
			if ep.Closed() {
				return domain.Appointment{}, fmt.Errorf("%w: episode is %s", domain.ErrEpisodeClosed, ep.Stage)
			}
		}
		if appt.ServiceID != "" {
			svc, err := s.services().get(ctx, appt.ServiceID)
			if err != nil {
				return domain.Appointment{}, err
			}
			if !svc.Active {
				return domain.Appointment{}, fmt.Errorf("%w: service is inactive", domain.ErrInvalidInput)
			}
		}
		if err := s.checkPractitionerOverlap(ctx, appt); err != nil {
			return domain.Appointment{}, err
		}
		if err := s.appointments().put(ctx, appt.AppointmentID, appt, now); err != nil {
			return domain.Appointment{}, err
		}
		return appt, nil
	})
}

func (s *Service) checkPractitionerOverlap(ctx context.Context, appt domain.Appointment) error {
	if appt.PractitionerID == "" {
		return nil
	}
	where := map[string]string{"practitioner_id": appt.PractitionerID}
	return s.appointments().scan(ctx, where, "starts_at", s.cfg.MaxListLimit, func(other domain.Appointment) error {
		if other.AppointmentID == appt.AppointmentID {
			return nil
		}
		if other.Status != domain.AppointmentStatusScheduled && other.Status != domain.AppointmentStatusConfirmed {
			return nil
		}
		if appt.StartsAt.Before(other.EndsAt) && other.StartsAt.Before(appt.EndsAt) {
			return fmt.Errorf("%w: practitioner already booked by appointment %s", domain.ErrConflict, other.AppointmentID)
		}
		return nil
	})
}

// ConfirmAppointment confirms the booking and, when it is linked to an
// episode waiting in scheduling, feeds appointment.confirmed into it.
func (s *Service) ConfirmAppointment(ctx context.Context, actor Actor, appointmentID string) (AppointmentResult, error) {
	if err := s.authorize(ctx, actor, ActionAppointmentEdit); err != nil {
		return AppointmentResult{}, err
	}
	return runIdempotent(ctx, s, actor, "confirm_appointment", appointmentID, func() (AppointmentResult, error) {
		now := s.nowFn()
		appt, err := s.appointments().update(ctx, appointmentID, now, func(appt *domain.Appointment) error {
			switch appt.Status {
			case domain.AppointmentStatusConfirmed:
			case domain.AppointmentStatusScheduled:
				appt.Status = domain.AppointmentStatusConfirmed
				appt.UpdatedAt = now
			default:
				return fmt.Errorf("%w: appointment is %s", domain.ErrConflict, appt.Status)
			}
			return nil
		})
		if err != nil {
			return AppointmentResult{}, err
		}

		result := AppointmentResult{Appointment: appt}
		if appt.EpisodeID == "" {
			return result, nil
		}
		transition, err := s.ApplyEvent(ctx, actor.withoutIdempotency(), appt.EpisodeID, ApplyEventInput{
			EventID: stableEventID("appointment.confirmed", appt.AppointmentID),
			Type:    domain.EventAppointmentConfirmed,
			Payload: domain.EventPayload{AppointmentID: appt.AppointmentID},
		})
		if err != nil {
			if isTerminalRejection(err) {
				s.logger.WarnContext(ctx, "appointment confirmation not applied to episode",
					"operation", "confirm_appointment",
					"outcome", "rejected",
					"appointment_id", appt.AppointmentID,
					"episode_id", appt.EpisodeID,
					"error", err,
				)
				return result, nil
			}
			return AppointmentResult{}, err
		}
		result.Transition = &transition
		return result, nil
	})
}

func (s *Service) CancelAppointment(ctx context.Context, actor Actor, appointmentID, reason string) (AppointmentResult, error) {
	if err := s.authorize(ctx, actor, ActionAppointmentEdit); err != nil {
		return AppointmentResult{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return AppointmentResult{}, fmt.Errorf("%w: reason is required", domain.ErrInvalidInput)
	}
	request := struct {
		AppointmentID string `json:"appointment_id"`
		Reason        string `json:"reason"`
	}{appointmentID, reason}
	return runIdempotent(ctx, s, actor, "cancel_appointment", request, func() (AppointmentResult, error) {
		now := s.nowFn()
		appt, err := s.appointments().update(ctx, appointmentID, now, func(appt *domain.Appointment) error {
			switch appt.Status {
			case domain.AppointmentStatusCompleted:
				return fmt.Errorf("%w: appointment already completed", domain.ErrConflict)
			case domain.AppointmentStatusCancelled:
			default:
				appt.Status = domain.AppointmentStatusCancelled
				appt.CancelReason = reason
				appt.UpdatedAt = now
			}
			return nil
		})
		if err != nil {
			return AppointmentResult{}, err
		}

		result := AppointmentResult{Appointment: appt}
		if appt.EpisodeID == "" {
			return result, nil
		}
		transition, err := s.ApplyEvent(ctx, actor.withoutIdempotency(), appt.EpisodeID, ApplyEventInput{
			EventID: stableEventID("appointment.cancelled", appt.AppointmentID),
			Type:    domain.EventAppointmentCancelled,
			Payload: domain.EventPayload{AppointmentID: appt.AppointmentID, Reason: reason},
		})
		switch {
		case err == nil:
			result.Transition = &transition
		case isTerminalRejection(err):
			s.logger.InfoContext(ctx, "appointment cancellation not applied to episode",
				"operation", "cancel_appointment",
				"outcome", "skipped",
				"appointment_id", appt.AppointmentID,
				"error", err,
			)
		default:
			return AppointmentResult{}, err
		}
		return result, nil
	})
}

func (s *Service) GetAppointment(ctx context.Context, actor Actor, appointmentID string) (domain.Appointment, error) {
	if err := s.authorize(ctx, actor, ActionAppointmentRead); err != nil {
		return domain.Appointment{}, err
	}
	return s.appointments().get(ctx, appointmentID)
}

func (s *Service) ListAppointments(ctx context.Context, actor Actor, filter AppointmentFilter) ([]domain.Appointment, error) {
	if err := s.authorize(ctx, actor, ActionAppointmentRead); err != nil {
		return nil, err
	}
	where := map[string]string{}
	if filter.PatientID != "" {
		where["patient_id"] = filter.PatientID
	}
	if filter.PractitionerID != "" {
		where["practitioner_id"] = filter.PractitionerID
	}
	if filter.Status != "" {
		where["status"] = filter.Status
	}
	if filter.Day.IsZero() {
		return s.appointments().list(ctx, where, "starts_at", s.clampLimit(filter.Limit), filter.Offset)
	}
	dayStart := time.Date(filter.Day.Year(), filter.Day.Month(), filter.Day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	out := make([]domain.Appointment, 0)
	err := s.appointments().scan(ctx, where, "starts_at", s.cfg.MaxListLimit, func(appt domain.Appointment) error {
		if !appt.StartsAt.Before(dayStart) && appt.StartsAt.Before(dayEnd) {
			out = append(out, appt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
