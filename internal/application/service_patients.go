package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

// CreatePatient registers a patient. Records with the same birth date and a
// near-identical name are reported as possible duplicates but not blocked.
func (s *Service) CreatePatient(ctx context.Context, actor Actor, input CreatePatientInput) (PatientResult, error) {
	if err := s.authorize(ctx, actor, ActionPatientWrite); err != nil {
		return PatientResult{}, err
	}
	now := s.nowFn()
	patient := domain.Patient{
		PatientID: uuid.NewString(),
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		BirthDate: strings.TrimSpace(input.BirthDate),
		Email:     strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:     strings.TrimSpace(input.Phone),
		Notes:     strings.TrimSpace(input.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := domain.ValidatePatient(patient); err != nil {
		return PatientResult{}, err
	}

	return runIdempotent(ctx, s, actor, "create_patient", input, func() (PatientResult, error) {
		if err := s.setNationalID(&patient, input.NationalID); err != nil {
			return PatientResult{}, err
		}
		duplicates, err := s.findPossibleDuplicates(ctx, patient)
		if err != nil {
			return PatientResult{}, err
		}
		if err := s.patients().put(ctx, patient.PatientID, patient, now); err != nil {
			return PatientResult{}, err
		}
		if len(duplicates) > 0 {
			s.logger.InfoContext(ctx, "possible duplicate patient",
				"operation", "create_patient",
				"outcome", "warning",
				"patient_id", patient.PatientID,
				"duplicates", len(duplicates),
			)
		}
		return PatientResult{Patient: patient, PossibleDuplicates: duplicates}, nil
	})
}

func (s *Service) findPossibleDuplicates(ctx context.Context, patient domain.Patient) ([]string, error) {
	if patient.BirthDate == "" {
		return nil, nil
	}
	name := domain.NormalizeName(patient.FullName())
	var out []string
	err := s.patients().scan(ctx, map[string]string{"birth_date": patient.BirthDate}, "", s.cfg.MaxListLimit, func(candidate domain.Patient) error {
		if candidate.PatientID == patient.PatientID || candidate.Archived {
			return nil
		}
		if levenshtein.ComputeDistance(name, domain.NormalizeName(candidate.FullName())) <= s.cfg.DuplicateNameDistance {
			out = append(out, candidate.PatientID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) setNationalID(patient *domain.Patient, nationalID string) error {
	nationalID = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(nationalID), " ", ""))
	if nationalID == "" {
		return nil
	}
	if len(nationalID) < 5 {
		return fmt.Errorf("%w: national_id is too short", domain.ErrInvalidInput)
	}
	if s.encryption == nil {
		return fmt.Errorf("%w: encryption is not configured", domain.ErrDependencyUnavailable)
	}
	sealed, err := s.encryption.Encrypt(patient.PatientID, nationalID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	patient.NationalIDEncrypted = string(sealed)
	patient.NationalIDLast4 = nationalID[len(nationalID)-4:]
	return nil
}

func (s *Service) GetPatient(ctx context.Context, actor Actor, patientID string) (domain.Patient, error) {
	if err := s.authorize(ctx, actor, ActionPatientRead); err != nil {
		return domain.Patient{}, err
	}
	return s.patients().get(ctx, strings.TrimSpace(patientID))
}

func (s *Service) ListPatients(ctx context.Context, actor Actor, filter PatientFilter) ([]domain.Patient, error) {
	if err := s.authorize(ctx, actor, ActionPatientRead); err != nil {
		return nil, err
	}
	where := map[string]string{}
	if !filter.IncludeArchived {
		where["archived"] = "false"
	}
	return s.patients().list(ctx, where, "last_name", s.clampLimit(filter.Limit), filter.Offset)
}

func (s *Service) UpdatePatient(ctx context.Context, actor Actor, patientID string, input UpdatePatientInput) (domain.Patient, error) {
	if err := s.authorize(ctx, actor, ActionPatientWrite); err != nil {
		return domain.Patient{}, err
	}
	request := struct {
		PatientID string             `json:"patient_id"`
		Input     UpdatePatientInput `json:"input"`
	}{patientID, input}
	return runIdempotent(ctx, s, actor, "update_patient", request, func() (domain.Patient, error) {
		now := s.nowFn()
		return s.patients().update(ctx, patientID, now, func(patient *domain.Patient) error {
			if patient.Archived {
				return fmt.Errorf("%w: patient is archived", domain.ErrConflict)
			}
			if input.FirstName != nil {
				patient.FirstName = strings.TrimSpace(*input.FirstName)
			}
			if input.LastName != nil {
				patient.LastName = strings.TrimSpace(*input.LastName)
			}
			if input.BirthDate != nil {
				patient.BirthDate = strings.TrimSpace(*input.BirthDate)
			}
			if input.Email != nil {
				patient.Email = strings.ToLower(strings.TrimSpace(*input.Email))
			}
			if input.Phone != nil {
				patient.Phone = strings.TrimSpace(*input.Phone)
			}
			if input.Notes != nil {
				patient.Notes = strings.TrimSpace(*input.Notes)
			}
			if err := domain.ValidatePatient(*patient); err != nil {
				return err
			}
			if input.NationalID != nil {
				if err := s.setNationalID(patient, *input.NationalID); err != nil {
					return err
				}
			}
			patient.UpdatedAt = now
			return nil
		})
	})
}

// ArchivePatient soft-deletes a patient that has no journey in progress.
func (s *Service) ArchivePatient(ctx context.Context, actor Actor, patientID string) (domain.Patient, error) {
	if err := s.authorize(ctx, actor, ActionPatientWrite); err != nil {
		return domain.Patient{}, err
	}
	return runIdempotent(ctx, s, actor, "archive_patient", patientID, func() (domain.Patient, error) {
		patient, err := s.patients().get(ctx, patientID)
		if err != nil {
			return domain.Patient{}, err
		}
		if patient.Archived {
			return patient, nil
		}
		open, err := s.episodes.List(ctx, ports.EpisodeFilter{PatientID: patientID, OpenOnly: true, Limit: 1})
		if err != nil {
			return domain.Patient{}, err
		}
		if len(open) > 0 {
			return domain.Patient{}, fmt.Errorf("%w: patient has open episode %s", domain.ErrConflict, open[0].ID)
		}
		now := s.nowFn()
		patient.Archived = true
		patient.ArchivedAt = &now
		patient.UpdatedAt = now
		if err := s.patients().put(ctx, patient.PatientID, patient, now); err != nil {
			return domain.Patient{}, err
		}
		return patient, nil
	})
}
