package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

const (
	ActionEpisodeRead     = "episode.read"
	ActionEpisodeWrite    = "episode.write"
	ActionEpisodeVerify   = "episode.verify"
	ActionPatientRead     = "patient.read"
	ActionPatientWrite    = "patient.write"
	ActionAppointmentRead = "appointment.read"
	ActionAppointmentEdit = "appointment.write"
	ActionCatalogRead     = "catalog.read"
	ActionCatalogWrite    = "catalog.write"
	ActionEvaluationRead  = "evaluation.read"
	ActionEvaluationWrite = "evaluation.write"
	ActionEvaluationSign  = "evaluation.sign_off"
	ActionInventoryRead   = "inventory.read"
	ActionInventoryWrite  = "inventory.write"
	ActionConsentUpload   = "consent.upload"
	ActionReportRead      = "report.read"
)

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "clinic-episode-service"
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.RecallSweepBatchSize <= 0 {
		cfg.RecallSweepBatchSize = 100
	}
	if cfg.DuplicateNameDistance <= 0 {
		cfg.DuplicateNameDistance = 2
	}
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = 50
	}
	if cfg.MaxListLimit <= 0 {
		cfg.MaxListLimit = 200
	}
	if cfg.MaxConsentBytes <= 0 {
		cfg.MaxConsentBytes = 10 << 20
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	machine := deps.Machine
	if machine == nil {
		machine = domain.NewMachine().WithClock(nowFn)
	}
	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	return &Service{
		cfg:         cfg,
		episodes:    deps.Episodes,
		documents:   deps.Documents,
		files:       deps.Files,
		idempotency: deps.Idempotency,
		eventDedup:  deps.EventDedup,
		outbox:      deps.Outbox,
		dlq:         deps.DLQ,
		authorizer:  deps.Authorizer,
		notifier:    deps.Notifier,
		observer:    observer,
		encryption:  deps.Encryption,
		machine:     machine,
		logger:      logger.With("module", "application", "layer", "application"),
		nowFn:       nowFn,
	}
}

// Machine exposes the transition table for read-only tooling.
func (s *Service) Machine() *domain.Machine {
	return s.machine
}

func (s *Service) authorize(ctx context.Context, actor Actor, action string) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthorized
	}
	if s.authorizer == nil {
		return nil
	}
	if err := s.authorizer.Authorize(ctx, actor.Role, action); err != nil {
		return fmt.Errorf("%w: %s", err, action)
	}
	return nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultListLimit
	}
	if limit > s.cfg.MaxListLimit {
		return s.cfg.MaxListLimit
	}
	return limit
}

type noopObserver struct{}

func (noopObserver) TransitionApplied(domain.Stage, domain.Stage, domain.EventType) {}
func (noopObserver) TransitionRejected(domain.Stage, domain.EventType, string)      {}
func (noopObserver) DuplicateEvent(domain.EventType)                                {}

var _ ports.Observer = noopObserver{}
