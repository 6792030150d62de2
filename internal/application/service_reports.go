package application

import (
	"context"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

// StageFunnel counts episodes per stage, including terminal ones.
func (s *Service) StageFunnel(ctx context.Context, actor Actor) (StageFunnel, error) {
	if err := s.authorize(ctx, actor, ActionReportRead); err != nil {
		return StageFunnel{}, err
	}
	counts, err := s.episodes.CountByStage(ctx)
	if err != nil {
		return StageFunnel{}, err
	}
	out := StageFunnel{Stages: make(map[domain.Stage]int, len(domain.ActiveStages)+2)}
	for _, stage := range domain.ActiveStages {
		out.Stages[stage] = 0
	}
	out.Stages[domain.StageClosed] = 0
	out.Stages[domain.StageCancelled] = 0
	for stage, n := range counts {
		out.Stages[stage] += n
		out.Total += n
	}
	return out, nil
}

func (s *Service) OperationalSummary(ctx context.Context, actor Actor) (OperationalSummary, error) {
	funnel, err := s.StageFunnel(ctx, actor)
	if err != nil {
		return OperationalSummary{}, err
	}
	byStatus := map[string]int{}
	err = s.appointments().scan(ctx, nil, "", s.cfg.MaxListLimit, func(appt domain.Appointment) error {
		byStatus[appt.Status]++
		return nil
	})
	if err != nil {
		return OperationalSummary{}, err
	}
	lowStock, err := s.lowStockItems(ctx)
	if err != nil {
		return OperationalSummary{}, err
	}
	activeServices := 0
	err = s.services().scan(ctx, map[string]string{"active": "true"}, "", s.cfg.MaxListLimit, func(domain.ServiceItem) error {
		activeServices++
		return nil
	})
	if err != nil {
		return OperationalSummary{}, err
	}
	return OperationalSummary{
		GeneratedAt:         s.nowFn(),
		EpisodesByStage:     funnel.Stages,
		AppointmentsStatus:  byStatus,
		LowStockItems:       len(lowStock),
		ActiveServices:      activeServices,
		TransitionsRejected: s.rejected.Load(),
	}, nil
}
