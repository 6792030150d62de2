package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func (s *Service) CreateEvaluation(ctx context.Context, actor Actor, episodeID, traineeID string) (domain.Evaluation, error) {
	if err := s.authorize(ctx, actor, ActionEvaluationWrite); err != nil {
		return domain.Evaluation{}, err
	}
	episodeID = strings.TrimSpace(episodeID)
	traineeID = strings.TrimSpace(traineeID)
	if traineeID == "" && actor.Role == domain.RoleTrainee {
		traineeID = actor.SubjectID
	}
	if episodeID == "" || traineeID == "" {
		return domain.Evaluation{}, fmt.Errorf("%w: episode_id and trainee_id are required", domain.ErrInvalidInput)
	}
	request := struct {
		EpisodeID string `json:"episode_id"`
		TraineeID string `json:"trainee_id"`
	}{episodeID, traineeID}
	return runIdempotent(ctx, s, actor, "create_evaluation", request, func() (domain.Evaluation, error) {
		ep, err := s.episodes.Get(ctx, episodeID)
		if err != nil {
			return domain.Evaluation{}, err
		}
		if ep.Closed() {
			return domain.Evaluation{}, fmt.Errorf("%w: episode is %s", domain.ErrEpisodeClosed, ep.Stage)
		}
		now := s.nowFn()
		evaluation := domain.Evaluation{
			EvaluationID: uuid.NewString(),
			EpisodeID:    ep.ID,
			TraineeID:    traineeID,
			Status:       domain.EvaluationStatusDraft,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.evaluations().put(ctx, evaluation.EvaluationID, evaluation, now); err != nil {
			return domain.Evaluation{}, err
		}
		return evaluation, nil
	})
}

func (s *Service) ScoreEvaluation(ctx context.Context, actor Actor, evaluationID string, scores map[string]int, comments string) (domain.Evaluation, error) {
	if err := s.authorize(ctx, actor, ActionEvaluationSign); err != nil {
		return domain.Evaluation{}, err
	}
	if err := domain.ValidateScores(scores); err != nil {
		return domain.Evaluation{}, err
	}
	comments = strings.TrimSpace(comments)
	request := struct {
		EvaluationID string         `json:"evaluation_id"`
		Scores       map[string]int `json:"scores"`
		Comments     string         `json:"comments"`
	}{evaluationID, scores, comments}
	return runIdempotent(ctx, s, actor, "score_evaluation", request, func() (domain.Evaluation, error) {
		now := s.nowFn()
		return s.evaluations().update(ctx, evaluationID, now, func(evaluation *domain.Evaluation) error {
			if evaluation.Status != domain.EvaluationStatusDraft {
				return fmt.Errorf("%w: evaluation already signed off", domain.ErrConflict)
			}
			if evaluation.Scores == nil {
				evaluation.Scores = map[string]int{}
			}
			for criterion, score := range scores {
				evaluation.Scores[criterion] = score
			}
			if comments != "" {
				evaluation.Comments = comments
			}
			evaluation.SupervisorID = actor.SubjectID
			evaluation.UpdatedAt = now
			return nil
		})
	})
}

// SignOffEvaluation locks a scored evaluation. The evaluated trainee cannot
// sign it off.
func (s *Service) SignOffEvaluation(ctx context.Context, actor Actor, evaluationID string) (domain.Evaluation, error) {
	if err := s.authorize(ctx, actor, ActionEvaluationSign); err != nil {
		return domain.Evaluation{}, err
	}
	return runIdempotent(ctx, s, actor, "sign_off_evaluation", evaluationID, func() (domain.Evaluation, error) {
		now := s.nowFn()
		return s.evaluations().update(ctx, evaluationID, now, func(evaluation *domain.Evaluation) error {
			if evaluation.Status == domain.EvaluationStatusSignedOff {
				return nil
			}
			if len(evaluation.Scores) == 0 {
				return fmt.Errorf("%w: evaluation has no scores", domain.ErrInvalidInput)
			}
			if evaluation.TraineeID == actor.SubjectID {
				return fmt.Errorf("%w: trainee cannot sign off own evaluation", domain.ErrForbidden)
			}
			evaluation.Status = domain.EvaluationStatusSignedOff
			evaluation.SupervisorID = actor.SubjectID
			evaluation.SignedOffAt = &now
			evaluation.UpdatedAt = now
			return nil
		})
	})
}

func (s *Service) GetEvaluation(ctx context.Context, actor Actor, evaluationID string) (domain.Evaluation, error) {
	if err := s.authorize(ctx, actor, ActionEvaluationRead); err != nil {
		return domain.Evaluation{}, err
	}
	return s.evaluations().get(ctx, evaluationID)
}

func (s *Service) ListEvaluations(ctx context.Context, actor Actor, episodeID string, limit, offset int) ([]domain.Evaluation, error) {
	if err := s.authorize(ctx, actor, ActionEvaluationRead); err != nil {
		return nil, err
	}
	where := map[string]string{}
	if episodeID != "" {
		where["episode_id"] = episodeID
	}
	return s.evaluations().list(ctx, where, "created_at", s.clampLimit(limit), offset)
}
