package service

import (
	"context"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/models"
	"github.com/noah-isme/course-score-api/pkg/jobs"
)

// JobRecalculateAll re-ranks every exam scope and recomputes every student final score.
const JobRecalculateAll = "scores.recalculate_all"

type rankingSweeper interface {
	RecalculateAllRankings(ctx context.Context) (*dto.RecalculateRankingsResponse, error)
}

type studentFinalSweeper interface {
	CalculateAllStudentsFinalScore(ctx context.Context) (*models.RecalculationSummary, error)
}

// RecalculationResult is stored on a finished recalculation job.
type RecalculationResult struct {
	Rankings    *dto.RecalculateRankingsResponse `json:"rankings"`
	FinalScores *models.RecalculationSummary     `json:"final_scores"`
}

// NewRecalculationJobHandler returns the queue handler for JobRecalculateAll. Rankings
// run first so exported sheets are fresh before the slower final score sweep.
func NewRecalculationJobHandler(rankings rankingSweeper, finals studentFinalSweeper) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) (interface{}, error) {
		rankResult, err := rankings.RecalculateAllRankings(ctx)
		if err != nil {
			return nil, err
		}
		summary, err := finals.CalculateAllStudentsFinalScore(ctx)
		if err != nil {
			return nil, err
		}
		return RecalculationResult{Rankings: rankResult, FinalScores: summary}, nil
	}
}
