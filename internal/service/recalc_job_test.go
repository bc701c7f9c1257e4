package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-score-api/internal/models"
	"github.com/noah-isme/course-score-api/pkg/jobs"
)

func TestRecalculationJobRepairsDerivedValues(t *testing.T) {
	f := newGradingFixture(true)
	ctx := context.Background()
	score, err := f.scoreSvc.Create(ctx, scoreReq("s1", "c1", models.ExamTypeFinal, 40))
	require.NoError(t, err)
	_, err = f.scoreSvc.Create(ctx, scoreReq("s2", "c1", models.ExamTypeFinal, 60))
	require.NoError(t, err)

	f.scores.setMark(score.ID, 95)

	queue := jobs.NewQueue("recalc", NewRecalculationJobHandler(f.rankingSvc, f.finalSvc), jobs.QueueConfig{Workers: 1})
	queue.Start(ctx)
	defer queue.Stop()

	rec, err := queue.Submit(JobRecalculateAll, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, ok := queue.Status(rec.ID)
		return ok && current.Status == jobs.StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	current, _ := queue.Status(rec.ID)
	result, ok := current.Result.(RecalculationResult)
	require.True(t, ok)
	assert.Equal(t, 1, result.Rankings.Succeeded)
	assert.Equal(t, 3, result.FinalScores.Succeeded)

	assert.Equal(t, 1, *f.scores.rankOf(score.ID))
	overall, _ := f.finals.studentValue("s1")
	assert.InDelta(t, 95, overall, 1e-9)
}
