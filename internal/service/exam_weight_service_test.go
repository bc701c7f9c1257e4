package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/models"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

func TestExamWeightServiceSeedDefaults(t *testing.T) {
	f := newGradingFixture(false)
	ctx := context.Background()

	inserted, err := f.weightSvc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	again, err := f.weightSvc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)

	weights, err := f.weightSvc.GetWeights(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[models.ExamType]float64{
		models.ExamTypeFinal:   0.6,
		models.ExamTypeMidTerm: 0.3,
		models.ExamTypeRegular: 0.1,
	}, weights)
}

func TestExamWeightServiceCourseRulesOverrideGlobals(t *testing.T) {
	f := newGradingFixture(true)
	ctx := context.Background()

	_, err := f.weightSvc.GetWeights(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, f.cache.has(weightsCacheKey("c1")))

	rule, err := f.weightSvc.Upsert(ctx, "", dto.ExamWeightRequest{CourseID: "c1", ExamType: "期末考试", Weight: floatPtr(0.8)})
	require.NoError(t, err)
	assert.False(t, rule.IsGlobal())
	assert.False(t, f.cache.has(weightsCacheKey("c1")))

	weights, err := f.weightSvc.GetWeights(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, weights[models.ExamTypeFinal], 1e-9)
	assert.InDelta(t, 0.3, weights[models.ExamTypeMidTerm], 1e-9)

	other, err := f.weightSvc.GetWeights(ctx, "c2")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, other[models.ExamTypeFinal], 1e-9)

	updated, err := f.weightSvc.Upsert(ctx, rule.ID, dto.ExamWeightRequest{CourseID: "c1", ExamType: "期末考试", Weight: floatPtr(0.7)})
	require.NoError(t, err)
	assert.Equal(t, rule.ID, updated.ID)
	weights, err = f.weightSvc.GetWeights(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, weights[models.ExamTypeFinal], 1e-9)

	require.NoError(t, f.weightSvc.Delete(ctx, rule.ID))
	weights, err = f.weightSvc.GetWeights(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, weights[models.ExamTypeFinal], 1e-9)
}

func TestExamWeightServiceUpsertErrors(t *testing.T) {
	f := newGradingFixture(true)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		req     dto.ExamWeightRequest
		target  *appErrors.Error
		message string
	}{
		{name: "weight above one", req: dto.ExamWeightRequest{ExamType: "期末考试", Weight: floatPtr(1.5)}, target: appErrors.ErrInvalidWeight, message: "权重必须在0-1之间"},
		{name: "negative weight", req: dto.ExamWeightRequest{ExamType: "期末考试", Weight: floatPtr(-0.1)}, target: appErrors.ErrInvalidWeight},
		{name: "missing weight", req: dto.ExamWeightRequest{ExamType: "期末考试"}, target: appErrors.ErrValidation},
		{name: "unknown exam type", req: dto.ExamWeightRequest{ExamType: "quiz", Weight: floatPtr(0.2)}, target: appErrors.ErrUnknownExamType},
		{name: "unknown course", req: dto.ExamWeightRequest{CourseID: "nope", ExamType: "期末考试", Weight: floatPtr(0.2)}, target: appErrors.ErrNotFound, message: "课程不存在"},
		{name: "unknown rule", id: "w-99", req: dto.ExamWeightRequest{ExamType: "期末考试", Weight: floatPtr(0.2)}, target: appErrors.ErrNotFound, message: "权重规则不存在"},
		{name: "duplicate global", req: dto.ExamWeightRequest{ExamType: "期末考试", Weight: floatPtr(0.2)}, target: appErrors.ErrDuplicate, message: "该考试类型的权重已存在"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.weightSvc.Upsert(ctx, tt.id, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			if tt.message != "" {
				assert.Equal(t, tt.message, appErrors.FromError(err).Message)
			}
		})
	}

	assert.ErrorIs(t, f.weightSvc.Delete(ctx, "w-99"), appErrors.ErrNotFound)
}

func TestExamWeightServiceList(t *testing.T) {
	f := newGradingFixture(true)
	ctx := context.Background()
	_, err := f.weightSvc.Upsert(ctx, "", dto.ExamWeightRequest{CourseID: "c2", ExamType: "模拟考试", Weight: floatPtr(0.2)})
	require.NoError(t, err)

	globals, err := f.weightSvc.List(ctx, models.ExamWeightFilter{GlobalOnly: true})
	require.NoError(t, err)
	assert.Len(t, globals, 3)

	course, err := f.weightSvc.List(ctx, models.ExamWeightFilter{CourseID: "c2"})
	require.NoError(t, err)
	require.Len(t, course, 1)
	assert.Equal(t, models.ExamTypeMock, course[0].ExamType)
}

func TestCacheServiceDisabledAlwaysMisses(t *testing.T) {
	repo := newMemCache()
	svc := NewCacheService(repo, nil, time.Minute, nil, false)
	require.NoError(t, svc.Set(context.Background(), "k", 1, 0))

	var out int
	hit, err := svc.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Zero(t, repo.gets)

	var nilSvc *CacheService
	hit, err = nilSvc.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, nilSvc.Invalidate(context.Background(), "*"))
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := newMemCache()
	svc := NewCacheService(repo, NewMetricsService(), time.Minute, nil, true)
	ctx := context.Background()

	var out map[string]int
	hit, err := svc.Get(ctx, "class-ranking:一班", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "class-ranking:一班", map[string]int{"s1": 1}, 0))
	hit, err = svc.Get(ctx, "class-ranking:一班", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, map[string]int{"s1": 1}, out)

	require.NoError(t, svc.Invalidate(ctx, "class-ranking:*"))
	assert.False(t, repo.has("class-ranking:一班"))
}
