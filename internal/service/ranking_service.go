package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/models"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

type rankingScoreRepo interface {
	ListByCourseAndExamType(ctx context.Context, courseID string, examType models.ExamType) ([]models.Score, error)
	DistinctCourseExamTypes(ctx context.Context) ([]models.ScoreScope, error)
	UpdateRanks(ctx context.Context, ranks []models.ScoreRank) error
}

type classFinalReader interface {
	ListStudentByClass(ctx context.Context, className string) ([]models.RankingEntry, error)
}

// RankEntries assigns standard competition ranks: equal scores share a rank and the
// next distinct score skips the tied positions. Ties are ordered by id so the result
// does not depend on input order.
func RankEntries(entries []models.ScoredEntity) map[string]int {
	ranks := make(map[string]int, len(entries))
	if len(entries) == 0 {
		return ranks
	}

	sorted := make([]models.ScoredEntity, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})

	current := 0
	for i, entry := range sorted {
		if i == 0 || entry.Score != sorted[i-1].Score {
			current = i + 1
		}
		ranks[entry.ID] = current
	}
	return ranks
}

// RankingService computes exam rankings over raw marks and class rankings over
// student final scores.
type RankingService struct {
	scores   rankingScoreRepo
	finals   classFinalReader
	cache    *CacheService
	classTTL time.Duration
	locker   *scopeLocker
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewRankingService constructs RankingService.
func NewRankingService(scores rankingScoreRepo, finals classFinalReader, cache *CacheService, classTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *RankingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingService{
		scores:   scores,
		finals:   finals,
		cache:    cache,
		classTTL: classTTL,
		locker:   newScopeLocker(),
		metrics:  metrics,
		logger:   logger,
	}
}

// CalculateRanking ranks every raw mark of (courseID, examType), persists the ranks
// and returns them keyed by student.
func (s *RankingService) CalculateRanking(ctx context.Context, courseID string, examType models.ExamType) (map[string]int, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course_id is required")
	}
	if !examType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrUnknownExamType, "考试类型无效")
	}

	unlock := s.locker.Lock(rankingKey(courseID, examType))
	defer unlock()
	start := time.Now()
	defer func() { s.metrics.ObserveRecompute("ranking", time.Since(start)) }()

	scores, err := s.scores.ListByCourseAndExamType(ctx, courseID, examType)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load scores for ranking")
	}

	entries := make([]models.ScoredEntity, len(scores))
	for i, sc := range scores {
		entries[i] = models.ScoredEntity{ID: sc.StudentID, Score: float64(sc.Mark)}
	}
	ranks := RankEntries(entries)

	var changed []models.ScoreRank
	for _, sc := range scores {
		rank := ranks[sc.StudentID]
		if sc.Rank != nil && *sc.Rank == rank {
			continue
		}
		changed = append(changed, models.ScoreRank{ScoreID: sc.ID, Rank: rank})
	}
	if err := s.scores.UpdateRanks(ctx, changed); err != nil {
		return nil, appErrors.Internal(err, "failed to persist ranking")
	}

	s.logger.Debug("ranking calculated",
		zap.String("course_id", courseID), zap.String("exam_type", string(examType)),
		zap.Int("entries", len(scores)), zap.Int("changed", len(changed)))
	return ranks, nil
}

// RecalculateAllRankings re-ranks every scope that holds scores. A failing scope is
// reported and does not stop the sweep.
func (s *RankingService) RecalculateAllRankings(ctx context.Context) (*dto.RecalculateRankingsResponse, error) {
	scopes, err := s.scores.DistinctCourseExamTypes(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list ranking scopes")
	}

	result := &dto.RecalculateRankingsResponse{Scopes: len(scopes)}
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return result, appErrors.Internal(err, "ranking sweep interrupted")
		}
		if _, err := s.CalculateRanking(ctx, scope.CourseID, scope.ExamType); err != nil {
			s.logger.Error("ranking recalculation failed",
				zap.String("course_id", scope.CourseID), zap.String("exam_type", string(scope.ExamType)), zap.Error(err))
			result.Failed = append(result.Failed, scope)
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// CalculateClassRanking ranks the students of className by their cached final score.
// Course scores are never recomputed here.
func (s *RankingService) CalculateClassRanking(ctx context.Context, className string) (map[string]int, error) {
	className = strings.TrimSpace(className)
	if className == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class name is required")
	}

	key := classRankingCacheKey(className)
	var cached map[string]int
	if hit, _ := s.cache.Get(ctx, key, &cached); hit && cached != nil {
		return cached, nil
	}

	rows, err := s.finals.ListStudentByClass(ctx, className)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load class final scores")
	}
	entries := make([]models.ScoredEntity, len(rows))
	for i, row := range rows {
		entries[i] = models.ScoredEntity{ID: row.StudentID, Score: row.Value}
	}
	ranks := RankEntries(entries)

	_ = s.cache.Set(ctx, key, ranks, s.classTTL)
	return ranks, nil
}

// InvalidateClassRanking drops the cached ranking of className.
func (s *RankingService) InvalidateClassRanking(ctx context.Context, className string) {
	if className == "" {
		return
	}
	_ = s.cache.Delete(ctx, classRankingCacheKey(className))
}
