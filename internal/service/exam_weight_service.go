package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/models"
	"github.com/noah-isme/course-score-api/internal/repository"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

type examWeightRepo interface {
	List(ctx context.Context, filter models.ExamWeightFilter) ([]models.ExamWeight, error)
	ListEffective(ctx context.Context, courseID string) ([]models.ExamWeight, error)
	FindByID(ctx context.Context, id string) (*models.ExamWeight, error)
	ExistsForKey(ctx context.Context, courseID *string, examType models.ExamType, excludeID string) (bool, error)
	CountGlobal(ctx context.Context) (int, error)
	CountAll(ctx context.Context) (int, error)
	Create(ctx context.Context, weight *models.ExamWeight) error
	Update(ctx context.Context, weight *models.ExamWeight) error
	Delete(ctx context.Context, id string) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByNum(ctx context.Context, num string) (*models.Course, error)
}

type courseFinalStaler interface {
	MarkCourseStale(ctx context.Context, courseID string) (int64, error)
}

// ExamWeightService manages weight rules and resolves the effective weights of a course.
type ExamWeightService struct {
	repo      examWeightRepo
	courses   courseReader
	finals    courseFinalStaler
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewExamWeightService constructs ExamWeightService.
// finals may be nil, in which case stored course finals are not flagged on rule changes.
func NewExamWeightService(repo examWeightRepo, courses courseReader, finals courseFinalStaler, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *ExamWeightService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExamWeightService{repo: repo, courses: courses, finals: finals, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// GetWeights returns global defaults overlaid by the rules of courseID. Exam types
// without any rule are absent, and an empty map means nothing is configured.
func (s *ExamWeightService) GetWeights(ctx context.Context, courseID string) (map[models.ExamType]float64, error) {
	key := weightsCacheKey(courseID)
	var cached map[models.ExamType]float64
	if hit, _ := s.cache.Get(ctx, key, &cached); hit && cached != nil {
		return cached, nil
	}

	rules, err := s.repo.ListEffective(ctx, courseID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load exam weights")
	}

	weights := make(map[models.ExamType]float64, len(rules))
	for _, rule := range rules {
		if rule.IsGlobal() {
			weights[rule.ExamType] = rule.Weight
		}
	}
	for _, rule := range rules {
		if !rule.IsGlobal() && *rule.CourseID == courseID {
			weights[rule.ExamType] = rule.Weight
		}
	}

	_ = s.cache.Set(ctx, key, weights, s.cacheTTL)
	return weights, nil
}

// AnyConfigured reports whether at least one rule exists for any course or globally.
func (s *ExamWeightService) AnyConfigured(ctx context.Context) (bool, error) {
	n, err := s.repo.CountAll(ctx)
	if err != nil {
		return false, appErrors.Internal(err, "failed to count exam weights")
	}
	return n > 0, nil
}

// List returns weight rules matching filter.
func (s *ExamWeightService) List(ctx context.Context, filter models.ExamWeightFilter) ([]models.ExamWeight, error) {
	weights, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list exam weights")
	}
	return weights, nil
}

// Upsert creates a rule when id is empty and updates rule id otherwise.
func (s *ExamWeightService) Upsert(ctx context.Context, id string, req dto.ExamWeightRequest) (*models.ExamWeight, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exam weight payload")
	}
	if *req.Weight < 0 || *req.Weight > 1 {
		return nil, appErrors.Clone(appErrors.ErrInvalidWeight, "权重必须在0-1之间")
	}
	examType, err := models.ParseExamType(req.ExamType)
	if err != nil {
		return nil, err
	}

	var courseID *string
	if trimmed := strings.TrimSpace(req.CourseID); trimmed != "" {
		if _, err := s.courses.FindByID(ctx, trimmed); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "课程不存在")
			}
			return nil, appErrors.Internal(err, "failed to load course")
		}
		courseID = &trimmed
	}

	var weight *models.ExamWeight
	var previousCourse *string
	if id != "" {
		weight, err = s.repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "权重规则不存在")
			}
			return nil, appErrors.Internal(err, "failed to load exam weight")
		}
		previousCourse = weight.CourseID
	}

	exists, err := s.repo.ExistsForKey(ctx, courseID, examType, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check exam weight uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "该考试类型的权重已存在")
	}

	if weight == nil {
		weight = &models.ExamWeight{}
	}
	weight.CourseID = courseID
	weight.ExamType = examType
	weight.Weight = *req.Weight
	weight.Description = req.Description

	if id == "" {
		err = s.repo.Create(ctx, weight)
	} else {
		err = s.repo.Update(ctx, weight)
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateKey):
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "该考试类型的权重已存在")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "权重规则不存在")
		}
		return nil, appErrors.Internal(err, "failed to save exam weight")
	}

	s.invalidate(ctx)
	s.markStale(ctx, courseID)
	if id != "" && !sameCourse(previousCourse, courseID) {
		s.markStale(ctx, previousCourse)
	}
	s.logger.Info("exam weight saved",
		zap.String("id", weight.ID), zap.String("exam_type", string(examType)), zap.Float64("weight", weight.Weight), zap.Bool("global", weight.IsGlobal()))
	return weight, nil
}

// Delete removes a rule. Stored course finals it affected are flagged stale and
// recomputed on their next read.
func (s *ExamWeightService) Delete(ctx context.Context, id string) error {
	rule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "权重规则不存在")
		}
		return appErrors.Internal(err, "failed to load exam weight")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "权重规则不存在")
		}
		return appErrors.Internal(err, "failed to delete exam weight")
	}
	s.invalidate(ctx)
	s.markStale(ctx, rule.CourseID)
	return nil
}

// SeedDefaults inserts the default global rules when no global rule exists yet and
// returns how many were written.
func (s *ExamWeightService) SeedDefaults(ctx context.Context) (int, error) {
	count, err := s.repo.CountGlobal(ctx)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to count global exam weights")
	}
	if count > 0 {
		return 0, nil
	}

	inserted := 0
	for _, examType := range models.ExamTypes {
		value, ok := models.DefaultGlobalWeights()[examType]
		if !ok {
			continue
		}
		rule := &models.ExamWeight{ExamType: examType, Weight: value, Description: "默认权重"}
		if err := s.repo.Create(ctx, rule); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				continue
			}
			return inserted, appErrors.Internal(err, "failed to seed exam weights")
		}
		inserted++
	}
	if inserted > 0 {
		s.invalidate(ctx)
		s.markStale(ctx, nil)
		s.logger.Info("default exam weights seeded", zap.Int("count", inserted))
	}
	return inserted, nil
}

func (s *ExamWeightService) invalidate(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, weightsCacheKey("*"))
}

// markStale flags the stored course finals a rule change affects. A nil courseID
// is a global rule and affects every course.
func (s *ExamWeightService) markStale(ctx context.Context, courseID *string) {
	if s.finals == nil {
		return
	}
	target := ""
	if courseID != nil {
		target = *courseID
	}
	n, err := s.finals.MarkCourseStale(ctx, target)
	if err != nil {
		s.logger.Warn("failed to flag course final scores stale", zap.String("course_id", target), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("course final scores flagged stale", zap.String("course_id", target), zap.Int64("count", n))
	}
}

func sameCourse(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
