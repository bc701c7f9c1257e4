package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/models"
	"github.com/noah-isme/course-score-api/internal/repository"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

type scoreRepo interface {
	List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, int, error)
	FindByID(ctx context.Context, id string) (*models.Score, error)
	Exists(ctx context.Context, studentID, courseID string, examType models.ExamType, excludeID string) (bool, error)
	Create(ctx context.Context, score *models.Score) error
	Update(ctx context.Context, score *models.Score) error
	Delete(ctx context.Context, id string) error
}

type rankingCalculator interface {
	CalculateRanking(ctx context.Context, courseID string, examType models.ExamType) (map[string]int, error)
}

type finalScoreCalculator interface {
	CalculateCourseFinalScore(ctx context.Context, studentID, courseID string) (float64, error)
	CalculateStudentFinalScore(ctx context.Context, studentID string) (float64, error)
}

// ScoreServiceConfig bounds bulk imports.
type ScoreServiceConfig struct {
	ImportWorkers int
	MaxImportRows int
}

// ScoreService owns raw score writes and keeps rankings and final scores in step.
type ScoreService struct {
	scores    scoreRepo
	students  studentReader
	courses   courseReader
	rankings  rankingCalculator
	finals    finalScoreCalculator
	cfg       ScoreServiceConfig
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewScoreService constructs ScoreService.
func NewScoreService(scores scoreRepo, students studentReader, courses courseReader, rankings rankingCalculator, finals finalScoreCalculator, cfg ScoreServiceConfig, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *ScoreService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ImportWorkers <= 0 {
		cfg.ImportWorkers = 4
	}
	if cfg.MaxImportRows <= 0 {
		cfg.MaxImportRows = 5000
	}
	return &ScoreService{
		scores:    scores,
		students:  students,
		courses:   courses,
		rankings:  rankings,
		finals:    finals,
		cfg:       cfg,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
	}
}

// List returns a page of raw scores.
func (s *ScoreService) List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, *models.Pagination, error) {
	if filter.ExamType != "" && !filter.ExamType.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrUnknownExamType, "考试类型无效")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 20
	}
	scores, total, err := s.scores.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list scores")
	}
	return scores, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one raw score.
func (s *ScoreService) Get(ctx context.Context, id string) (*models.Score, error) {
	score, err := s.scores.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOrInternal(err, "成绩不存在", "failed to load score")
	}
	return score, nil
}

// Create stores a new raw score and recomputes its ranking and final scores.
func (s *ScoreService) Create(ctx context.Context, req dto.ScoreRequest) (*models.Score, error) {
	score, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	exists, err := s.scores.Exists(ctx, score.StudentID, score.CourseID, score.ExamType, "")
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check score uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "成绩已存在")
	}

	if err := s.scores.Create(ctx, score); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "成绩已存在")
		}
		return nil, appErrors.Internal(err, "failed to create score")
	}

	s.recompute(ctx, newRecomputePlan().add(*score))
	return s.reload(ctx, score), nil
}

// Update replaces a raw score and recomputes both its previous and its new scope.
func (s *ScoreService) Update(ctx context.Context, id string, req dto.ScoreRequest) (*models.Score, error) {
	existing, err := s.scores.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOrInternal(err, "成绩不存在", "failed to load score")
	}
	next, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	previous := *existing
	rekeyed := previous.StudentID != next.StudentID || previous.CourseID != next.CourseID || previous.ExamType != next.ExamType
	if rekeyed {
		exists, err := s.scores.Exists(ctx, next.StudentID, next.CourseID, next.ExamType, id)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check score uniqueness")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "成绩已存在")
		}
		existing.Rank = nil
	}

	existing.StudentID = next.StudentID
	existing.CourseID = next.CourseID
	existing.ExamType = next.ExamType
	existing.Mark = next.Mark
	if err := s.scores.Update(ctx, existing); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateKey):
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "成绩已存在")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "成绩不存在")
		}
		return nil, appErrors.Internal(err, "failed to update score")
	}

	s.recompute(ctx, newRecomputePlan().add(previous).add(*existing))
	return s.reload(ctx, existing), nil
}

// Delete removes a raw score and recomputes what depended on it.
func (s *ScoreService) Delete(ctx context.Context, id string) error {
	existing, err := s.scores.FindByID(ctx, id)
	if err != nil {
		return notFoundOrInternal(err, "成绩不存在", "failed to load score")
	}
	if err := s.scores.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "成绩不存在")
		}
		return appErrors.Internal(err, "failed to delete score")
	}
	s.recompute(ctx, newRecomputePlan().add(*existing))
	return nil
}

func (s *ScoreService) validate(ctx context.Context, req dto.ScoreRequest) (*models.Score, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "数据不完整")
	}
	if !models.ValidMark(float64(*req.Mark)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "分数必须在0-100之间")
	}
	examType, err := models.ParseExamType(req.ExamType)
	if err != nil {
		return nil, err
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		return nil, notFoundOrInternal(err, "学生不存在", "failed to load student")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		return nil, notFoundOrInternal(err, "课程不存在", "failed to load course")
	}
	return &models.Score{StudentID: req.StudentID, CourseID: req.CourseID, ExamType: examType, Mark: *req.Mark}, nil
}

// reload returns the stored score so the persisted rank is visible to the caller.
func (s *ScoreService) reload(ctx context.Context, score *models.Score) *models.Score {
	fresh, err := s.scores.FindByID(ctx, score.ID)
	if err != nil {
		return score
	}
	return fresh
}

// recomputePlan collects the derived values touched by a set of raw writes, each once.
type recomputePlan struct {
	scopes   []models.ScoreScope
	pairs    [][2]string
	students []string

	seenScopes   map[models.ScoreScope]struct{}
	seenPairs    map[[2]string]struct{}
	seenStudents map[string]struct{}
}

func newRecomputePlan() *recomputePlan {
	return &recomputePlan{
		seenScopes:   make(map[models.ScoreScope]struct{}),
		seenPairs:    make(map[[2]string]struct{}),
		seenStudents: make(map[string]struct{}),
	}
}

func (p *recomputePlan) add(score models.Score) *recomputePlan {
	p.addScope(models.ScoreScope{CourseID: score.CourseID, ExamType: score.ExamType})
	p.addFinals(score.StudentID, score.CourseID)
	return p
}

func (p *recomputePlan) addScope(scope models.ScoreScope) {
	if _, ok := p.seenScopes[scope]; !ok {
		p.seenScopes[scope] = struct{}{}
		p.scopes = append(p.scopes, scope)
	}
}

func (p *recomputePlan) addFinals(studentID, courseID string) {
	pair := [2]string{studentID, courseID}
	if _, ok := p.seenPairs[pair]; !ok {
		p.seenPairs[pair] = struct{}{}
		p.pairs = append(p.pairs, pair)
	}
	if _, ok := p.seenStudents[studentID]; !ok {
		p.seenStudents[studentID] = struct{}{}
		p.students = append(p.students, studentID)
	}
}

func (p *recomputePlan) sorted() *recomputePlan {
	sort.Slice(p.scopes, func(i, j int) bool {
		if p.scopes[i].CourseID != p.scopes[j].CourseID {
			return p.scopes[i].CourseID < p.scopes[j].CourseID
		}
		return p.scopes[i].ExamType < p.scopes[j].ExamType
	})
	sort.Slice(p.pairs, func(i, j int) bool {
		if p.pairs[i][0] != p.pairs[j][0] {
			return p.pairs[i][0] < p.pairs[j][0]
		}
		return p.pairs[i][1] < p.pairs[j][1]
	})
	sort.Strings(p.students)
	return p
}

// recompute runs rankings, then course finals, then student finals. Failures are
// logged and never undo the raw write.
func (s *ScoreService) recompute(ctx context.Context, plan *recomputePlan) {
	for _, scope := range plan.scopes {
		s.recomputeRanking(ctx, scope)
	}
	s.recomputeFinals(ctx, plan)
}

func (s *ScoreService) recomputeRanking(ctx context.Context, scope models.ScoreScope) {
	if _, err := s.rankings.CalculateRanking(ctx, scope.CourseID, scope.ExamType); err != nil {
		s.metrics.RecordComputationWarning(WarningRecomputeFailed)
		s.logger.Error("ranking recompute failed",
			zap.String("course_id", scope.CourseID), zap.String("exam_type", string(scope.ExamType)), zap.Error(err))
	}
}

func (s *ScoreService) recomputeFinals(ctx context.Context, plan *recomputePlan) {
	for _, pair := range plan.pairs {
		if _, err := s.finals.CalculateCourseFinalScore(ctx, pair[0], pair[1]); err != nil {
			s.metrics.RecordComputationWarning(WarningRecomputeFailed)
			s.logger.Error("course final score recompute failed",
				zap.String("student_id", pair[0]), zap.String("course_id", pair[1]), zap.Error(err))
		}
	}
	for _, studentID := range plan.students {
		if _, err := s.finals.CalculateStudentFinalScore(ctx, studentID); err != nil {
			s.metrics.RecordComputationWarning(WarningRecomputeFailed)
			s.logger.Error("student final score recompute failed", zap.String("student_id", studentID), zap.Error(err))
		}
	}
}
