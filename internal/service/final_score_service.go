package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-score-api/internal/models"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

type finalScoreRepo interface {
	UpsertCourse(ctx context.Context, final *models.CourseFinalScore) error
	DeleteCourse(ctx context.Context, studentID, courseID string) error
	ListCourseByStudent(ctx context.Context, studentID string) (map[string]models.CourseFinalScore, error)
	UpsertStudent(ctx context.Context, final *models.StudentFinalScore) error
}

type finalScoreSource interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Score, error)
	ListByStudentAndCourse(ctx context.Context, studentID, courseID string) ([]models.Score, error)
	LatestUpdateByCourse(ctx context.Context, studentID string) (map[string]time.Time, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByNum(ctx context.Context, num string) (*models.Student, error)
	ListAll(ctx context.Context) ([]models.Student, error)
}

type weightProvider interface {
	GetWeights(ctx context.Context, courseID string) (map[models.ExamType]float64, error)
	AnyConfigured(ctx context.Context) (bool, error)
}

type classRankingInvalidator interface {
	InvalidateClassRanking(ctx context.Context, className string)
}

// FinalScoreService aggregates raw marks into course and student final scores.
type FinalScoreService struct {
	scores   finalScoreSource
	finals   finalScoreRepo
	courses  courseReader
	students studentReader
	weights  weightProvider
	rankings classRankingInvalidator
	locker   *scopeLocker
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewFinalScoreService constructs FinalScoreService.
func NewFinalScoreService(scores finalScoreSource, finals finalScoreRepo, courses courseReader, students studentReader, weights weightProvider, rankings classRankingInvalidator, metrics *MetricsService, logger *zap.Logger) *FinalScoreService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FinalScoreService{
		scores:   scores,
		finals:   finals,
		courses:  courses,
		students: students,
		weights:  weights,
		rankings: rankings,
		locker:   newScopeLocker(),
		metrics:  metrics,
		logger:   logger,
	}
}

// CalculateCourseFinalScore recomputes and stores the final score of a student in a course.
func (s *FinalScoreService) CalculateCourseFinalScore(ctx context.Context, studentID, courseID string) (float64, error) {
	if strings.TrimSpace(studentID) == "" || strings.TrimSpace(courseID) == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "student_id and course_id are required")
	}
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		return 0, notFoundOrInternal(err, "学生不存在", "failed to load student")
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		return 0, notFoundOrInternal(err, "课程不存在", "failed to load course")
	}
	return s.computeCourseFinal(ctx, studentID, courseID)
}

func (s *FinalScoreService) computeCourseFinal(ctx context.Context, studentID, courseID string) (float64, error) {
	unlock := s.locker.Lock(courseFinalKey(studentID, courseID))
	defer unlock()
	start := time.Now()
	defer func() { s.metrics.ObserveRecompute("course_final", time.Since(start)) }()

	scores, err := s.scores.ListByStudentAndCourse(ctx, studentID, courseID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to load scores")
	}
	if len(scores) == 0 {
		// no marks left: drop the stored row so it cannot outlive its scores
		if err := s.finals.DeleteCourse(ctx, studentID, courseID); err != nil {
			return 0, appErrors.Internal(err, "failed to remove course final score")
		}
		s.warn(WarningNoScores, "course has no scores, final removed",
			zap.String("student_id", studentID), zap.String("course_id", courseID))
		return 0, nil
	}
	weights, err := s.weights.GetWeights(ctx, courseID)
	if err != nil {
		return 0, err
	}
	configured := len(weights) > 0
	if !configured {
		if configured, err = s.weights.AnyConfigured(ctx); err != nil {
			return 0, err
		}
	}

	value, warning := weightedCourseScore(scores, weights, configured)
	if warning != "" {
		s.warn(warning, "course final score substituted",
			zap.String("student_id", studentID), zap.String("course_id", courseID), zap.Float64("value", value))
	}

	if err := s.finals.UpsertCourse(ctx, &models.CourseFinalScore{StudentID: studentID, CourseID: courseID, Value: value}); err != nil {
		return 0, appErrors.Internal(err, "failed to store course final score")
	}
	return value, nil
}

// weightedCourseScore reduces raw marks to one value in [0,100]. The fallback weights
// apply only when no rule is configured anywhere. The second result names the
// computation warning, if any.
func weightedCourseScore(scores []models.Score, weights map[models.ExamType]float64, configured bool) (float64, string) {
	if len(scores) == 0 {
		return 0, WarningNoScores
	}

	type group struct {
		sum   float64
		count int
	}
	groups := make(map[models.ExamType]*group)
	for _, sc := range scores {
		if !models.ValidMark(float64(sc.Mark)) {
			continue
		}
		g, ok := groups[sc.ExamType]
		if !ok {
			g = &group{}
			groups[sc.ExamType] = g
		}
		g.sum += float64(sc.Mark)
		g.count++
	}
	means := make(map[models.ExamType]float64, len(groups))
	for t, g := range groups {
		means[t] = g.sum / float64(g.count)
	}

	if len(weights) == 0 && !configured {
		var total float64
		for _, t := range models.ExamTypes {
			w, ok := t.FallbackWeight()
			if !ok {
				continue
			}
			total += means[t] * w
		}
		return roundScore(models.ClampMark(total)), WarningFallbackWeights
	}

	var weighted, totalWeight float64
	for t, mean := range means {
		w, ok := weights[t]
		if !ok || w <= 0 {
			continue
		}
		weighted += mean * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0, WarningZeroTotalWeight
	}
	return roundScore(models.ClampMark(weighted / totalWeight)), ""
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

// CalculateStudentFinalScore aggregates the course finals of a student weighted by credit.
func (s *FinalScoreService) CalculateStudentFinalScore(ctx context.Context, studentID string) (float64, error) {
	if strings.TrimSpace(studentID) == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return 0, notFoundOrInternal(err, "学生不存在", "failed to load student")
	}
	return s.computeStudentFinal(ctx, student, false)
}

func (s *FinalScoreService) computeStudentFinal(ctx context.Context, student *models.Student, force bool) (float64, error) {
	unlock := s.locker.Lock(studentFinalKey(student.ID))
	defer unlock()
	start := time.Now()
	defer func() { s.metrics.ObserveRecompute("student_final", time.Since(start)) }()

	latest, err := s.scores.LatestUpdateByCourse(ctx, student.ID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to load student scores")
	}
	cached := map[string]models.CourseFinalScore{}
	if !force {
		cached, err = s.finals.ListCourseByStudent(ctx, student.ID)
		if err != nil {
			return 0, appErrors.Internal(err, "failed to load course final scores")
		}
	}

	var weighted float64
	var totalCredit int
	for courseID, changedAt := range latest {
		course, err := s.courses.FindByID(ctx, courseID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.warn(WarningMissingCourse, "course missing, skipped", zap.String("student_id", student.ID), zap.String("course_id", courseID))
				continue
			}
			s.warn(WarningCourseFailed, "course lookup failed, skipped", zap.String("course_id", courseID), zap.Error(err))
			continue
		}

		value, err := s.courseFinalFor(ctx, student.ID, courseID, changedAt, cached)
		if err != nil {
			s.warn(WarningCourseFailed, "course final score failed, skipped",
				zap.String("student_id", student.ID), zap.String("course_id", courseID), zap.Error(err))
			continue
		}

		credit, ok := course.EffectiveCredit()
		if !ok {
			s.warn(WarningInvalidCredit, "course credit missing or not positive, using 1", zap.String("course_id", courseID))
		}
		weighted += value * float64(credit)
		totalCredit += credit
	}

	var overall float64
	if totalCredit > 0 {
		overall = roundScore(models.ClampMark(weighted / float64(totalCredit)))
	} else {
		s.warn(WarningNoScores, "student has no valid course scores", zap.String("student_id", student.ID))
	}

	if err := s.finals.UpsertStudent(ctx, &models.StudentFinalScore{StudentID: student.ID, Value: overall}); err != nil {
		return 0, appErrors.Internal(err, "failed to store student final score")
	}
	if s.rankings != nil {
		s.rankings.InvalidateClassRanking(ctx, student.ClassName)
	}
	return overall, nil
}

// courseFinalFor reuses a cached course final unless it was flagged stale by a
// weight change or a raw score changed after it.
func (s *FinalScoreService) courseFinalFor(ctx context.Context, studentID, courseID string, changedAt time.Time, cached map[string]models.CourseFinalScore) (float64, error) {
	if final, ok := cached[courseID]; ok && !final.Stale && !final.CalculatedAt.Before(changedAt) {
		return final.Value, nil
	}
	return s.computeCourseFinal(ctx, studentID, courseID)
}

// CalculateAllStudentsFinalScore recomputes every student from raw marks. Failures
// are isolated per student.
func (s *FinalScoreService) CalculateAllStudentsFinalScore(ctx context.Context) (*models.RecalculationSummary, error) {
	students, err := s.students.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list students")
	}

	summary := &models.RecalculationSummary{Total: len(students)}
	for i := range students {
		if err := ctx.Err(); err != nil {
			return summary, appErrors.Internal(err, "recalculation interrupted")
		}
		if _, err := s.computeStudentFinal(ctx, &students[i], true); err != nil {
			s.logger.Error("student final score failed", zap.String("student_id", students[i].ID), zap.Error(err))
			summary.Failed++
			summary.FailedIDs = append(summary.FailedIDs, students[i].ID)
			continue
		}
		summary.Succeeded++
	}
	s.logger.Info("student final scores recalculated",
		zap.Int("total", summary.Total), zap.Int("succeeded", summary.Succeeded), zap.Int("failed", summary.Failed))
	return summary, nil
}

func (s *FinalScoreService) warn(kind, msg string, fields ...zap.Field) {
	s.metrics.RecordComputationWarning(kind)
	s.logger.Warn(msg, append(fields, zap.String("warning", kind))...)
}

func notFoundOrInternal(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Internal(err, internal)
}
