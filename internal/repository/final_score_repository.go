package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-score-api/internal/models"
)

// FinalScoreRepository persists course and student aggregates.
type FinalScoreRepository struct {
	db *sqlx.DB
}

// NewFinalScoreRepository constructs repository.
func NewFinalScoreRepository(db *sqlx.DB) *FinalScoreRepository {
	return &FinalScoreRepository{db: db}
}

// UpsertCourse stores a course final score.
func (r *FinalScoreRepository) UpsertCourse(ctx context.Context, final *models.CourseFinalScore) error {
	if final.CalculatedAt.IsZero() {
		final.CalculatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO course_final_scores (student_id, course_id, value, calculated_at)
        VALUES (:student_id, :course_id, :value, :calculated_at)
        ON CONFLICT (student_id, course_id)
        DO UPDATE SET value = EXCLUDED.value, calculated_at = EXCLUDED.calculated_at, stale = FALSE`
	if _, err := r.db.NamedExecContext(ctx, query, final); err != nil {
		return fmt.Errorf("upsert course final score: %w", err)
	}
	final.Stale = false
	return nil
}

// DeleteCourse removes the course final of a student. Missing rows are not an error.
func (r *FinalScoreRepository) DeleteCourse(ctx context.Context, studentID, courseID string) error {
	const query = `DELETE FROM course_final_scores WHERE student_id = $1 AND course_id = $2`
	if _, err := r.db.ExecContext(ctx, query, studentID, courseID); err != nil {
		return fmt.Errorf("delete course final score: %w", err)
	}
	return nil
}

// MarkCourseStale flags the stored course finals of courseID for recompute. An
// empty courseID flags every course.
func (r *FinalScoreRepository) MarkCourseStale(ctx context.Context, courseID string) (int64, error) {
	query := `UPDATE course_final_scores SET stale = TRUE WHERE stale = FALSE`
	var args []interface{}
	if courseID != "" {
		query += ` AND course_id = $1`
		args = append(args, courseID)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark course final scores stale: %w", err)
	}
	return res.RowsAffected()
}

// ListCourseByStudent returns the cached course finals of a student keyed by course.
func (r *FinalScoreRepository) ListCourseByStudent(ctx context.Context, studentID string) (map[string]models.CourseFinalScore, error) {
	const query = `SELECT student_id, course_id, value, calculated_at, stale FROM course_final_scores WHERE student_id = $1`
	var finals []models.CourseFinalScore
	if err := r.db.SelectContext(ctx, &finals, query, studentID); err != nil {
		return nil, fmt.Errorf("list course final scores: %w", err)
	}
	result := make(map[string]models.CourseFinalScore, len(finals))
	for _, final := range finals {
		result[final.CourseID] = final
	}
	return result, nil
}

// UpsertStudent stores a student final score.
func (r *FinalScoreRepository) UpsertStudent(ctx context.Context, final *models.StudentFinalScore) error {
	if final.CalculatedAt.IsZero() {
		final.CalculatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO student_final_scores (student_id, value, calculated_at)
        VALUES (:student_id, :value, :calculated_at)
        ON CONFLICT (student_id)
        DO UPDATE SET value = EXCLUDED.value, calculated_at = EXCLUDED.calculated_at`
	if _, err := r.db.NamedExecContext(ctx, query, final); err != nil {
		return fmt.Errorf("upsert student final score: %w", err)
	}
	return nil
}

// FindStudent loads a cached student final score.
func (r *FinalScoreRepository) FindStudent(ctx context.Context, studentID string) (*models.StudentFinalScore, error) {
	const query = `SELECT student_id, value, calculated_at FROM student_final_scores WHERE student_id = $1`
	var final models.StudentFinalScore
	if err := r.db.GetContext(ctx, &final, query, studentID); err != nil {
		return nil, err
	}
	return &final, nil
}

// ListStudentByClass returns the cached student finals of a class.
func (r *FinalScoreRepository) ListStudentByClass(ctx context.Context, className string) ([]models.RankingEntry, error) {
	const query = `SELECT st.id AS student_id, st.num AS student_num, st.name AS student_name, sf.value, 0 AS rank
        FROM student_final_scores sf
        JOIN students st ON st.id = sf.student_id
        WHERE st.class_name = $1
        ORDER BY sf.value DESC, st.id`
	var rows []models.RankingEntry
	if err := r.db.SelectContext(ctx, &rows, query, className); err != nil {
		return nil, fmt.Errorf("list class final scores: %w", err)
	}
	return rows, nil
}
