package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-score-api/internal/models"
)

const scoreColumns = "id, student_id, course_id, exam_type, mark, rank, created_at, updated_at"

// ScoreRepository persists raw scores.
type ScoreRepository struct {
	db *sqlx.DB
}

// NewScoreRepository creates a new score repository.
func NewScoreRepository(db *sqlx.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// List returns a page of scores matching the filter and the total count.
func (r *ScoreRepository) List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.CourseID != "" {
		args = append(args, filter.CourseID)
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)))
	}
	if filter.ExamType != "" {
		args = append(args, filter.ExamType)
		conditions = append(conditions, fmt.Sprintf("exam_type = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}

	query := fmt.Sprintf("SELECT %s FROM scores WHERE %s ORDER BY updated_at DESC, id LIMIT %d OFFSET %d", scoreColumns, where, size, (page-1)*size)
	var scores []models.Score
	if err := r.db.SelectContext(ctx, &scores, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list scores: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) FROM scores WHERE %s", where), args...); err != nil {
		return nil, 0, fmt.Errorf("count scores: %w", err)
	}
	return scores, total, nil
}

// FindByID loads a score by its identifier.
func (r *ScoreRepository) FindByID(ctx context.Context, id string) (*models.Score, error) {
	query := fmt.Sprintf("SELECT %s FROM scores WHERE id = $1", scoreColumns)
	var score models.Score
	if err := r.db.GetContext(ctx, &score, query, id); err != nil {
		return nil, err
	}
	return &score, nil
}

// Exists reports whether a score exists for the key, optionally ignoring excludeID.
func (r *ScoreRepository) Exists(ctx context.Context, studentID, courseID string, examType models.ExamType, excludeID string) (bool, error) {
	query := "SELECT 1 FROM scores WHERE student_id = $1 AND course_id = $2 AND exam_type = $3"
	args := []interface{}{studentID, courseID, examType}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var marker int
	if err := r.db.GetContext(ctx, &marker, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check score exists: %w", err)
	}
	return true, nil
}

// Create inserts a new score. Unique violations surface as ErrDuplicateKey.
func (r *ScoreRepository) Create(ctx context.Context, score *models.Score) error {
	if score.ID == "" {
		score.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	score.CreatedAt = now
	score.UpdatedAt = now
	const query = `INSERT INTO scores (id, student_id, course_id, exam_type, mark, rank, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :exam_type, :mark, :rank, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, score); err != nil {
		return fmt.Errorf("create score: %w", translateError(err))
	}
	return nil
}

// Update replaces the mutable fields of a score.
func (r *ScoreRepository) Update(ctx context.Context, score *models.Score) error {
	score.UpdatedAt = time.Now().UTC()
	const query = `UPDATE scores SET student_id = :student_id, course_id = :course_id, exam_type = :exam_type,
        mark = :mark, rank = :rank, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, score)
	if err != nil {
		return fmt.Errorf("update score: %w", translateError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check updated score rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a score.
func (r *ScoreRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scores WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete score: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deleted score rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByStudent returns every score of a student.
func (r *ScoreRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Score, error) {
	query := fmt.Sprintf("SELECT %s FROM scores WHERE student_id = $1 ORDER BY course_id, exam_type", scoreColumns)
	var scores []models.Score
	if err := r.db.SelectContext(ctx, &scores, query, studentID); err != nil {
		return nil, fmt.Errorf("list scores by student: %w", err)
	}
	return scores, nil
}

// ListByStudentAndCourse returns the scores of a student in one course.
func (r *ScoreRepository) ListByStudentAndCourse(ctx context.Context, studentID, courseID string) ([]models.Score, error) {
	query := fmt.Sprintf("SELECT %s FROM scores WHERE student_id = $1 AND course_id = $2 ORDER BY exam_type", scoreColumns)
	var scores []models.Score
	if err := r.db.SelectContext(ctx, &scores, query, studentID, courseID); err != nil {
		return nil, fmt.Errorf("list scores by student and course: %w", err)
	}
	return scores, nil
}

// ListByCourseAndExamType returns the scores of a ranking scope, highest mark first.
func (r *ScoreRepository) ListByCourseAndExamType(ctx context.Context, courseID string, examType models.ExamType) ([]models.Score, error) {
	query := fmt.Sprintf("SELECT %s FROM scores WHERE course_id = $1 AND exam_type = $2 ORDER BY mark DESC, student_id", scoreColumns)
	var scores []models.Score
	if err := r.db.SelectContext(ctx, &scores, query, courseID, examType); err != nil {
		return nil, fmt.Errorf("list scores by scope: %w", err)
	}
	return scores, nil
}

// ListRankedByScope joins a ranking scope with student details for reporting.
func (r *ScoreRepository) ListRankedByScope(ctx context.Context, courseID string, examType models.ExamType) ([]models.RankedScore, error) {
	const query = `SELECT sc.id, sc.student_id, sc.course_id, sc.exam_type, sc.mark, sc.rank, sc.created_at, sc.updated_at,
        st.num AS student_num, st.name AS student_name
        FROM scores sc
        JOIN students st ON st.id = sc.student_id
        WHERE sc.course_id = $1 AND sc.exam_type = $2
        ORDER BY sc.rank NULLS LAST, sc.mark DESC, st.num`
	var rows []models.RankedScore
	if err := r.db.SelectContext(ctx, &rows, query, courseID, examType); err != nil {
		return nil, fmt.Errorf("list ranked scores: %w", err)
	}
	return rows, nil
}

// DistinctCourseExamTypes returns every ranking scope that holds scores.
func (r *ScoreRepository) DistinctCourseExamTypes(ctx context.Context) ([]models.ScoreScope, error) {
	const query = `SELECT DISTINCT course_id, exam_type FROM scores WHERE exam_type IS NOT NULL ORDER BY course_id, exam_type`
	var scopes []models.ScoreScope
	if err := r.db.SelectContext(ctx, &scopes, query); err != nil {
		return nil, fmt.Errorf("list score scopes: %w", err)
	}
	return scopes, nil
}

// LatestUpdateByCourse returns, per course, the newest score change of a student.
func (r *ScoreRepository) LatestUpdateByCourse(ctx context.Context, studentID string) (map[string]time.Time, error) {
	const query = `SELECT course_id, MAX(updated_at) AS updated_at FROM scores WHERE student_id = $1 GROUP BY course_id`
	var rows []struct {
		CourseID  string    `db:"course_id"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, fmt.Errorf("latest score updates: %w", err)
	}
	result := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		result[row.CourseID] = row.UpdatedAt
	}
	return result, nil
}

// UpdateRanks writes the ranks of one scope atomically.
func (r *ScoreRepository) UpdateRanks(ctx context.Context, ranks []models.ScoreRank) error {
	if len(ranks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const query = `UPDATE scores SET rank = $1 WHERE id = $2`
	for _, rank := range ranks {
		if _, err := tx.ExecContext(ctx, query, rank.Rank, rank.ScoreID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("update score rank: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit score ranks: %w", err)
	}
	return nil
}
