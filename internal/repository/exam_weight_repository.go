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

const examWeightColumns = "id, course_id, exam_type, weight, description, created_at, updated_at"

// ExamWeightRepository persists weight rules.
type ExamWeightRepository struct {
	db *sqlx.DB
}

// NewExamWeightRepository constructs an ExamWeightRepository.
func NewExamWeightRepository(db *sqlx.DB) *ExamWeightRepository {
	return &ExamWeightRepository{db: db}
}

// List returns weight rules, global rules first.
func (r *ExamWeightRepository) List(ctx context.Context, filter models.ExamWeightFilter) ([]models.ExamWeight, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	switch {
	case filter.GlobalOnly:
		conditions = append(conditions, "course_id IS NULL")
	case filter.CourseID != "":
		args = append(args, filter.CourseID)
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)))
	}
	query := fmt.Sprintf("SELECT %s FROM exam_weights WHERE %s ORDER BY course_id NULLS FIRST, exam_type", examWeightColumns, strings.Join(conditions, " AND "))
	var weights []models.ExamWeight
	if err := r.db.SelectContext(ctx, &weights, query, args...); err != nil {
		return nil, fmt.Errorf("list exam weights: %w", err)
	}
	return weights, nil
}

// ListEffective returns the global rules plus the rules of courseID.
func (r *ExamWeightRepository) ListEffective(ctx context.Context, courseID string) ([]models.ExamWeight, error) {
	query := fmt.Sprintf("SELECT %s FROM exam_weights WHERE course_id IS NULL OR course_id = $1 ORDER BY course_id NULLS FIRST, exam_type", examWeightColumns)
	var weights []models.ExamWeight
	if err := r.db.SelectContext(ctx, &weights, query, courseID); err != nil {
		return nil, fmt.Errorf("list effective exam weights: %w", err)
	}
	return weights, nil
}

// FindByID loads a weight rule.
func (r *ExamWeightRepository) FindByID(ctx context.Context, id string) (*models.ExamWeight, error) {
	query := fmt.Sprintf("SELECT %s FROM exam_weights WHERE id = $1", examWeightColumns)
	var weight models.ExamWeight
	if err := r.db.GetContext(ctx, &weight, query, id); err != nil {
		return nil, err
	}
	return &weight, nil
}

// ExistsForKey reports whether a rule exists for (courseID, examType). A nil courseID
// checks the global rules.
func (r *ExamWeightRepository) ExistsForKey(ctx context.Context, courseID *string, examType models.ExamType, excludeID string) (bool, error) {
	query := "SELECT 1 FROM exam_weights WHERE exam_type = $1"
	args := []interface{}{examType}
	if courseID == nil {
		query += " AND course_id IS NULL"
	} else {
		args = append(args, *courseID)
		query += fmt.Sprintf(" AND course_id = $%d", len(args))
	}
	if excludeID != "" {
		args = append(args, excludeID)
		query += fmt.Sprintf(" AND id <> $%d", len(args))
	}
	query += " LIMIT 1"
	var marker int
	if err := r.db.GetContext(ctx, &marker, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check exam weight exists: %w", err)
	}
	return true, nil
}

// CountGlobal returns the number of global rules.
func (r *ExamWeightRepository) CountGlobal(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM exam_weights WHERE course_id IS NULL"); err != nil {
		return 0, fmt.Errorf("count global exam weights: %w", err)
	}
	return count, nil
}

// CountAll returns the number of rules of any scope.
func (r *ExamWeightRepository) CountAll(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM exam_weights"); err != nil {
		return 0, fmt.Errorf("count exam weights: %w", err)
	}
	return count, nil
}

// Create inserts a weight rule.
func (r *ExamWeightRepository) Create(ctx context.Context, weight *models.ExamWeight) error {
	if weight.ID == "" {
		weight.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	weight.CreatedAt = now
	weight.UpdatedAt = now
	const query = `INSERT INTO exam_weights (id, course_id, exam_type, weight, description, created_at, updated_at)
        VALUES (:id, :course_id, :exam_type, :weight, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, weight); err != nil {
		return fmt.Errorf("create exam weight: %w", translateError(err))
	}
	return nil
}

// Update modifies a weight rule.
func (r *ExamWeightRepository) Update(ctx context.Context, weight *models.ExamWeight) error {
	weight.UpdatedAt = time.Now().UTC()
	const query = `UPDATE exam_weights SET course_id = :course_id, exam_type = :exam_type, weight = :weight,
        description = :description, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, weight)
	if err != nil {
		return fmt.Errorf("update exam weight: %w", translateError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check updated exam weight rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a weight rule.
func (r *ExamWeightRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM exam_weights WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete exam weight: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deleted exam weight rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
