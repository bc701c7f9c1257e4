package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-score-api/internal/models"
)

const studentColumns = "id, num, name, class_name, created_at, updated_at"

// StudentRepository reads students owned by the roster.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID loads a student.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	if err := r.db.GetContext(ctx, &student, "SELECT "+studentColumns+" FROM students WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByNum loads a student by roster number.
func (r *StudentRepository) FindByNum(ctx context.Context, num string) (*models.Student, error) {
	var student models.Student
	if err := r.db.GetContext(ctx, &student, "SELECT "+studentColumns+" FROM students WHERE num = $1", num); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListAll returns every student ordered by number.
func (r *StudentRepository) ListAll(ctx context.Context) ([]models.Student, error) {
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, "SELECT "+studentColumns+" FROM students ORDER BY num"); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// ListByClass returns the students of a class.
func (r *StudentRepository) ListByClass(ctx context.Context, className string) ([]models.Student, error) {
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, "SELECT "+studentColumns+" FROM students WHERE class_name = $1 ORDER BY num", className); err != nil {
		return nil, fmt.Errorf("list students by class: %w", err)
	}
	return students, nil
}
