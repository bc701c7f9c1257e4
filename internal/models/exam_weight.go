package models

import "time"

// ExamWeight is a weight rule. A nil CourseID marks a global default.
type ExamWeight struct {
	ID          string    `db:"id" json:"id"`
	CourseID    *string   `db:"course_id" json:"course_id,omitempty"`
	ExamType    ExamType  `db:"exam_type" json:"exam_type"`
	Weight      float64   `db:"weight" json:"weight"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// IsGlobal reports whether the rule applies to every course.
func (w ExamWeight) IsGlobal() bool {
	return w.CourseID == nil
}

// ExamWeightFilter scopes weight listings.
type ExamWeightFilter struct {
	CourseID   string
	GlobalOnly bool
}
