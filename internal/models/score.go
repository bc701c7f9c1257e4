package models

import "time"

const (
	// MinMark and MaxMark bound raw marks and every aggregated value.
	MinMark = 0
	MaxMark = 100
)

// Score is a raw mark of one student in one course for one exam type.
type Score struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	ExamType  ExamType  `db:"exam_type" json:"exam_type"`
	Mark      int       `db:"mark" json:"mark"`
	Rank      *int      `db:"rank" json:"rank,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ScoreFilter narrows raw score listings.
type ScoreFilter struct {
	StudentID string
	CourseID  string
	ExamType  ExamType
	Page      int
	PageSize  int
}

// ScoreScope identifies one ranking scope.
type ScoreScope struct {
	CourseID string   `db:"course_id" json:"course_id"`
	ExamType ExamType `db:"exam_type" json:"exam_type"`
}

// ScoreRank assigns a rank to a persisted score row.
type ScoreRank struct {
	ScoreID string `db:"id"`
	Rank    int    `db:"rank"`
}

// ValidMark reports whether mark lies in the accepted range.
func ValidMark(mark float64) bool {
	return mark >= MinMark && mark <= MaxMark
}

// ClampMark pins v into the accepted range.
func ClampMark(v float64) float64 {
	if v < MinMark {
		return MinMark
	}
	if v > MaxMark {
		return MaxMark
	}
	return v
}
