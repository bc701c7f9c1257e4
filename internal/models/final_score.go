package models

import "time"

// CourseFinalScore caches the weighted result of a student in one course.
type CourseFinalScore struct {
	StudentID    string    `db:"student_id" json:"student_id"`
	CourseID     string    `db:"course_id" json:"course_id"`
	Value        float64   `db:"value" json:"value"`
	CalculatedAt time.Time `db:"calculated_at" json:"calculated_at"`
	// Stale is set when a weight rule affecting the course changed after CalculatedAt.
	Stale bool `db:"stale" json:"stale"`
}

// StudentFinalScore caches the credit weighted result of a student across courses.
type StudentFinalScore struct {
	StudentID    string    `db:"student_id" json:"student_id"`
	Value        float64   `db:"value" json:"value"`
	CalculatedAt time.Time `db:"calculated_at" json:"calculated_at"`
}

// RecalculationSummary reports the outcome of a full student recompute.
type RecalculationSummary struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}
