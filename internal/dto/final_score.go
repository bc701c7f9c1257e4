package dto

// CourseFinalScoreRequest targets a single student-course aggregate.
type CourseFinalScoreRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// StudentFinalScoreRequest targets a single student aggregate.
type StudentFinalScoreRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

// FinalScoreResponse carries one computed value.
type FinalScoreResponse struct {
	StudentID string  `json:"student_id"`
	CourseID  string  `json:"course_id,omitempty"`
	Value     float64 `json:"value"`
}
