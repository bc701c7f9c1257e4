package dto

// ExamWeightRequest creates or updates a weight rule. An empty CourseID targets the
// global defaults.
type ExamWeightRequest struct {
	CourseID    string   `json:"course_id"`
	ExamType    string   `json:"exam_type" validate:"required"`
	Weight      *float64 `json:"weight" validate:"required"`
	Description string   `json:"description" validate:"max=255"`
}

// CourseWeightsResponse lists the effective weights of a course.
type CourseWeightsResponse struct {
	CourseID string             `json:"course_id"`
	Weights  map[string]float64 `json:"weights"`
}
