package dto

import "github.com/noah-isme/course-score-api/internal/models"

// CourseRankingRequest targets one (course, exam type) ranking scope.
type CourseRankingRequest struct {
	CourseID string `json:"course_id" validate:"required"`
	ExamType string `json:"exam_type" validate:"required"`
}

// RankingResponse lists ranks keyed by student.
type RankingResponse struct {
	CourseID  string         `json:"course_id,omitempty"`
	ExamType  string         `json:"exam_type,omitempty"`
	ClassName string         `json:"class_name,omitempty"`
	Ranks     map[string]int `json:"ranks"`
}

// RecalculateRankingsResponse summarises a full ranking sweep.
type RecalculateRankingsResponse struct {
	Scopes    int                 `json:"scopes"`
	Succeeded int                 `json:"succeeded"`
	Failed    []models.ScoreScope `json:"failed,omitempty"`
}
