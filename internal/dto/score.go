package dto

// ScoreRequest is the payload for creating or replacing a raw score.
type ScoreRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
	ExamType  string `json:"exam_type" validate:"required"`
	Mark      *int   `json:"mark" validate:"required"`
}

// ScoreImportRow is one spreadsheet or JSON row of a bulk import.
type ScoreImportRow struct {
	Row         int      `json:"row"`
	StudentNum  string   `json:"student_num"`
	StudentName string   `json:"student_name"`
	CourseNum   string   `json:"course_num"`
	CourseName  string   `json:"course_name"`
	Mark        *float64 `json:"mark"`
	ExamType    string   `json:"exam_type"`
}

// ScoreImportRequest wraps JSON import rows.
type ScoreImportRequest struct {
	ExamType string           `json:"exam_type"`
	Rows     []ScoreImportRow `json:"rows" validate:"required,min=1"`
}

// ScoreImportResult reports the outcome of one import row.
type ScoreImportResult struct {
	Row      int    `json:"row"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	ScoreID  string `json:"score_id,omitempty"`
	CourseID string `json:"course_id,omitempty"`
}

// ScoreImportSummary aggregates a bulk import.
type ScoreImportSummary struct {
	TotalCount   int                 `json:"total_count"`
	SuccessCount int                 `json:"success_count"`
	ErrorCount   int                 `json:"error_count"`
	Message      string              `json:"message"`
	Results      []ScoreImportResult `json:"results"`
}
