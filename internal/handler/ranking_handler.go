package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/middleware"
	"github.com/noah-isme/course-score-api/internal/models"
	"github.com/noah-isme/course-score-api/internal/service"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
	"github.com/noah-isme/course-score-api/pkg/response"
)

type rankingService interface {
	CalculateRanking(ctx context.Context, courseID string, examType models.ExamType) (map[string]int, error)
	RecalculateAllRankings(ctx context.Context) (*dto.RecalculateRankingsResponse, error)
	CalculateClassRanking(ctx context.Context, className string) (map[string]int, error)
}

type rankingExporter interface {
	ExportCourseRanking(ctx context.Context, courseID, examType, format string) (*service.RankingFile, error)
	ExportStudentTranscript(ctx context.Context, studentID, format string) (*service.RankingFile, error)
}

// RankingHandler exposes ranking endpoints.
type RankingHandler struct {
	rankings rankingService
	exporter rankingExporter
}

// NewRankingHandler constructs handler.
func NewRankingHandler(rankings rankingService, exporter rankingExporter) *RankingHandler {
	return &RankingHandler{rankings: rankings, exporter: exporter}
}

// Course godoc
// @Summary Rank a course exam
// @Tags Rankings
// @Accept json
// @Produce json
// @Param payload body dto.CourseRankingRequest true "Ranking scope"
// @Success 200 {object} response.Envelope
// @Router /rankings/course [post]
func (h *RankingHandler) Course(c *gin.Context) {
	var req dto.CourseRankingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	examType, err := models.ParseExamType(req.ExamType)
	if err != nil {
		response.Error(c, err)
		return
	}
	ranks, err := h.rankings.CalculateRanking(c.Request.Context(), req.CourseID, examType)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RankingResponse{CourseID: req.CourseID, ExamType: string(examType), Ranks: ranks}, nil)
}

// Recalculate godoc
// @Summary Re-rank every exam scope
// @Tags Rankings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /rankings/recalculate [post]
func (h *RankingHandler) Recalculate(c *gin.Context) {
	result, err := h.rankings.RecalculateAllRankings(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Class godoc
// @Summary Class ranking by student final score
// @Tags Rankings
// @Produce json
// @Param className path string true "Class name"
// @Success 200 {object} response.Envelope
// @Router /rankings/class/{className} [get]
func (h *RankingHandler) Class(c *gin.Context) {
	className := c.Param("className")
	ranks, err := h.rankings.CalculateClassRanking(c.Request.Context(), className)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "students", len(ranks))
	response.JSON(c, http.StatusOK, dto.RankingResponse{ClassName: className, Ranks: ranks}, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Download a course exam ranking sheet
// @Tags Rankings
// @Produce text/csv
// @Produce application/pdf
// @Param courseId path string true "Course ID"
// @Param exam_type query string false "Exam type, defaults to 期末考试"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /rankings/course/{courseId}/export [get]
func (h *RankingHandler) Export(c *gin.Context) {
	examType := c.DefaultQuery("exam_type", string(models.ExamTypeFinal))
	format := c.DefaultQuery("format", "csv")
	file, err := h.exporter.ExportCourseRanking(c.Request.Context(), c.Param("courseId"), examType, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Name, file.ContentType, file.Body)
}

// Transcript godoc
// @Summary Download a student transcript
// @Description Raw scores per course and exam type with average, credit-weighted average, total credits and pass rate.
// @Tags Rankings
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /students/{id}/transcript/export [get]
func (h *RankingHandler) Transcript(c *gin.Context) {
	file, err := h.exporter.ExportStudentTranscript(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Name, file.ContentType, file.Body)
}
