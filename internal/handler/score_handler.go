package handler

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/models"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
	"github.com/noah-isme/course-score-api/pkg/response"
)

type scoreService interface {
	List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Score, error)
	Create(ctx context.Context, req dto.ScoreRequest) (*models.Score, error)
	Update(ctx context.Context, id string, req dto.ScoreRequest) (*models.Score, error)
	Delete(ctx context.Context, id string) error
	BulkImport(ctx context.Context, rows []dto.ScoreImportRow, defaultExamType string) (*dto.ScoreImportSummary, error)
	ImportXLSX(ctx context.Context, r io.Reader, examType string) (*dto.ScoreImportSummary, error)
}

// ScoreHandler exposes raw score endpoints.
type ScoreHandler struct {
	scores scoreService
}

// NewScoreHandler constructs handler.
func NewScoreHandler(scores scoreService) *ScoreHandler {
	return &ScoreHandler{scores: scores}
}

// List godoc
// @Summary List raw scores
// @Tags Scores
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param course_id query string false "Filter by course"
// @Param exam_type query string false "Filter by exam type"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /scores [get]
func (h *ScoreHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	filter := models.ScoreFilter{
		StudentID: c.Query("student_id"),
		CourseID:  c.Query("course_id"),
		ExamType:  models.ExamType(strings.TrimSpace(c.Query("exam_type"))),
		Page:      page,
		PageSize:  size,
	}
	scores, pagination, err := h.scores.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scores, pagination)
}

// Get godoc
// @Summary Get raw score
// @Tags Scores
// @Produce json
// @Param id path string true "Score ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scores/{id} [get]
func (h *ScoreHandler) Get(c *gin.Context) {
	score, err := h.scores.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, score, nil)
}

// Create godoc
// @Summary Create raw score
// @Description Stores a mark and recomputes the affected ranking and final scores.
// @Tags Scores
// @Accept json
// @Produce json
// @Param payload body dto.ScoreRequest true "Score payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scores [post]
func (h *ScoreHandler) Create(c *gin.Context) {
	var req dto.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	score, err := h.scores.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, score)
}

// Update godoc
// @Summary Replace raw score
// @Tags Scores
// @Accept json
// @Produce json
// @Param id path string true "Score ID"
// @Param payload body dto.ScoreRequest true "Score payload"
// @Success 200 {object} response.Envelope
// @Router /scores/{id} [put]
func (h *ScoreHandler) Update(c *gin.Context) {
	var req dto.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	score, err := h.scores.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, score, nil)
}

// Delete godoc
// @Summary Delete raw score
// @Tags Scores
// @Param id path string true "Score ID"
// @Success 204
// @Router /scores/{id} [delete]
func (h *ScoreHandler) Delete(c *gin.Context) {
	if err := h.scores.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Import godoc
// @Summary Bulk import scores
// @Description Each row succeeds or fails on its own; the summary lists every row.
// @Tags Scores
// @Accept json
// @Produce json
// @Param payload body dto.ScoreImportRequest true "Import rows"
// @Success 200 {object} response.Envelope
// @Router /scores/import [post]
func (h *ScoreHandler) Import(c *gin.Context) {
	var req dto.ScoreImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	summary, err := h.scores.BulkImport(c.Request.Context(), req.Rows, req.ExamType)
	if err != nil {
		respondImportError(c, err, summary)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// ImportXLSX godoc
// @Summary Import scores from an Excel workbook
// @Tags Scores
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "xlsx workbook"
// @Param exam_type formData string false "Exam type for rows without one"
// @Success 200 {object} response.Envelope
// @Router /scores/import/xlsx [post]
func (h *ScoreHandler) ImportXLSX(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "请上传Excel文件"))
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "只支持.xlsx格式的文件"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to open upload"))
		return
	}
	defer file.Close()

	summary, err := h.scores.ImportXLSX(c.Request.Context(), file, c.PostForm("exam_type"))
	if err != nil {
		respondImportError(c, err, summary)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// respondImportError keeps the per-row outcome visible when an import stops part way.
func respondImportError(c *gin.Context, err error, summary *dto.ScoreImportSummary) {
	if summary == nil {
		response.Error(c, err)
		return
	}
	response.ErrorWithData(c, err, summary)
}
