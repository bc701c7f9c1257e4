package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/models"
	"github.com/noah-isme/course-score-api/internal/service"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
	"github.com/noah-isme/course-score-api/pkg/jobs"
	"github.com/noah-isme/course-score-api/pkg/response"
)

type finalScoreService interface {
	CalculateCourseFinalScore(ctx context.Context, studentID, courseID string) (float64, error)
	CalculateStudentFinalScore(ctx context.Context, studentID string) (float64, error)
	CalculateAllStudentsFinalScore(ctx context.Context) (*models.RecalculationSummary, error)
}

type jobQueue interface {
	Submit(jobType string, payload interface{}) (jobs.Record, error)
	Status(id string) (jobs.Record, bool)
}

// FinalScoreHandler exposes final score calculation endpoints.
type FinalScoreHandler struct {
	finals finalScoreService
	queue  jobQueue
}

// NewFinalScoreHandler constructs handler. queue may be nil, in which case async
// requests run inline.
func NewFinalScoreHandler(finals finalScoreService, queue jobQueue) *FinalScoreHandler {
	return &FinalScoreHandler{finals: finals, queue: queue}
}

// Course godoc
// @Summary Calculate course final score
// @Tags FinalScores
// @Accept json
// @Produce json
// @Param payload body dto.CourseFinalScoreRequest true "Student and course"
// @Success 200 {object} response.Envelope
// @Router /final-scores/course [post]
func (h *FinalScoreHandler) Course(c *gin.Context) {
	var req dto.CourseFinalScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	value, err := h.finals.CalculateCourseFinalScore(c.Request.Context(), req.StudentID, req.CourseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.FinalScoreResponse{StudentID: req.StudentID, CourseID: req.CourseID, Value: value}, nil)
}

// Student godoc
// @Summary Calculate student final score
// @Tags FinalScores
// @Accept json
// @Produce json
// @Param payload body dto.StudentFinalScoreRequest true "Student"
// @Success 200 {object} response.Envelope
// @Router /final-scores/student [post]
func (h *FinalScoreHandler) Student(c *gin.Context) {
	var req dto.StudentFinalScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	value, err := h.finals.CalculateStudentFinalScore(c.Request.Context(), req.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.FinalScoreResponse{StudentID: req.StudentID, Value: value}, nil)
}

// All godoc
// @Summary Recalculate every student final score
// @Description With async=true the work is queued and a job record is returned.
// @Tags FinalScores
// @Produce json
// @Param async query bool false "Run in the background"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /final-scores/all [post]
func (h *FinalScoreHandler) All(c *gin.Context) {
	if strings.EqualFold(c.Query("async"), "true") && h.queue != nil {
		record, err := h.queue.Submit(service.JobRecalculateAll, requesterID(c))
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrPreconditionFailed, "recalculation queue unavailable"))
			return
		}
		response.Accepted(c, record)
		return
	}

	summary, err := h.finals.CalculateAllStudentsFinalScore(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// JobStatus godoc
// @Summary Background job status
// @Tags FinalScores
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /jobs/{id} [get]
func (h *FinalScoreHandler) JobStatus(c *gin.Context) {
	if h.queue == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "job not found"))
		return
	}
	record, ok := h.queue.Status(c.Param("id"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "job not found"))
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}
