package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/models"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
	"github.com/noah-isme/course-score-api/pkg/response"
)

type examWeightService interface {
	List(ctx context.Context, filter models.ExamWeightFilter) ([]models.ExamWeight, error)
	Upsert(ctx context.Context, id string, req dto.ExamWeightRequest) (*models.ExamWeight, error)
	Delete(ctx context.Context, id string) error
	GetWeights(ctx context.Context, courseID string) (map[models.ExamType]float64, error)
}

// ExamWeightHandler exposes weight rule endpoints.
type ExamWeightHandler struct {
	weights examWeightService
}

// NewExamWeightHandler constructs handler.
func NewExamWeightHandler(weights examWeightService) *ExamWeightHandler {
	return &ExamWeightHandler{weights: weights}
}

// List godoc
// @Summary List exam weight rules
// @Tags ExamWeights
// @Produce json
// @Param course_id query string false "Only rules of this course"
// @Param global query bool false "Only global rules"
// @Success 200 {object} response.Envelope
// @Router /exam-weights [get]
func (h *ExamWeightHandler) List(c *gin.Context) {
	filter := models.ExamWeightFilter{CourseID: c.Query("course_id"), GlobalOnly: c.Query("global") == "true"}
	weights, err := h.weights.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, weights, nil)
}

// Create godoc
// @Summary Create exam weight rule
// @Description An empty course_id creates a global default.
// @Tags ExamWeights
// @Accept json
// @Produce json
// @Param payload body dto.ExamWeightRequest true "Weight payload"
// @Success 201 {object} response.Envelope
// @Router /exam-weights [post]
func (h *ExamWeightHandler) Create(c *gin.Context) {
	var req dto.ExamWeightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	weight, err := h.weights.Upsert(c.Request.Context(), "", req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, weight)
}

// Update godoc
// @Summary Update exam weight rule
// @Tags ExamWeights
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param payload body dto.ExamWeightRequest true "Weight payload"
// @Success 200 {object} response.Envelope
// @Router /exam-weights/{id} [put]
func (h *ExamWeightHandler) Update(c *gin.Context) {
	var req dto.ExamWeightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	weight, err := h.weights.Upsert(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, weight, nil)
}

// Delete godoc
// @Summary Delete exam weight rule
// @Tags ExamWeights
// @Param id path string true "Rule ID"
// @Success 204
// @Router /exam-weights/{id} [delete]
func (h *ExamWeightHandler) Delete(c *gin.Context) {
	if err := h.weights.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CourseWeights godoc
// @Summary Effective weights of a course
// @Tags ExamWeights
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/weights [get]
func (h *ExamWeightHandler) CourseWeights(c *gin.Context) {
	courseID := c.Param("id")
	weights, err := h.weights.GetWeights(c.Request.Context(), courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := dto.CourseWeightsResponse{CourseID: courseID, Weights: make(map[string]float64, len(weights))}
	for examType, w := range weights {
		out.Weights[string(examType)] = w
	}
	response.JSON(c, http.StatusOK, out, nil)
}
