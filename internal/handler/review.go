package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crisis-engine/internal/engine"
	"crisis-engine/internal/middleware"
	"crisis-engine/internal/models"
	"crisis-engine/internal/review"
)

type ReviewHandler interface {
	ListPending(c *gin.Context)
	ListSubjectReviews(c *gin.Context)
	RequestReview(c *gin.Context)
	RecordVerdict(c *gin.Context)
	ReportFalsePositive(c *gin.Context)
}

type reviewHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func NewReviewHandler(e *engine.Engine, logger *zap.Logger) ReviewHandler {
	return &reviewHandler{engine: e, logger: logger}
}

// ListPending handles GET /api/v1/reviews/pending
func (h *reviewHandler) ListPending(c *gin.Context) {
	pending, err := h.engine.PendingReviews(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list pending reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve reviews"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": nonNil(pending)})
}

// ListSubjectReviews handles GET /api/v1/subjects/:id/reviews
func (h *reviewHandler) ListSubjectReviews(c *gin.Context) {
	recs, err := h.engine.SubjectReviews(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to list subject reviews", zap.String("subject_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve reviews"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": nonNil(recs)})
}

// RequestReview handles POST /api/v1/assessments/:id/review
func (h *reviewHandler) RequestReview(c *gin.Context) {
	rec, err := h.engine.RequestHumanReview(c.Request.Context(), c.Param("id"), middleware.Reviewer(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": rec})
}

type VerdictRequest struct {
	Verdict         models.Verdict    `json:"verdict" binding:"required"`
	ActualRiskLevel *models.RiskLevel `json:"actual_risk_level"`
	Notes           *string           `json:"notes"`
}

// RecordVerdict handles POST /api/v1/reviews/:id/verdict
func (h *reviewHandler) RecordVerdict(c *gin.Context) {
	var req VerdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.engine.RecordVerdict(c.Request.Context(), c.Param("id"), req.Verdict, req.ActualRiskLevel, req.Notes, middleware.Reviewer(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": rec})
}

type FalsePositiveRequest struct {
	ActualRiskLevel models.RiskLevel `json:"actual_risk_level" binding:"required"`
	Notes           *string          `json:"notes"`
}

// ReportFalsePositive handles POST /api/v1/assessments/:id/false-positive
func (h *reviewHandler) ReportFalsePositive(c *gin.Context) {
	var req FalsePositiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.engine.ReportFalsePositive(c.Request.Context(), c.Param("id"), req.ActualRiskLevel, req.Notes, middleware.Reviewer(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": rec, "message": "False positive recorded"})
}

func (h *reviewHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrAssessmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Assessment not found"})
	case errors.Is(err, review.ErrReviewNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
	case errors.Is(err, review.ErrReviewResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "Review already resolved"})
	case errors.Is(err, review.ErrReviewNotRequired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Assessment does not require review"})
	case errors.Is(err, review.ErrInvalidVerdict):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Review operation failed", zap.String("id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Review operation failed"})
	}
}

func nonNil(recs []models.HumanReviewRecord) []models.HumanReviewRecord {
	if recs == nil {
		return []models.HumanReviewRecord{}
	}
	return recs
}
