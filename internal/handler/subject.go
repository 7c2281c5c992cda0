package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crisis-engine/internal/aggregator"
	"crisis-engine/internal/engine"
	"crisis-engine/internal/scheduler"
	"crisis-engine/internal/signals"
)

type SubjectHandler interface {
	ListSubjects(c *gin.Context)
	GetAssessment(c *gin.Context)
	GetHistory(c *gin.Context)
	GetTrend(c *gin.Context)
	GetEscalation(c *gin.Context)
	ResolveEscalation(c *gin.Context)
	GetEthicalStatus(c *gin.Context)
	Assess(c *gin.Context)
	Schedule(c *gin.Context)
	Unschedule(c *gin.Context)
}

type subjectHandler struct {
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

func NewSubjectHandler(e *engine.Engine, s *scheduler.Scheduler, logger *zap.Logger) SubjectHandler {
	return &subjectHandler{engine: e, scheduler: s, logger: logger}
}

// ListSubjects handles GET /api/v1/subjects
func (h *subjectHandler) ListSubjects(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"subjects":  h.engine.Subjects(),
		"schedules": h.scheduler.Jobs(),
	})
}

// GetAssessment handles GET /api/v1/subjects/:id/assessment
func (h *subjectHandler) GetAssessment(c *gin.Context) {
	a, err := h.engine.GetCurrentAssessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, engine.ErrNoAssessment) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No assessment for subject"})
			return
		}
		h.logger.Error("Failed to get assessment", zap.String("subject_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve assessment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// GetHistory handles GET /api/v1/subjects/:id/history
func (h *subjectHandler) GetHistory(c *gin.Context) {
	history := h.engine.GetAssessmentHistory(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"assessments": history})
}

// GetTrend handles GET /api/v1/subjects/:id/trend?period=7d
func (h *subjectHandler) GetTrend(c *gin.Context) {
	period := c.DefaultQuery("period", "7d")
	trend, err := h.engine.GetRiskTrend(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid period. Valid values: 24h, 7d, 30d"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "trend": trend})
}

// GetEscalation handles GET /api/v1/subjects/:id/escalation
func (h *subjectHandler) GetEscalation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"escalation": h.engine.GetEscalationState(c.Request.Context(), c.Param("id"))})
}

// ResolveEscalation handles POST /api/v1/subjects/:id/escalation/resolve
func (h *subjectHandler) ResolveEscalation(c *gin.Context) {
	t, moved := h.engine.ResolveEscalation(c.Request.Context(), c.Param("id"))
	if !moved {
		c.JSON(http.StatusConflict, gin.H{"error": "Subject has no open escalation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transition": t})
}

// GetEthicalStatus handles GET /api/v1/subjects/:id/ethics
func (h *subjectHandler) GetEthicalStatus(c *gin.Context) {
	status, err := h.engine.GetEthicalStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, engine.ErrNoAssessment) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No assessment for subject"})
			return
		}
		h.logger.Error("Failed to evaluate ethical status", zap.String("subject_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to evaluate ethical status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ethics": status})
}

// Assess handles POST /api/v1/subjects/:id/assess
func (h *subjectHandler) Assess(c *gin.Context) {
	subjectID := c.Param("id")
	a, err := h.scheduler.TriggerNow(c.Request.Context(), subjectID)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrBusy), errors.Is(err, aggregator.ErrInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "Assessment already running for subject"})
		case errors.Is(err, signals.ErrSubjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Subject not found"})
		case errors.Is(err, scheduler.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler is shutting down"})
		default:
			h.logger.Error("Assessment failed", zap.String("subject_id", subjectID), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "Assessment failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// maxIntervalSeconds keeps the interval well inside time.Duration.
const maxIntervalSeconds = 30 * 24 * 60 * 60

type ScheduleRequest struct {
	IntervalSeconds int64 `json:"interval_seconds"`
	RunNow          bool  `json:"run_now"`
}

// Schedule handles POST /api/v1/subjects/:id/schedule
func (h *subjectHandler) Schedule(c *gin.Context) {
	var req ScheduleRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.IntervalSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval_seconds must not be negative"})
		return
	}
	if req.IntervalSeconds > maxIntervalSeconds {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("interval_seconds must not exceed %d", maxIntervalSeconds)})
		return
	}

	interval, err := h.scheduler.Start(c.Param("id"), time.Duration(req.IntervalSeconds)*time.Second, req.RunNow)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler is shutting down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjectId": c.Param("id"), "intervalSeconds": int64(interval / time.Second)})
}

// Unschedule handles DELETE /api/v1/subjects/:id/schedule
func (h *subjectHandler) Unschedule(c *gin.Context) {
	if !h.scheduler.Stop(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subject is not scheduled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Schedule stopped"})
}
