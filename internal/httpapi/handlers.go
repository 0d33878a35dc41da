package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"irrigation-backend/internal/hybrid"
	"irrigation-backend/internal/models"
	"irrigation-backend/internal/scheduler"
)

// predictRequest is the POST body: the current reading plus optional context
type predictRequest struct {
	models.SensorPayload
	PlantType       string                 `json:"plant_type"`
	RainProbability *float64               `json:"rain_probability"`
	History         []models.SensorReading `json:"history"`
}

type validationIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (s *Server) handlePredict(c *gin.Context) {
	plantID, ok := plantIDParam(c)
	if !ok {
		return
	}

	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}

	reading, err := req.ToReading(plantID, s.now())
	if err != nil {
		writeError(c, err)
		return
	}

	in := hybrid.Input{
		Reading:   reading,
		History:   req.History,
		PlantType: req.PlantType,
	}
	if req.RainProbability != nil {
		in.RainProbability = *req.RainProbability
	}

	predict := s.sched.Predict
	if urgent, _ := strconv.ParseBool(c.Query("urgent")); urgent {
		predict = s.sched.PredictNow
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
	defer cancel()

	d, err := predict(ctx, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleInvalidate(c *gin.Context) {
	plantID, ok := plantIDParam(c)
	if !ok {
		return
	}
	removed := s.sched.Invalidate(c.Request.Context(), plantID)
	c.JSON(http.StatusOK, gin.H{"plant_id": plantID, "removed": removed})
}

func (s *Server) handleInvalidateAll(c *gin.Context) {
	removed := s.sched.InvalidateAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.sched.Stats())
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
	defer cancel()

	h := s.sched.HealthCheck(ctx)
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func plantIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("plantId"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plantId must be a positive integer"})
		return 0, false
	}
	return id, true
}

// writeError maps scheduler errors onto status codes
func writeError(c *gin.Context, err error) {
	var batchErr *models.BatchComputationError
	switch {
	case models.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "issues": validationIssues(err)})
	case errors.As(err, &batchErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "batch_id": batchErr.BatchID})
	case errors.Is(err, scheduler.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "prediction timed out"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// validationIssues flattens joined and wrapped validation errors
func validationIssues(err error) []validationIssue {
	var out []validationIssue
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if ve, ok := e.(*models.ValidationError); ok {
			out = append(out, validationIssue{Field: ve.Field, Reason: ve.Reason})
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
