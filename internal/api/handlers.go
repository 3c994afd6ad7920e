package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/canarygate/canarygate/internal/application"
	"github.com/canarygate/canarygate/internal/domain"
)

type handlers struct {
	rollouts *application.RolloutService
	logger   *slog.Logger
}

type stageRequest struct {
	Name           string `json:"name"`
	TrafficPercent int    `json:"trafficPercent"`
	DwellSeconds   int    `json:"dwellSeconds"`
}

type thresholdsRequest struct {
	AbsoluteErrorRate   *float64 `json:"absoluteErrorRate,omitempty"`
	AbsoluteLatencyMs   *float64 `json:"absoluteLatencyMs,omitempty"`
	ThroughputFloor     *float64 `json:"throughputFloor,omitempty"`
	ErrorRateRegression *float64 `json:"errorRateRegression,omitempty"`
	LatencyRegression   *float64 `json:"latencyRegression,omitempty"`
}

type configRequest struct {
	FailureThreshold     *int               `json:"failureThreshold,omitempty"`
	CheckIntervalSeconds *int               `json:"checkIntervalSeconds,omitempty"`
	WarmupSeconds        *int               `json:"warmupSeconds,omitempty"`
	Thresholds           *thresholdsRequest `json:"thresholds,omitempty"`
}

type startRequest struct {
	ServiceID string         `json:"serviceId"`
	Version   string         `json:"version"`
	Stages    []stageRequest `json:"stages"`
	Config    *configRequest `json:"config,omitempty"`
}

type stageResponse struct {
	Name           string `json:"name"`
	TrafficPercent int    `json:"trafficPercent"`
	DwellSeconds   int    `json:"dwellSeconds"`
}

type sampleResponse struct {
	Timestamp      time.Time `json:"timestamp"`
	Source         string    `json:"source"`
	ErrorRate      float64   `json:"errorRate"`
	ResponseTimeMs float64   `json:"responseTimeMs"`
	Throughput     float64   `json:"throughput"`
}

type sessionResponse struct {
	ID                  string           `json:"id"`
	ServiceID           string           `json:"serviceId"`
	Version             string           `json:"version"`
	Stages              []stageResponse  `json:"stages"`
	CurrentStageIndex   int              `json:"currentStageIndex"`
	Status              string           `json:"status"`
	Baseline            *sampleResponse  `json:"baseline,omitempty"`
	Samples             []sampleResponse `json:"samples,omitempty"`
	ConsecutiveFailures int              `json:"consecutiveFailures"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) startRollout(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	in := application.StartInput{
		ServiceID: req.ServiceID,
		Version:   req.Version,
		Stages:    toStages(req.Stages),
		Config:    toConfig(req.Config),
	}

	session, err := h.rollouts.Start(c.Request.Context(), in)
	if err != nil {
		// The session may still carry a terminal state worth returning,
		// e.g. Failed after an unsuccessful rollback.
		if session.ID != "" {
			h.logger.Error("rollout ended with error",
				slog.String("session", string(session.ID)), slog.Any("error", err))
			c.JSON(statusFor(err), gin.H{
				"error":   err.Error(),
				"session": toSession(session),
			})
			return
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toSession(session))
}

func (h *handlers) getRollout(c *gin.Context) {
	session, err := h.rollouts.Get(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toSession(session))
}

func (h *handlers) listRollouts(c *gin.Context) {
	sessions, err := h.rollouts.List(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSession(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h *handlers) cancelRollout(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	if err := h.rollouts.Cancel(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "canceling"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMetricsUnavailable),
		errors.Is(err, domain.ErrTrafficShiftFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toStages(in []stageRequest) []domain.RolloutStage {
	out := make([]domain.RolloutStage, 0, len(in))
	for _, s := range in {
		out = append(out, domain.RolloutStage{
			Name:           s.Name,
			TrafficPercent: s.TrafficPercent,
			Dwell:          time.Duration(s.DwellSeconds) * time.Second,
		})
	}
	return out
}

func toConfig(in *configRequest) *domain.RolloutConfig {
	if in == nil {
		return nil
	}
	cfg := domain.DefaultRolloutConfig()
	if in.FailureThreshold != nil {
		cfg.FailureThreshold = *in.FailureThreshold
	}
	if in.CheckIntervalSeconds != nil {
		cfg.CheckInterval = time.Duration(*in.CheckIntervalSeconds) * time.Second
	}
	if in.WarmupSeconds != nil {
		cfg.WarmupPeriod = time.Duration(*in.WarmupSeconds) * time.Second
	}
	if t := in.Thresholds; t != nil {
		if t.AbsoluteErrorRate != nil {
			cfg.Thresholds.AbsoluteErrorRate = *t.AbsoluteErrorRate
		}
		if t.AbsoluteLatencyMs != nil {
			cfg.Thresholds.AbsoluteLatencyMs = *t.AbsoluteLatencyMs
		}
		if t.ThroughputFloor != nil {
			cfg.Thresholds.ThroughputFloor = *t.ThroughputFloor
		}
		if t.ErrorRateRegression != nil {
			cfg.Thresholds.ErrorRateRegression = *t.ErrorRateRegression
		}
		if t.LatencyRegression != nil {
			cfg.Thresholds.LatencyRegression = *t.LatencyRegression
		}
	}
	return &cfg
}

func toSession(s domain.RolloutSession) sessionResponse {
	stages := make([]stageResponse, 0, len(s.Stages))
	for _, st := range s.Stages {
		stages = append(stages, stageResponse{
			Name:           st.Name,
			TrafficPercent: st.TrafficPercent,
			DwellSeconds:   int(st.Dwell / time.Second),
		})
	}
	samples := make([]sampleResponse, 0, len(s.Samples))
	for _, sm := range s.Samples {
		samples = append(samples, toSample(sm))
	}
	resp := sessionResponse{
		ID:                  string(s.ID),
		ServiceID:           s.ServiceID,
		Version:             s.Version,
		Stages:              stages,
		CurrentStageIndex:   s.CurrentStageIndex,
		Status:              string(s.Status),
		Samples:             samples,
		ConsecutiveFailures: s.ConsecutiveFailures,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
	if s.Baseline != nil {
		b := toSample(*s.Baseline)
		resp.Baseline = &b
	}
	return resp
}

func toSample(s domain.MetricSample) sampleResponse {
	return sampleResponse{
		Timestamp:      s.Timestamp,
		Source:         s.Source,
		ErrorRate:      s.ErrorRate,
		ResponseTimeMs: s.ResponseTimeMs,
		Throughput:     s.Throughput,
	}
}
