// Package metricshttp implements [domain.MetricsSource] against an HTTP
// metrics aggregator exposing per-service health summaries.
package metricshttp

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/canarygate/canarygate/internal/domain"
)

// Client reads one aggregated health snapshot per call from the
// aggregator's per-service metrics endpoint.
type Client struct {
	http *resty.Client
}

// New returns a Client for the aggregator at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

type metricsResponse struct {
	ErrorRate      float64 `json:"errorRate"`
	ResponseTimeMs float64 `json:"responseTimeMs"`
	Throughput     float64 `json:"throughput"`
}

// validate rejects readings that violate the sample ranges: an error rate
// outside [0, 1] or a negative latency or throughput is an unusable
// reading, not a usable unhealthy one.
func (m metricsResponse) validate() error {
	if m.ErrorRate < 0 || m.ErrorRate > 1 {
		return fmt.Errorf("error rate %v outside [0, 1]", m.ErrorRate)
	}
	if m.ResponseTimeMs < 0 {
		return fmt.Errorf("negative response time %v", m.ResponseTimeMs)
	}
	if m.Throughput < 0 {
		return fmt.Errorf("negative throughput %v", m.Throughput)
	}
	return nil
}

func (c *Client) Sample(ctx context.Context, serviceID string) (domain.MetricSample, error) {
	if serviceID == "" {
		return domain.MetricSample{}, fmt.Errorf("%w: empty service id", domain.ErrInvalidArgument)
	}

	var body metricsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("service", serviceID).
		SetResult(&body).
		Get("/api/v1/services/{service}/metrics")
	if err != nil {
		return domain.MetricSample{}, fmt.Errorf("%w: sample %s: %v", domain.ErrMetricsUnavailable, serviceID, err)
	}
	if resp.IsError() {
		return domain.MetricSample{}, fmt.Errorf("%w: sample %s: aggregator returned %d", domain.ErrMetricsUnavailable, serviceID, resp.StatusCode())
	}
	if err := body.validate(); err != nil {
		return domain.MetricSample{}, fmt.Errorf("%w: sample %s: %v", domain.ErrMetricsUnavailable, serviceID, err)
	}

	return domain.MetricSample{
		Timestamp:      time.Now().UTC(),
		ErrorRate:      body.ErrorRate,
		ResponseTimeMs: body.ResponseTimeMs,
		Throughput:     body.Throughput,
	}, nil
}
