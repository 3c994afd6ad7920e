// Package routerhttp implements [domain.TrafficRouter] against the HTTP API
// of a traffic-splitting router (ingress controller or service mesh).
package routerhttp

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/canarygate/canarygate/internal/domain"
	"github.com/canarygate/canarygate/internal/metrics"
)

// Client shifts canary traffic by POSTing the desired percentage to the
// router's per-service traffic endpoint. The router applies the split
// absolutely, so repeating a call is safe.
type Client struct {
	http *resty.Client
}

// New returns a Client for the router at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

type trafficRequest struct {
	Percent int `json:"percent"`
}

func (c *Client) SetTrafficPercent(ctx context.Context, serviceID string, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: traffic percent %d out of range", domain.ErrInvalidArgument, percent)
	}
	if serviceID == "" {
		return fmt.Errorf("%w: empty service id", domain.ErrInvalidArgument)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("service", serviceID).
		SetBody(trafficRequest{Percent: percent}).
		Post("/api/v1/services/{service}/traffic")
	if err != nil {
		return fmt.Errorf("%w: shift %s to %d%%: %v", domain.ErrTrafficShiftFailed, serviceID, percent, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: shift %s to %d%%: router returned %d", domain.ErrTrafficShiftFailed, serviceID, percent, resp.StatusCode())
	}
	metrics.CountTrafficShift()
	return nil
}
