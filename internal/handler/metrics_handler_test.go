package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/lms-progress-api/internal/models"
	"github.com/noah-isme/lms-progress-api/internal/service"
)

func TestMetricsHandlerEndpoints(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.EnrollmentCreated()
	handler := NewMetricsHandler(metrics, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
	})

	c, rec := newTestContext(http.MethodGet, "/metrics", nil, models.Principal{})
	handler.Prometheus(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lms_enrollments_total 1")

	c, rec = newTestContext(http.MethodGet, "/health", nil, models.Principal{})
	handler.Health(c)
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/ready", nil, models.Principal{})
	handler.Ready(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)
}

func TestMetricsHandlerReadyReportsFailures(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	c, rec := newTestContext(http.MethodGet, "/ready", nil, models.Principal{})
	handler.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	c, rec = newTestContext(http.MethodGet, "/metrics", nil, models.Principal{})
	handler.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
