package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
)

type fakeDashboardSrv struct {
	resp *dto.DashboardResponse
	hit  bool
	err  error
	seen models.Principal
}

func (f *fakeDashboardSrv) Get(_ context.Context, principal models.Principal) (*dto.DashboardResponse, bool, error) {
	f.seen = principal
	return f.resp, f.hit, f.err
}

func TestDashboardHandlerSuccess(t *testing.T) {
	srv := &fakeDashboardSrv{
		resp: &dto.DashboardResponse{Courses: []dto.DashboardCourse{{CourseID: "go-101", Title: "Intro to Go"}}},
		hit:  true,
	}
	handler := NewDashboardHandler(srv)

	c, rec := newTestContext(http.MethodGet, "/dashboard", nil, testPrincipal)
	handler.Get(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testPrincipal, srv.seen)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	var dashboard dto.DashboardResponse
	decodeData(t, rec, &dashboard)
	assert.Equal(t, "Intro to Go", dashboard.Courses[0].Title)
}

func TestDashboardHandlerErrors(t *testing.T) {
	handler := NewDashboardHandler(&fakeDashboardSrv{err: errors.New("db down")})
	c, rec := newTestContext(http.MethodGet, "/dashboard", nil, testPrincipal)
	handler.Get(c)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/dashboard", nil, models.Principal{})
	handler.Get(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/dashboard", nil, testPrincipal)
	NewDashboardHandler(nil).Get(c)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
