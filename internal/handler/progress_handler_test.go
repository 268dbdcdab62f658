package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
)

type fakeProgressSrv struct {
	completeErr error
	lastCourse  string
	lastLesson  string
	lastWatch   dto.WatchTimeRequest
}

func (f *fakeProgressSrv) CompleteLesson(_ context.Context, _ models.Principal, courseID, lessonID string) (*dto.ProgressSummary, error) {
	f.lastCourse, f.lastLesson = courseID, lessonID
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &dto.ProgressSummary{CourseID: courseID, CompletedLessons: 1, TotalLessons: 3, OverallPercent: 33}, nil
}

func (f *fakeProgressSrv) RecordWatchTime(_ context.Context, _ models.Principal, courseID, lessonID string, req dto.WatchTimeRequest) (*dto.ProgressSummary, error) {
	f.lastCourse, f.lastLesson, f.lastWatch = courseID, lessonID, req
	return &dto.ProgressSummary{CourseID: courseID}, nil
}

func (f *fakeProgressSrv) GetProgress(_ context.Context, principal models.Principal, courseID string) (*models.Enrollment, error) {
	return &models.Enrollment{StudentID: principal.StudentID, CourseID: courseID, OverallPercent: 33}, nil
}

func (f *fakeProgressSrv) CourseRoster(_ context.Context, courseID string) (*dto.CourseRoster, error) {
	if courseID != "go-101" {
		return nil, appErrors.Clone(appErrors.ErrInvalidCourse, "")
	}
	return &dto.CourseRoster{
		CourseID:     courseID,
		TotalLessons: 3,
		Students:     []dto.RosterEntry{{StudentID: "stu-1", OverallPercent: 33, CompletedLessons: 1, TotalLessons: 3}},
		Summary:      dto.RosterSummary{TotalStudents: 1, AverageProgress: 33},
	}, nil
}

func lessonParams() gin.Params {
	return gin.Params{{Key: "courseId", Value: "go-101"}, {Key: "lessonId", Value: "l1"}}
}

func TestProgressHandlerCompleteLesson(t *testing.T) {
	srv := &fakeProgressSrv{}
	handler := NewProgressHandler(srv)

	c, rec := newTestContext(http.MethodPost, "/courses/go-101/lessons/l1/complete", nil, testPrincipal)
	c.Params = lessonParams()
	handler.CompleteLesson(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "go-101", srv.lastCourse)
	assert.Equal(t, "l1", srv.lastLesson)
	var summary dto.ProgressSummary
	decodeData(t, rec, &summary)
	assert.Equal(t, 33, summary.OverallPercent)
}

func TestProgressHandlerMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{appErrors.Clone(appErrors.ErrNotEnrolled, ""), http.StatusForbidden, "NOT_ENROLLED"},
		{appErrors.Clone(appErrors.ErrInvalidLesson, ""), http.StatusNotFound, "INVALID_LESSON"},
	}
	for _, tc := range cases {
		handler := NewProgressHandler(&fakeProgressSrv{completeErr: tc.err})
		c, rec := newTestContext(http.MethodPost, "/courses/go-101/lessons/l1/complete", nil, testPrincipal)
		c.Params = lessonParams()
		handler.CompleteLesson(c)

		assert.Equal(t, tc.status, rec.Code)
		assert.Equal(t, tc.code, decodeEnvelope(t, rec).Error.Code)
	}
}

func TestProgressHandlerRecordWatchTime(t *testing.T) {
	srv := &fakeProgressSrv{}
	handler := NewProgressHandler(srv)

	c, rec := newTestContext(http.MethodPut, "/courses/go-101/lessons/l1/watch", strings.NewReader(`{"seconds_watched":95}`), testPrincipal)
	c.Params = lessonParams()
	handler.RecordWatchTime(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 95, srv.lastWatch.SecondsWatched)

	c, rec = newTestContext(http.MethodPut, "/courses/go-101/lessons/l1/watch", strings.NewReader(`{"seconds_watched":"lots"}`), testPrincipal)
	c.Params = lessonParams()
	handler.RecordWatchTime(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerGet(t *testing.T) {
	handler := NewProgressHandler(&fakeProgressSrv{})

	c, rec := newTestContext(http.MethodGet, "/courses/go-101/progress", nil, testPrincipal)
	c.Params = gin.Params{{Key: "courseId", Value: "go-101"}}
	handler.Get(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var enrollment models.Enrollment
	decodeData(t, rec, &enrollment)
	assert.Equal(t, "go-101", enrollment.CourseID)
	assert.Equal(t, 33, enrollment.OverallPercent)
}

func TestProgressHandlerRoster(t *testing.T) {
	handler := NewProgressHandler(&fakeProgressSrv{})

	c, rec := newTestContext(http.MethodGet, "/courses/go-101/students", nil, testPrincipal)
	c.Params = gin.Params{{Key: "courseId", Value: "go-101"}}
	handler.Roster(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var roster dto.CourseRoster
	decodeData(t, rec, &roster)
	require.Len(t, roster.Students, 1)
	assert.Equal(t, "stu-1", roster.Students[0].StudentID)
	assert.Equal(t, 33, roster.Summary.AverageProgress)

	c, rec = newTestContext(http.MethodGet, "/courses/nope/students", nil, testPrincipal)
	c.Params = gin.Params{{Key: "courseId", Value: "nope"}}
	handler.Roster(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
