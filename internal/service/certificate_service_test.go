package service

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/jobs"
	"github.com/noah-isme/lms-progress-api/pkg/storage"
)

type certificateFixture struct {
	progress *ProgressService
	certs    *CertificateService
	repo     *mockEnrollmentRepo
	archive  *storage.LocalStorage
}

func newCertificateFixture(t *testing.T) certificateFixture {
	t.Helper()
	repo := newMockEnrollmentRepo()
	catalog := newMockCatalog(courseWithLessons("go-101", "Intro to Go", "l1", "l2", "l3", "l4", "l5"))
	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	repo.seed(models.Enrollment{StudentID: ada.StudentID, CourseID: "go-101"})
	progress := NewProgressService(repo, catalog, nil, nil, nil, nil, nil)
	progress.now = func() time.Time { return time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC) }
	certs := NewCertificateService(repo, catalog, nil, archive, signer, NewMetricsService(), nil, CertificateServiceConfig{
		IssuerName:      "LMS Academy",
		DownloadBaseURL: "https://lms.example.com/api/v1",
	})
	return certificateFixture{progress: progress, certs: certs, repo: repo, archive: archive}
}

func (f certificateFixture) complete(t *testing.T, lessons ...string) {
	t.Helper()
	for _, lesson := range lessons {
		_, err := f.progress.CompleteLesson(context.Background(), ada, "go-101", lesson)
		require.NoError(t, err)
	}
}

func TestCertificateServiceRequiresCompletion(t *testing.T) {
	f := newCertificateFixture(t)
	ctx := context.Background()

	_, err := f.certs.Issue(ctx, models.Principal{StudentID: "stu-9"}, "go-101")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotEnrolled))

	f.complete(t, "l1", "l2", "l3", "l4")
	_, err = f.certs.Issue(ctx, ada, "go-101")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCourseNotCompleted))

	f.complete(t, "l5")
	cert, err := f.certs.Issue(ctx, ada, "go-101")
	require.NoError(t, err)
	assert.Equal(t, "Intro to Go", cert.CourseTitle)
	assert.Equal(t, "Ada Lovelace", cert.StudentName)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC), cert.IssuedAt)
	assert.Contains(t, cert.Body, "Ada Lovelace")
	assert.Len(t, cert.Fingerprint, 64)
	assert.True(t, strings.HasPrefix(string(cert.PDF), "%PDF"))
}

func TestCertificateServiceIsDeterministic(t *testing.T) {
	f := newCertificateFixture(t)
	f.complete(t, "l1", "l2", "l3", "l4", "l5")

	first, err := f.certs.Issue(context.Background(), ada, "go-101")
	require.NoError(t, err)
	second, err := f.certs.Issue(context.Background(), ada, "go-101")
	require.NoError(t, err)

	assert.Equal(t, first.Number, second.Number)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.PDF, second.PDF)
	assert.Equal(t, certificateNumber("stu-1", "go-101"), first.Number)
	assert.NotEqual(t, certificateNumber("stu-2", "go-101"), first.Number)
}

func TestCertificateServiceLinkAndDownload(t *testing.T) {
	f := newCertificateFixture(t)
	f.complete(t, "l1", "l2", "l3", "l4", "l5")
	ctx := context.Background()

	link, err := f.certs.Link(ctx, ada, "go-101")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link.URL, "https://lms.example.com/api/v1/certificates/download?token="))
	assert.True(t, f.archive.Exists("certificates/stu-1/go-101.pdf"))

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)
	data, filename, err := f.certs.ResolveDownload(ctx, parsed.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, "certificate-"+link.Number+".pdf", filename)

	cert, err := f.certs.Issue(ctx, ada, "go-101")
	require.NoError(t, err)
	assert.Equal(t, cert.PDF, data)

	_, _, err = f.certs.ResolveDownload(ctx, parsed.Query().Get("token")+"x")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestCertificateServicePrerenderJob(t *testing.T) {
	f := newCertificateFixture(t)
	ctx := context.Background()
	job := jobs.Job{Type: JobCertificatePrerender, Payload: CertificateJobPayload{StudentID: ada.StudentID, StudentName: ada.StudentName, CourseID: "go-101"}}

	err := f.certs.HandlePrerenderJob(ctx, job)
	assert.True(t, appErrors.Is(err, appErrors.ErrCourseNotCompleted))

	f.complete(t, "l1", "l2", "l3", "l4", "l5")
	require.NoError(t, f.certs.HandlePrerenderJob(ctx, job))
	assert.True(t, f.archive.Exists("certificates/stu-1/go-101.pdf"))
	require.NoError(t, f.certs.HandlePrerenderJob(ctx, job), "already archived is a no-op")

	assert.Error(t, f.certs.HandlePrerenderJob(ctx, jobs.Job{Type: JobCertificatePrerender, Payload: "bogus"}))
}

func TestCertificateServiceCleanup(t *testing.T) {
	f := newCertificateFixture(t)
	f.complete(t, "l1", "l2", "l3", "l4", "l5")
	_, err := f.certs.Link(context.Background(), ada, "go-101")
	require.NoError(t, err)

	removed, err := f.certs.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "fresh archives are kept")

	f.certs.cfg.Retention = -time.Minute
	removed, err = f.certs.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, f.archive.Exists("certificates/stu-1/go-101.pdf"))
}
