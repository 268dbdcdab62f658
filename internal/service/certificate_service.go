package service

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/export"
	"github.com/noah-isme/lms-progress-api/pkg/jobs"
	"github.com/noah-isme/lms-progress-api/pkg/storage"
)

// JobCertificatePrerender is the job type that archives a certificate after course completion.
const JobCertificatePrerender = "certificate.prerender"

// CertificateJobPayload identifies the certificate to pre-render.
type CertificateJobPayload struct {
	StudentID   string
	StudentName string
	CourseID    string
}

// certificateNamespace seeds the name-based UUIDs used as certificate numbers.
var certificateNamespace = uuid.MustParse("6f1d3a8e-2b7c-4e59-9a0d-5c3b8e7f1a24")

type certificateRenderer interface {
	Render(doc export.CertificateDocument) ([]byte, error)
}

type certificateArchive interface {
	Save(relPath string, data []byte) (string, error)
	Exists(relPath string) bool
	Open(relPath string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type downloadSigner interface {
	Sign(subject, relPath string) (string, time.Time, error)
	Verify(token string) (storage.DownloadClaims, error)
}

type enrollmentFinder interface {
	Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
}

// CertificateServiceConfig configures issuance and archival.
type CertificateServiceConfig struct {
	IssuerName string
	// DownloadBaseURL prefixes signed links, e.g. "https://lms.example.com/api/v1".
	DownloadBaseURL string
	Retention       time.Duration
}

// CertificateService issues completion certificates and manages their archive.
type CertificateService struct {
	enrollments enrollmentFinder
	catalog     courseCatalog
	renderer    certificateRenderer
	archive     certificateArchive
	signer      downloadSigner
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         CertificateServiceConfig
}

// NewCertificateService constructs CertificateService. archive and signer may be nil, in which
// case only direct downloads are available.
func NewCertificateService(enrollments enrollmentFinder, catalog courseCatalog, renderer certificateRenderer, archive certificateArchive, signer downloadSigner, metrics *MetricsService, logger *zap.Logger, cfg CertificateServiceConfig) *CertificateService {
	if renderer == nil {
		renderer = export.NewCertificateRenderer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IssuerName == "" {
		cfg.IssuerName = "LMS Academy"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &CertificateService{
		enrollments: enrollments,
		catalog:     catalog,
		renderer:    renderer,
		archive:     archive,
		signer:      signer,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// Issue renders the caller's certificate for a completed course. Repeated calls for the same
// enrollment return identical content because the issue date is the completion timestamp.
func (s *CertificateService) Issue(ctx context.Context, principal models.Principal, courseID string) (*models.Certificate, error) {
	return s.issue(ctx, principal, courseID, "download")
}

func (s *CertificateService) issue(ctx context.Context, principal models.Principal, courseID, trigger string) (*models.Certificate, error) {
	enrollment, err := s.enrollments.Find(ctx, principal.StudentID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !enrollment.IsComplete() {
		return nil, appErrors.Clone(appErrors.ErrCourseNotCompleted, fmt.Sprintf("course is %d%% complete", enrollment.OverallPercent))
	}
	title, err := s.catalog.GetCourseTitle(courseID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCourse, "")
	}

	issuedAt := enrollment.UpdatedAt
	if enrollment.CompletedAt != nil {
		issuedAt = *enrollment.CompletedAt
	}
	issuedAt = issuedAt.UTC().Truncate(time.Second)

	name := principal.StudentName
	if name == "" {
		name = principal.StudentID
	}
	cert := &models.Certificate{
		Number:      certificateNumber(principal.StudentID, courseID),
		StudentID:   principal.StudentID,
		StudentName: name,
		CourseID:    courseID,
		CourseTitle: title,
		IssuedAt:    issuedAt,
	}
	cert.Body = fmt.Sprintf("Certificate %s\nThis certifies that %s has completed the course %q.\nIssued by %s on %s.",
		cert.Number, cert.StudentName, cert.CourseTitle, s.cfg.IssuerName, issuedAt.Format("2006-01-02"))
	sum := blake2b.Sum256([]byte(cert.Body))
	cert.Fingerprint = hex.EncodeToString(sum[:])

	pdf, err := s.renderer.Render(export.CertificateDocument{
		Number:      cert.Number,
		StudentName: cert.StudentName,
		CourseTitle: cert.CourseTitle,
		IssuerName:  s.cfg.IssuerName,
		IssuedAt:    issuedAt,
		Fingerprint: cert.Fingerprint,
	})
	if err != nil {
		s.logger.Error("render certificate failed", zap.String("course_id", courseID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	cert.PDF = pdf
	s.metrics.CertificateRendered(trigger)
	return cert, nil
}

// Link archives the caller's certificate and returns a signed, expiring download URL.
func (s *CertificateService) Link(ctx context.Context, principal models.Principal, courseID string) (*models.CertificateLink, error) {
	if s.archive == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "certificate archive not configured")
	}
	cert, err := s.issue(ctx, principal, courseID, "link")
	if err != nil {
		return nil, err
	}
	relPath := archivePath(principal.StudentID, courseID)
	if _, err := s.archive.Save(relPath, cert.PDF); err != nil {
		s.logger.Error("archive certificate failed", zap.String("path", relPath), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive certificate")
	}
	token, expiresAt, err := s.signer.Sign(cert.Number, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign certificate link")
	}
	return &models.CertificateLink{
		Number:    cert.Number,
		URL:       s.cfg.DownloadBaseURL + "/certificates/download?token=" + url.QueryEscape(token),
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveDownload verifies a signed token and returns the archived PDF and its file name.
func (s *CertificateService) ResolveDownload(ctx context.Context, token string) ([]byte, string, error) {
	if s.archive == nil || s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "certificate archive not configured")
	}
	claims, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.archive.Open(claims.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "certificate no longer archived")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open certificate")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read certificate")
	}
	return data, "certificate-" + claims.Subject + ".pdf", nil
}

// HandlePrerenderJob archives the certificate of a freshly completed course.
func (s *CertificateService) HandlePrerenderJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(CertificateJobPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type)
	}
	if s.archive == nil {
		return nil
	}
	relPath := archivePath(payload.StudentID, payload.CourseID)
	if s.archive.Exists(relPath) {
		return nil
	}
	principal := models.Principal{StudentID: payload.StudentID, StudentName: payload.StudentName, Role: models.RoleStudent}
	cert, err := s.issue(ctx, principal, payload.CourseID, "prerender")
	if err != nil {
		return err
	}
	if _, err := s.archive.Save(relPath, cert.PDF); err != nil {
		return fmt.Errorf("archive certificate: %w", err)
	}
	s.logger.Info("certificate archived", zap.String("path", relPath), zap.String("number", cert.Number))
	return nil
}

// Cleanup removes archived certificates older than the configured retention.
func (s *CertificateService) Cleanup(ctx context.Context) (int, error) {
	if s.archive == nil {
		return 0, nil
	}
	removed, err := s.archive.CleanupOlderThan(s.cfg.Retention)
	if err != nil {
		return 0, err
	}
	if len(removed) > 0 {
		s.logger.Info("certificate archive cleaned", zap.Int("removed", len(removed)))
	}
	return len(removed), nil
}

func certificateNumber(studentID, courseID string) string {
	return uuid.NewSHA1(certificateNamespace, []byte(studentID+"|"+courseID)).String()
}

func archivePath(studentID, courseID string) string {
	return path.Join("certificates", studentID, courseID+".pdf")
}
