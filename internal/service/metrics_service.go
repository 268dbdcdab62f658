package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic, the dashboard cache
// and the progress/assessment domain.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheLookups    *prometheus.CounterVec

	enrollments       prometheus.Counter
	lessonCompletions prometheus.Counter
	courseCompletions prometheus.Counter
	quizAttempts      *prometheus.CounterVec
	autoSubmits       prometheus.Counter
	sessionsExpired   prometheus.Counter
	certificates      *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache writes",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups partitioned by result",
		}, []string{"result"}),
		enrollments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lms_enrollments_total",
			Help: "Enrollments created",
		}),
		lessonCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lms_lesson_completions_total",
			Help: "Lessons newly marked complete",
		}),
		courseCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lms_course_completions_total",
			Help: "Enrollments that reached 100 percent",
		}),
		quizAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lms_quiz_attempts_total",
			Help: "Graded quiz attempts partitioned by outcome",
		}, []string{"passed"}),
		autoSubmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lms_quiz_auto_submits_total",
			Help: "Live sessions submitted by the countdown",
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lms_quiz_sessions_expired_total",
			Help: "Quiz sessions expired without a submission",
		}),
		certificates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lms_certificates_total",
			Help: "Certificate renders partitioned by trigger",
		}, []string{"trigger"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.cacheLatency, m.cacheWrite, m.cacheLookups,
		m.enrollments, m.lessonCompletions, m.courseCompletions, m.quizAttempts, m.autoSubmits, m.sessionsExpired, m.certificates,
		goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks the duration of cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// EnrollmentCreated counts a new enrollment.
func (m *MetricsService) EnrollmentCreated() {
	if m == nil {
		return
	}
	m.enrollments.Inc()
}

// LessonCompleted counts a lesson that flipped to completed.
func (m *MetricsService) LessonCompleted() {
	if m == nil {
		return
	}
	m.lessonCompletions.Inc()
}

// CourseCompleted counts an enrollment reaching 100 percent.
func (m *MetricsService) CourseCompleted() {
	if m == nil {
		return
	}
	m.courseCompletions.Inc()
}

// QuizAttemptGraded counts a persisted attempt.
func (m *MetricsService) QuizAttemptGraded(passed bool) {
	if m == nil {
		return
	}
	m.quizAttempts.WithLabelValues(strconv.FormatBool(passed)).Inc()
}

// QuizAutoSubmitted counts a countdown-triggered submission.
func (m *MetricsService) QuizAutoSubmitted() {
	if m == nil {
		return
	}
	m.autoSubmits.Inc()
}

// QuizSessionsExpired adds n expired sessions.
func (m *MetricsService) QuizSessionsExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsExpired.Add(float64(n))
}

// CertificateRendered counts a rendered certificate; trigger is "download", "link" or "prerender".
func (m *MetricsService) CertificateRendered(trigger string) {
	if m == nil {
		return
	}
	m.certificates.WithLabelValues(trigger).Inc()
}
