// Package metrics exposes Prometheus collectors for the HTTP surface and the
// attempt lifecycle.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AttemptsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempts_started_total",
			Help: "Attempts started or resumed",
		},
		[]string{"resumed"},
	)

	AttemptsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempts_completed_total",
			Help: "Attempts closed by submission or timeout, by resulting state",
		},
		[]string{"state"},
	)

	AdmissionDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_admission_denied_total",
			Help: "Attempt starts refused by the admission controller",
		},
		[]string{"reason"},
	)

	AnswersSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_answers_saved_total",
			Help: "Answers saved during in-progress attempts",
		},
	)

	AnswersGraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_answers_graded_total",
			Help: "Answers graded, by question type and grade status",
		},
		[]string{"type", "status"},
	)

	ManualGrades = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_manual_grades_total",
			Help: "Answers graded by a human",
		},
	)

	GradingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exam_attempt_grading_duration_seconds",
			Help:    "Time spent grading and persisting one attempt on submit",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
)

// Init registers every collector with the default registry. Call once.
func Init() {
	prometheus.MustRegister(
		RequestCounter,
		RequestDuration,
		AttemptsStarted,
		AttemptsCompleted,
		AdmissionDenied,
		AnswersSaved,
		AnswersGraded,
		ManualGrades,
		GradingDuration,
	)
}

// ObserveSince records the elapsed time on a histogram.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
