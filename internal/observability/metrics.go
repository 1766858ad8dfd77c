package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecognitionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guestgreet",
		Name:      "recognition_outcomes_total",
		Help:      "Recognition attempts by outcome",
	}, []string{"outcome"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "guestgreet",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected in submitted frames",
	})

	RemoteCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guestgreet",
		Name:      "face_service_request_duration_seconds",
		Help:      "Duration of face service calls",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"operation", "status"})

	GreetingsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guestgreet",
		Name:      "greetings_published_total",
		Help:      "Greetings delivered to notification channels",
	}, []string{"channel"})

	FrameQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guestgreet",
		Name:      "frame_queue_depth",
		Help:      "Number of frames waiting for a worker",
	})

	FrameActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guestgreet",
		Name:      "frame_active_jobs",
		Help:      "Number of frames currently being processed",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guestgreet",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// Ergebnisbezeichner für RecognitionOutcomes
const (
	OutcomeGreeted      = "greeted"
	OutcomeUnmatched    = "unmatched"
	OutcomeSuppressed   = "suppressed"
	OutcomeDisabled     = "disabled"
	OutcomeNoCandidates = "no_candidates"
	OutcomeError        = "error"
)
