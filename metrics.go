package appsign

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values of appsign_sign_duration_seconds.
const (
	outcomeSuccess    = "success"
	outcomeExtraction = "extraction_error"
	outcomeRequest    = "request_error"
	outcomeStatus     = "status_error"
	outcomeResponse   = "response_error"
	outcomeOther      = "error"
)

type metrics struct {
	duration *prometheus.HistogramVec
	unsigned prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "appsign",
			Name:      "sign_duration_seconds",
			Help:      "Time spent signing an app, by endpoint kind and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "outcome"}),
		unsigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "appsign",
			Name:      "unsigned_copies_total",
			Help:      "Apps copied unsigned because no signing server is active.",
		}),
	}
	if err := reg.Register(m.duration); err != nil {
		return nil, err
	}
	if err := reg.Register(m.unsigned); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) observe(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

func (m *metrics) unsignedCopy() {
	if m == nil {
		return
	}
	m.unsigned.Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrExtraction):
		return outcomeExtraction
	case errors.Is(err, ErrRequest):
		return outcomeRequest
	case errors.Is(err, ErrUnexpectedStatus):
		return outcomeStatus
	case errors.Is(err, ErrMalformedResponse):
		return outcomeResponse
	default:
		return outcomeOther
	}
}
