package queue

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultWorkers    = 4
	defaultMaxRetries = 3
)

func defaultBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      time.Minute,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of concurrent workers. Values < 1 are ignored.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger. Defaults to discarding all output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithBackOff sets the retry schedule. newBackOff is called once per job.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(p *Pool) {
		if newBackOff != nil {
			p.newBackOff = newBackOff
		}
	}
}

// WithMaxRetries caps the retries after the first attempt. Zero disables retries.
func WithMaxRetries(n uint64) Option {
	return func(p *Pool) {
		p.maxRetries = n
	}
}
