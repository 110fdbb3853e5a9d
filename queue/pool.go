// Package queue runs signing jobs on a bounded pool of workers.
//
// The pool owns the at-most-one-concurrent-attempt rule: jobs for the same
// artifact (app GUID, version and endpoint kind) that are in flight at the
// same time share a single signing attempt. Transport and status failures
// are retried with backoff; every other failure is reported as is.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/appsign"
)

// VersionSigner signs one version of an app. *appsign.Signer implements it.
type VersionSigner interface {
	SignVersion(ctx context.Context, pkg appsign.Package, opts ...appsign.SignOption) (string, error)
}

// Job is a request to sign one version.
type Job struct {
	ID       string          `json:"id"`
	Package  appsign.Package `json:"package"`
	Reviewer bool            `json:"reviewer"`
	Resign   bool            `json:"resign"`
}

// NewJob returns a job for pkg with a fresh ID.
func NewJob(pkg appsign.Package) Job {
	return Job{ID: uuid.NewString(), Package: pkg}
}

// Key identifies the artifact a job produces.
func (j Job) Key() string {
	kind := appsign.KindPublic
	if j.Reviewer {
		kind = appsign.KindReviewer
	}
	return fmt.Sprintf("%s/%d/%s", j.Package.GUID, j.Package.VersionID, kind)
}

// Result is the outcome of a job.
type Result struct {
	JobID string

	// Path is the signed file path. Empty on failure.
	Path string

	// Attempts is the number of signing attempts made.
	Attempts int

	// Shared is true when the job joined an attempt started for another job
	// targeting the same artifact.
	Shared bool

	Err error
}

// Pool runs jobs on a fixed number of workers.
type Pool struct {
	signer     VersionSigner
	workers    int
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
	maxRetries uint64
	inflight   singleflight.Group
}

type attempt struct {
	path     string
	attempts int
}

// New creates a pool that signs with signer.
func New(signer VersionSigner, opts ...Option) *Pool {
	p := &Pool{
		signer:     signer,
		workers:    defaultWorkers,
		logger:     slog.New(slog.DiscardHandler),
		newBackOff: defaultBackOff,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes jobs until the channel is closed or ctx is done, sending one
// Result per job to results. Run does not close results.
//
// Job failures are reported through Result.Err and do not stop the pool.
// Run returns the context error if ctx ends before jobs is drained.
func (p *Pool) Run(ctx context.Context, jobs <-chan Job, results chan<- Result) error {
	eg, ctx := errgroup.WithContext(ctx)
	for range p.workers {
		eg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					res := p.Do(ctx, job)
					select {
					case results <- res:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		})
	}
	return eg.Wait()
}

// Do runs a single job on the calling goroutine.
func (p *Pool) Do(ctx context.Context, job Job) Result {
	logger := p.logger.With(slog.String("job", job.ID), slog.String("artifact", job.Key()))
	start := time.Now()

	v, err, shared := p.inflight.Do(job.Key(), func() (any, error) {
		return p.sign(ctx, logger, job)
	})
	res := Result{JobID: job.ID, Shared: shared, Err: err}
	if a, ok := v.(attempt); ok {
		res.Path = a.path
		res.Attempts = a.attempts
	}
	if err != nil {
		res.Path = ""
		logger.Error("signing job failed", slog.Int("attempts", res.Attempts), slog.Any("error", err))
		return res
	}
	logger.Info("signing job complete",
		slog.String("path", res.Path),
		slog.Bool("shared", shared),
		slog.Duration("elapsed", time.Since(start)))
	return res
}

func (p *Pool) sign(ctx context.Context, logger *slog.Logger, job Job) (attempt, error) {
	var a attempt
	op := func() error {
		a.attempts++
		path, err := p.signer.SignVersion(ctx, job.Package,
			appsign.SignWithReviewer(job.Reviewer),
			appsign.SignWithResign(job.Resign),
		)
		if err != nil {
			if !appsign.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		a.path = path
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.maxRetries), ctx)
	err := backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		logger.Warn("signing failed, retrying", slog.Duration("in", d), slog.Any("error", err))
	})
	return a, err
}
