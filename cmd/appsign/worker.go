package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/appsign"
	"github.com/meigma/appsign/queue"
)

type workerFlags struct {
	storageFlags
	workers     int
	maxRetries  uint64
	metricsAddr string
}

type resultLine struct {
	ID       string `json:"id"`
	Path     string `json:"path,omitempty"`
	Attempts int    `json:"attempts"`
	Shared   bool   `json:"shared,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newWorkerCmd(g *globalFlags) *cobra.Command {
	f := &workerFlags{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Sign jobs read as JSON lines from stdin",
		Long: `Read one JSON job per line from stdin, sign them on a pool of workers and
write one JSON result line per job to stdout.

A job looks like:

  {"id": "...", "package": {"guid": "...", "version_id": 42, "packaged": true,
   "file_path": "...", "signed_file_path": "...", "signed_reviewer_file_path": "..."},
   "reviewer": false, "resign": false}

Jobs without an id get a generated one. Empty lines are ignored; lines that
are not valid jobs or are longer than 1 MiB are logged and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, g, f, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	addStorageFlags(cmd, &f.storageFlags)
	cmd.Flags().IntVar(&f.workers, "workers", 4, "number of concurrent signing workers")
	cmd.Flags().Uint64Var(&f.maxRetries, "max-retries", 3, "retries for transport and status failures")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func runWorker(ctx context.Context, g *globalFlags, f *workerFlags, in io.Reader, out, errOut io.Writer) error {
	logger, err := g.logger(errOut)
	if err != nil {
		return err
	}

	var opts []appsign.Option
	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, appsign.WithMetrics(reg))
		srv := serveMetrics(f.metricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	s, err := newSigner(ctx, g, &f.storageFlags, logger, opts...)
	if err != nil {
		return err
	}
	pool := queue.New(s,
		queue.WithWorkers(f.workers),
		queue.WithMaxRetries(f.maxRetries),
		queue.WithLogger(logger),
	)

	jobs := make(chan queue.Job)
	results := make(chan queue.Result)
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer close(jobs)
		return readJobs(ctx, in, jobs, logger)
	})
	eg.Go(func() error {
		defer close(results)
		return pool.Run(ctx, jobs, results)
	})
	eg.Go(func() error {
		enc := json.NewEncoder(out)
		for res := range results {
			line := resultLine{ID: res.JobID, Path: res.Path, Attempts: res.Attempts, Shared: res.Shared}
			if res.Err != nil {
				line.Error = res.Err.Error()
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
		return nil
	})
	return eg.Wait()
}

// maxJobLine bounds a single job line; longer lines are skipped.
const maxJobLine = 1 << 20

var errLineTooLong = errors.New("job line too long")

type jobLine struct {
	n    int
	data []byte
}

// readJobs decodes one job per line. Lines that are empty are ignored; lines
// that do not decode or exceed maxJobLine are logged and skipped.
//
// readJobs returns as soon as ctx is done. A read already blocked on in is
// left behind and ends when in is closed.
func readJobs(ctx context.Context, in io.Reader, jobs chan<- queue.Job, logger *slog.Logger) error {
	lines := make(chan jobLine)
	errc := make(chan error, 1)
	go func() {
		errc <- scanLines(ctx, in, lines, logger)
	}()

	for {
		var l jobLine
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok = <-lines:
		}
		if !ok {
			return <-errc
		}

		var job queue.Job
		if err := json.Unmarshal(l.data, &job); err != nil {
			logger.Warn("skipping malformed job", slog.Int("line", l.n), slog.Any("error", err))
			continue
		}
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		select {
		case jobs <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func scanLines(ctx context.Context, in io.Reader, lines chan<- jobLine, logger *slog.Logger) error {
	defer close(lines)
	br := bufio.NewReader(in)
	for n := 1; ; n++ {
		data, err := readLine(br, maxJobLine)
		if errors.Is(err, errLineTooLong) {
			logger.Warn("skipping malformed job", slog.Int("line", n), slog.Any("error", err))
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if len(data) > 0 {
			select {
			case lines <- jobLine{n: n, data: data}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			return nil
		}
	}
}

// readLine returns the next line without its line ending. A line longer than
// limit is consumed and reported as errLineTooLong.
func readLine(br *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		frag, err := br.ReadSlice('\n')
		if !tooLong {
			line = append(line, frag...)
			if len(line) > limit+2 {
				tooLong = true
				line = nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if tooLong || len(line) > limit {
			return nil, errLineTooLong
		}
		return line, err
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("addr", addr), slog.Any("error", err))
		}
	}()
	return srv
}
