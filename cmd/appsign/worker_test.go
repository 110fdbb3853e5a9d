package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/appsign/queue"
)

func collectJobs(t *testing.T, in io.Reader) ([]queue.Job, error) {
	t.Helper()
	jobs := make(chan queue.Job)
	var got []queue.Job
	done := make(chan struct{})
	go func() {
		defer close(done)
		for j := range jobs {
			got = append(got, j)
		}
	}()
	err := readJobs(context.Background(), in, jobs, slog.New(slog.DiscardHandler))
	close(jobs)
	<-done
	return got, err
}

func TestReadJobsSkipsOversizedLines(t *testing.T) {
	t.Parallel()

	huge := `{"id": "` + strings.Repeat("x", maxJobLine) + `"}`
	in := strings.Join([]string{
		`{"id": "first"}`,
		huge,
		`{"id": "last"}`,
	}, "\n")

	got, err := collectJobs(t, strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID)
	assert.Equal(t, "last", got[1].ID)
}

func TestReadJobsOversizedFinalLine(t *testing.T) {
	t.Parallel()

	in := `{"id": "first"}` + "\n" + strings.Repeat("x", maxJobLine+10)
	got, err := collectJobs(t, strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].ID)
}

func TestReadJobsAssignsIDs(t *testing.T) {
	t.Parallel()

	got, err := collectJobs(t, strings.NewReader("\r\n{}\r\n\n{\"id\": \"given\"}"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, "given", got[1].ID)
}

func TestReadJobsStopsOnCancel(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- readJobs(ctx, pr, make(chan queue.Job), slog.New(slog.DiscardHandler))
	}()
	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("readJobs did not return after cancel")
	}
}

func TestReadLine(t *testing.T) {
	t.Parallel()

	br := bufio.NewReaderSize(strings.NewReader("abc\r\n"+strings.Repeat("y", 40)+"\nok"), 16)

	line, err := readLine(br, 8)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(line))

	_, err = readLine(br, 8)
	require.ErrorIs(t, err, errLineTooLong)

	line, err = readLine(br, 8)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ok", string(line))
}
