package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lostctl/internal/engine"
	"lostctl/internal/metrics"
	"lostctl/internal/storage"
)

type funcProcessor func(ctx context.Context, job Job) Result

func (f funcProcessor) Process(ctx context.Context, job Job) Result { return f(ctx, job) }

func TestRunAllReturnsResultsInJobOrder(t *testing.T) {
	var calls atomic.Int32
	proc := funcProcessor(func(ctx context.Context, job Job) Result {
		calls.Add(1)
		if job.InputPath == "bad.png" {
			return Result{Error: errors.New("engine failed")}
		}
		return Result{Meta: map[string]any{"input": job.InputPath}}
	})
	store, err := storage.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()
	m := metrics.New()

	p := New(context.Background(), proc, Options{Concurrency: 3, Logger: slog.Default(), Store: store, Metrics: m})
	defer p.Stop()

	var jobs []Job
	for i, name := range []string{"a.png", "bad.png", "c.png", "d.png", "e.png", "f.png", "g.png", "h.png"} {
		jobs = append(jobs, Job{ID: fmt.Sprintf("job-%d", i), Type: JobIdentify, InputPath: name})
	}

	results := p.RunAll(context.Background(), jobs)
	require.Len(t, results, len(jobs))
	assert.Equal(t, int32(len(jobs)), calls.Load())
	for i, res := range results {
		assert.Equal(t, jobs[i].ID, res.Job.ID)
		if jobs[i].InputPath == "bad.png" {
			assert.Error(t, res.Error)
			continue
		}
		assert.NoError(t, res.Error)
		assert.Equal(t, jobs[i].InputPath, res.Meta["input"])
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))

	recent, err := store.RecentJobs(20)
	require.NoError(t, err)
	require.Len(t, recent, len(jobs))
	failed := 0
	for _, rec := range recent {
		if rec.Status == "failed" {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRunAllStopsOnContextCancel(t *testing.T) {
	release := make(chan struct{})
	proc := funcProcessor(func(ctx context.Context, job Job) Result {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return Result{}
	})
	p := New(context.Background(), proc, Options{Concurrency: 1})
	defer p.Stop()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	jobs := []Job{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}, {ID: "5"}}
	results := p.RunAll(ctx, jobs)
	require.Len(t, results, len(jobs))
	assert.ErrorIs(t, results[len(results)-1].Error, context.DeadlineExceeded)
}

func TestRunAllReturnsWhenStopped(t *testing.T) {
	started := make(chan struct{}, 1)
	proc := funcProcessor(func(ctx context.Context, job Job) Result {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return Result{Error: ctx.Err()}
	})
	p := New(context.Background(), proc, Options{Concurrency: 1})

	jobs := []Job{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	out := make(chan []Result, 1)
	go func() { out <- p.RunAll(context.Background(), jobs) }()

	<-started
	p.Stop()

	select {
	case results := <-out:
		require.Len(t, results, len(jobs))
		for i, res := range results {
			assert.Equal(t, jobs[i].ID, res.Job.ID)
			assert.ErrorIs(t, res.Error, context.Canceled, "job %s", res.Job.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunAll still waiting after Stop")
	}
}

func TestSubscribeReceivesResults(t *testing.T) {
	proc := funcProcessor(func(ctx context.Context, job Job) Result {
		att, _ := engine.ParseAttitude("attitude_known 1\n")
		return Result{Attitude: &att}
	})
	p := New(context.Background(), proc, Options{Concurrency: 2})
	results, unsub := p.Subscribe()
	defer unsub()

	require.NoError(t, p.Submit(Job{ID: "watch-1", Type: JobIdentify, InputPath: "x.png"}))

	select {
	case res := <-results:
		assert.Equal(t, "watch-1", res.Job.ID)
		require.NotNil(t, res.Attitude)
		assert.True(t, res.Attitude.Identified())
		assert.Greater(t, res.Duration, time.Duration(0))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	p.Stop()
	_, open := <-results
	assert.False(t, open, "stop must close subscriber channels")

	late, _ := p.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestSubmitReportsFullQueue(t *testing.T) {
	block := make(chan struct{})
	proc := funcProcessor(func(ctx context.Context, job Job) Result {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return Result{}
	})
	p := New(context.Background(), proc, Options{Concurrency: 1})
	defer p.Stop()
	defer close(block)

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = p.Submit(Job{ID: fmt.Sprint(i)})
	}
	assert.ErrorIs(t, err, ErrQueueFull)
}
