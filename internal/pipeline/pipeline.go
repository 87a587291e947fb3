package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lostctl/internal/engine"
	"lostctl/internal/logging"
	"lostctl/internal/metrics"
	"lostctl/internal/storage"
)

// JobType enumerates the engine operations a job can run.
type JobType string

const (
	JobIdentify JobType = "identify"
	JobGenerate JobType = "generate"
	JobDatabase JobType = "database"
)

// ErrQueueFull is returned by Submit when no worker can take the job.
var ErrQueueFull = errors.New("job queue is full")

// Job represents a single engine request.
type Job struct {
	ID        string
	Type      JobType
	InputPath string // identify: the image
	Output    string // generate: directory receiving the PNGs
	// Variant is the algorithm (py, tetra) or, for generate, the preset.
	Variant   string
	Overrides *engine.Args
	Options   map[string]any

	reply chan<- Result
}

// Result captures the outcome of a Job.
type Result struct {
	Job      Job
	Error    error
	Attitude *engine.Attitude
	Meta     map[string]any
	Duration time.Duration
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Options configures a Pipeline.
type Options struct {
	Concurrency int
	Logger      *slog.Logger
	Store       *storage.Store
	Metrics     *metrics.Metrics
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	done      <-chan struct{}
	stopOnce  sync.Once
	store     *storage.Store
	metrics   *metrics.Metrics
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
	stopped   bool
}

// New starts opts.Concurrency workers feeding jobs to proc.
func New(ctx context.Context, proc Processor, opts Options) *Pipeline {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		jobs:      make(chan Job, concurrency*2),
		cancel:    cancel,
		done:      ctx.Done(),
		store:     opts.Store,
		metrics:   opts.Metrics,
		subs:      make(map[int]chan Result),
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Submit adds a job to the processing queue without blocking.
func (p *Pipeline) Submit(job Job) error {
	p.recordQueued(job)
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Enqueue adds a job, waiting for queue space until ctx is done or the
// pipeline stops.
func (p *Pipeline) Enqueue(ctx context.Context, job Job) error {
	p.recordQueued(job)
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return context.Canceled
	}
}

// RunAll queues jobs and waits for all of their results, returned in job
// order. Results of jobs that never ran because ctx ended carry ctx's error;
// those dropped by Stop carry context.Canceled.
func (p *Pipeline) RunAll(ctx context.Context, jobs []Job) []Result {
	replies := make(chan Result, len(jobs))
	index := make(map[string]int, len(jobs))
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		index[job.ID] = i
		results[i] = Result{Job: job}
	}

	queued := 0
	for i := range jobs {
		job := jobs[i]
		job.reply = replies
		if err := p.Enqueue(ctx, job); err != nil {
			break
		}
		queued++
	}

	done := make([]bool, len(jobs))
	record := func(res Result) {
		i := index[res.Job.ID]
		res.Job.reply = nil
		results[i] = res
		done[i] = true
	}
wait:
	for received := 0; received < queued; received++ {
		select {
		case res := <-replies:
			record(res)
		case <-ctx.Done():
			break wait
		case <-p.done:
			// Collect replies already sent by jobs that finished before Stop.
			for {
				select {
				case res := <-replies:
					record(res)
				default:
					break wait
				}
			}
		}
	}
	for i := range results {
		if !done[i] {
			results[i].Error = ctx.Err()
			if results[i].Error == nil {
				results[i].Error = context.Canceled
			}
		}
	}
	return results
}

func (p *Pipeline) recordQueued(job Job) {
	if p.store == nil {
		return
	}
	optsJSON, _ := json.Marshal(jobOptions(job))
	_ = p.store.RecordJobQueued(storage.JobRecord{
		ID:          job.ID,
		JobType:     string(job.Type),
		Status:      "queued",
		InputPath:   job.InputPath,
		OptionsJSON: string(optsJSON),
	})
}

// Stop signals workers to exit and waits for completion. Jobs still queued
// are dropped.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.mu.Lock()
		p.stopped = true
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			res := p.run(ctx, job)
			if job.reply != nil {
				job.reply <- res
			}
			p.broadcast(res)
		}
	}
}

func (p *Pipeline) run(ctx context.Context, job Job) Result {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, jobOptions(job))
	if p.store != nil {
		_ = p.store.RecordJobStart(job.ID)
	}
	if p.metrics != nil {
		p.metrics.InFlight.Inc()
		defer p.metrics.InFlight.Dec()
	}

	res := p.processor.Process(ctx, job)
	res.Job = job
	res.Duration = time.Since(start)

	status := "completed"
	if res.Error != nil {
		status = "failed"
		logging.LogJobError(p.log, string(job.Type), job.ID, res.Duration, res.Error, map[string]any{
			"input":   job.InputPath,
			"variant": job.Variant,
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, res.Duration, res.Meta)
	}
	if p.store != nil {
		_ = p.store.RecordJobResult(job.ID, status, errString(res.Error))
	}
	return res
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Result, 64)
	if p.stopped {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSubID
	p.nextSubID++
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func jobOptions(job Job) map[string]any {
	opts := map[string]any{"variant": job.Variant}
	if job.Output != "" {
		opts["output"] = job.Output
	}
	if job.Overrides.Len() > 0 {
		opts["overrides"] = job.Overrides.String()
	}
	for k, v := range job.Options {
		opts[k] = v
	}
	return opts
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
