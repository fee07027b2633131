package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"blurscan/internal/logging"
	"blurscan/internal/photo"
	"blurscan/internal/sharpness"
)

// Job is one record to score, tagged with its position in the batch.
type Job struct {
	Index  int
	Record *photo.Record
}

// Result captures the outcome of a Job.
type Result struct {
	Job      Job
	Score    sharpness.Result
	Error    error
	Duration time.Duration
}

// Processor scores a single job.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline fans sharpness scoring out across workers. Each worker only
// writes to the record of the job it holds.
type Pipeline struct {
	processor   Processor
	log         *slog.Logger
	concurrency int
	mu          sync.Mutex
	subs        map[int]chan Result
	nextSubID   int
}

// New creates a Pipeline with the given concurrency and processor implementation.
func New(concurrency int, processor Processor, logger *slog.Logger) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		processor:   processor,
		log:         logger,
		concurrency: concurrency,
		subs:        make(map[int]chan Result),
	}
}

// Run scores every record and returns the results in input order. Records
// not reached before ctx is cancelled carry ctx.Err().
func (p *Pipeline) Run(ctx context.Context, records []*photo.Record) []Result {
	results := make([]Result, len(records))
	jobs := make(chan Job, p.concurrency*2)

	var wg sync.WaitGroup
	workers := min(p.concurrency, len(records))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, jobs, results, &wg)
	}

	for i, rec := range records {
		job := Job{Index: i, Record: rec}
		select {
		case jobs <- job:
		case <-ctx.Done():
			results[i] = Result{Job: job, Error: ctx.Err()}
			sharpness.Apply(rec, sharpness.Result{}, ctx.Err())
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

func (p *Pipeline) worker(ctx context.Context, id int, jobs <-chan Job, results []Result, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		if err := ctx.Err(); err != nil {
			results[job.Index] = Result{Job: job, Error: err}
			sharpness.Apply(job.Record, sharpness.Result{}, err)
			continue
		}

		start := time.Now()
		res := p.processor.Process(ctx, job)
		res.Job = job
		res.Duration = time.Since(start)
		sharpness.Apply(job.Record, res.Score, res.Error)

		if res.Error != nil {
			level := slog.LevelWarn
			if errors.Is(res.Error, context.Canceled) {
				level = slog.LevelDebug
			}
			p.log.Log(ctx, level, "sharpness scoring failed",
				"worker", id,
				"id", job.Record.ID,
				"path", job.Record.Path,
				"error", res.Error,
			)
		} else {
			logging.LogVerdict(p.log, job.Record.ID, job.Record.Path, res.Score.Blurry, res.Score.Sum,
				res.Score.CornerVariance, photo.SpeedLabel(res.Score.ShutterSpeed), res.Duration)
		}

		results[job.Index] = res
		p.broadcast(res)
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
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

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.Record.ID)
		}
	}
}

// ScoreProcessor adapts a sharpness.Scorer to the Processor interface.
type ScoreProcessor struct {
	Scorer *sharpness.Scorer
}

// Process decodes and scores the job's image.
func (s ScoreProcessor) Process(ctx context.Context, job Job) Result {
	score, err := s.Scorer.ScoreRecord(ctx, job.Record)
	return Result{Job: job, Score: score, Error: err}
}
