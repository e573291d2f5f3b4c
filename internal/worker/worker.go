// Package worker schedules the periodic engine passes. Each job runs on
// its own ticker with bounded retry; passes are idempotent overwrites,
// so a retried or overlapping run self-corrects.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const maxAttempts = 3

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hyperlocal_job_runs_total",
		Help: "Job executions by terminal status.",
	}, []string{"job", "status"})

	jobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hyperlocal_job_retries_total",
		Help: "Job attempts that failed and were retried.",
	}, []string{"job"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hyperlocal_job_duration_seconds",
		Help:    "Wall time of one job execution including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Pool runs registered jobs until its context ends.
type Pool struct {
	logger  *zap.Logger
	backoff time.Duration
	jobs    []Job
	wg      sync.WaitGroup
}

// NewPool builds a job pool with a 5s base retry backoff.
func NewPool(logger *zap.Logger) *Pool {
	return &Pool{logger: logger, backoff: 5 * time.Second}
}

// Register adds a job; call before Start.
func (p *Pool) Register(name string, interval time.Duration, run func(ctx context.Context) error) {
	p.jobs = append(p.jobs, Job{Name: name, Interval: interval, Run: run})
}

// Start launches every job on its own ticker. Each job also runs once
// immediately so a fresh deploy doesn't wait a full interval.
func (p *Pool) Start(ctx context.Context) {
	for _, job := range p.jobs {
		p.wg.Add(1)
		go p.loop(ctx, job)
	}
}

// Wait blocks until all job loops have exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) loop(ctx context.Context, job Job) {
	defer p.wg.Done()

	p.execute(ctx, job)
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.execute(ctx, job)
		}
	}
}

// execute runs one job with bounded retry and exponential backoff.
func (p *Pool) execute(ctx context.Context, job Job) {
	start := time.Now()
	defer func() {
		jobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
	}()

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = job.Run(ctx); err == nil {
			jobRuns.WithLabelValues(job.Name, "success").Inc()
			if attempt > 1 {
				p.logger.Info("job recovered",
					zap.String("job", job.Name),
					zap.Int("attempt", attempt))
			}
			return
		}
		if attempt == maxAttempts {
			break
		}
		jobRetries.WithLabelValues(job.Name).Inc()
		p.logger.Warn("job attempt failed",
			zap.String("job", job.Name),
			zap.Int("attempt", attempt),
			zap.Error(err))

		wait := p.backoff * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			jobRuns.WithLabelValues(job.Name, "canceled").Inc()
			return
		case <-time.After(wait):
		}
	}

	jobRuns.WithLabelValues(job.Name, "failure").Inc()
	p.logger.Error("job failed after retries",
		zap.String("job", job.Name),
		zap.Int("attempts", maxAttempts),
		zap.Error(err))
}
