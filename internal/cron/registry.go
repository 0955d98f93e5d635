package cron

import (
	"context"
	"time"
)

// Job is one unit of scheduled work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type schedule struct {
	job   Job
	every time.Duration
}

// Registry holds jobs and how often each should run. A zero cadence means
// every cycle.
type Registry struct {
	entries []schedule
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds job with the given cadence. Nil jobs are ignored.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	if every < 0 {
		every = 0
	}
	r.entries = append(r.entries, schedule{job: job, every: every})
}

// Jobs returns the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// due lists the jobs whose cadence has elapsed since their last start.
func (r *Registry) due(now time.Time, lastRun map[string]time.Time) []Job {
	var jobs []Job
	for _, e := range r.entries {
		last, ok := lastRun[e.job.Name()]
		if ok && e.every > 0 && now.Sub(last) < e.every {
			continue
		}
		jobs = append(jobs, e.job)
	}
	return jobs
}
