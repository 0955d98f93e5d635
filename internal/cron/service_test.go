package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLock struct {
	held     bool
	acquires int
	err      error
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	f.acquires++
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.held = false; return nil }

type countingJob struct {
	name string
	err  error
	runs int
}

func (c *countingJob) Name() string { return c.name }

func (c *countingJob) Run(context.Context) error {
	c.runs++
	return c.err
}

func newTestService(t *testing.T, registry *Registry, lock Lock, now *time.Time) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: registry,
		Lock:     lock,
		Clock:    func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &countingJob{name: "ok"}
	bad := &countingJob{name: "bad", err: errors.New("boom")}
	after := &countingJob{name: "after"}
	registry := NewRegistry()
	registry.Register(ok, 0)
	registry.Register(bad, 0)
	registry.Register(after, 0)
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	svc := newTestService(t, registry, &fakeLock{}, &now)
	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if ok.runs != 1 || bad.runs != 1 || after.runs != 1 {
		t.Fatalf("expected every job once, got %d %d %d", ok.runs, bad.runs, after.runs)
	}
}

func TestRunCycleRespectsJobCadence(t *testing.T) {
	sync := &countingJob{name: "payout-sync"}
	batch := &countingJob{name: "payout-batch"}
	registry := NewRegistry()
	registry.Register(sync, 0)
	registry.Register(batch, 24*time.Hour)
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	lock := &fakeLock{}
	svc := newTestService(t, registry, lock, &now)

	for i := 0; i < 3; i++ {
		if err := svc.runCycle(context.Background()); err != nil {
			t.Fatalf("runCycle: %v", err)
		}
		now = now.Add(time.Hour)
	}
	if sync.runs != 3 || batch.runs != 1 {
		t.Fatalf("expected sync=3 batch=1, got sync=%d batch=%d", sync.runs, batch.runs)
	}

	now = now.Add(24 * time.Hour)
	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if batch.runs != 2 {
		t.Fatalf("expected batch job to run again, got %d", batch.runs)
	}
	if lock.held {
		t.Fatal("lock not released")
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &countingJob{name: "job"}
	registry := NewRegistry()
	registry.Register(job, 0)
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	lock := &fakeLock{held: true}
	svc := newTestService(t, registry, lock, &now)
	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped, ran %d", job.runs)
	}

	// a skipped job stays due for the next cycle
	lock.held = false
	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if job.runs != 1 {
		t.Fatalf("expected job to run once the lock frees, ran %d", job.runs)
	}
}

func TestRunCycleSurfacesLockErrors(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&countingJob{name: "job"}, 0)
	now := time.Now()
	svc := newTestService(t, registry, &fakeLock{err: errors.New("redis down")}, &now)
	if err := svc.runCycle(context.Background()); err == nil {
		t.Fatal("expected lock error")
	}
}
