package cron

import (
	"context"
	"testing"

	"github.com/jmuthoni/samani-backend/pkg/logger"
)

type fakeLock struct {
	available bool
	acquires  int
	releases  int
}

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) {
	l.acquires++
	return l.available, nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.releases++
	return nil
}

type recordingJob struct {
	name string
	runs int
	err  error
}

func (j *recordingJob) Name() string { return j.name }

func (j *recordingJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func newCronService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRunCycleExecutesJobsInOrder(t *testing.T) {
	lock := &fakeLock{available: true}
	var order []string
	first := &orderedJob{name: "first", order: &order}
	second := &orderedJob{name: "second", order: &order}
	svc := newCronService(t, lock, first, second)

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected run order: %v", order)
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock release, got %d", lock.releases)
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	lock := &fakeLock{available: false}
	job := &recordingJob{name: "sweep"}
	svc := newCronService(t, lock, job)

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected no runs while lock held, got %d", job.runs)
	}
	if lock.releases != 0 {
		t.Fatalf("lock must not be released by a non-owner, got %d releases", lock.releases)
	}
}

func TestRunCycleContinuesPastFailingJob(t *testing.T) {
	lock := &fakeLock{available: true}
	failing := &recordingJob{name: "failing", err: context.DeadlineExceeded}
	healthy := &recordingJob{name: "healthy"}
	svc := newCronService(t, lock, failing, healthy)

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if failing.runs != 1 || healthy.runs != 1 {
		t.Fatalf("expected both jobs to run, got %d and %d", failing.runs, healthy.runs)
	}
}

func TestRegistryIgnoresNilJobs(t *testing.T) {
	registry := NewRegistry(nil, &recordingJob{name: "only"})
	registry.Register(nil)
	if len(registry.Jobs()) != 1 {
		t.Fatalf("expected 1 job, got %d", len(registry.Jobs()))
	}
}

type orderedJob struct {
	name  string
	order *[]string
}

func (j *orderedJob) Name() string { return j.name }

func (j *orderedJob) Run(ctx context.Context) error {
	*j.order = append(*j.order, j.name)
	return nil
}
