package cron

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmuthoni/samani-backend/pkg/logger"
)

type fakeExpirer struct {
	calls []expireCall
	count int
	err   error
}

type expireCall struct {
	olderThan time.Duration
	limit     int
}

func (f *fakeExpirer) ExpirePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.calls = append(f.calls, expireCall{olderThan: olderThan, limit: limit})
	return f.count, f.err
}

func TestPaymentTimeoutJobSweeps(t *testing.T) {
	expirer := &fakeExpirer{count: 3}
	job, err := NewPaymentTimeoutJob(PaymentTimeoutJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Payments:   expirer,
		PendingTTL: 90 * time.Minute,
		SweepBatch: 50,
	})
	if err != nil {
		t.Fatalf("NewPaymentTimeoutJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(expirer.calls) != 1 {
		t.Fatalf("expected 1 sweep, got %d", len(expirer.calls))
	}
	call := expirer.calls[0]
	if call.olderThan != 90*time.Minute {
		t.Fatalf("unexpected ttl: %s", call.olderThan)
	}
	if call.limit != 50 {
		t.Fatalf("unexpected batch: %d", call.limit)
	}
}

func TestPaymentTimeoutJobDefaults(t *testing.T) {
	expirer := &fakeExpirer{}
	job, err := NewPaymentTimeoutJob(PaymentTimeoutJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Payments: expirer,
	})
	if err != nil {
		t.Fatalf("NewPaymentTimeoutJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	call := expirer.calls[0]
	if call.olderThan != defaultPendingTTL {
		t.Fatalf("unexpected default ttl: %s", call.olderThan)
	}
	if call.limit != defaultSweepBatch {
		t.Fatalf("unexpected default batch: %d", call.limit)
	}
}

func TestPaymentTimeoutJobPropagatesError(t *testing.T) {
	expirer := &fakeExpirer{count: 1, err: fmt.Errorf("db gone")}
	job, err := NewPaymentTimeoutJob(PaymentTimeoutJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Payments: expirer,
	})
	if err != nil {
		t.Fatalf("NewPaymentTimeoutJob: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected sweep error to propagate")
	}
}

func TestPaymentTimeoutJobRequiresDeps(t *testing.T) {
	if _, err := NewPaymentTimeoutJob(PaymentTimeoutJobParams{
		Payments: &fakeExpirer{},
	}); err == nil {
		t.Fatal("expected error without logger")
	}
	if _, err := NewPaymentTimeoutJob(PaymentTimeoutJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	}); err == nil {
		t.Fatal("expected error without payments service")
	}
}
