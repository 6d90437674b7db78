package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/jmuthoni/samani-backend/pkg/logger"
	"github.com/jmuthoni/samani-backend/pkg/metrics"
)

const (
	defaultPendingTTL = 2 * time.Hour
	defaultSweepBatch = 100
)

type pendingExpirer interface {
	ExpirePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// PaymentTimeoutJobParams configure the stale payment sweep.
type PaymentTimeoutJobParams struct {
	Logger     *logger.Logger
	Payments   pendingExpirer
	Metrics    *metrics.CronJobMetrics
	PendingTTL time.Duration
	SweepBatch int
}

// NewPaymentTimeoutJob builds the cron job that expires transactions stuck
// pending past the payment window, returning their reserved stock.
func NewPaymentTimeoutJob(params PaymentTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.SweepBatch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &paymentTimeoutJob{
		logg:     params.Logger,
		payments: params.Payments,
		metrics:  params.Metrics,
		ttl:      ttl,
		batch:    batch,
	}, nil
}

type paymentTimeoutJob struct {
	logg     *logger.Logger
	payments pendingExpirer
	metrics  *metrics.CronJobMetrics
	ttl      time.Duration
	batch    int
}

func (j *paymentTimeoutJob) Name() string { return "payment-timeout" }

func (j *paymentTimeoutJob) Run(ctx context.Context) error {
	expired, err := j.payments.ExpirePending(ctx, j.ttl, j.batch)
	if j.metrics != nil && expired > 0 {
		j.metrics.AddResolved(j.Name(), expired)
	}
	logCtx := j.logg.WithField(ctx, "expired", expired)
	if err != nil {
		// partial sweeps still count; the remainder is retried next cycle
		return fmt.Errorf("expire pending transactions: %w", err)
	}
	j.logg.Info(logCtx, "payment timeout sweep complete")
	return nil
}
