package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/shopledger/shopledger/internal/jobs"
	"github.com/shopledger/shopledger/internal/syncer"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Reconciler runs a single reconcile.
type Reconciler interface {
	Reconcile(ctx context.Context) (syncer.Result, error)
}

// ReconcileJob handles TaskSyncReconcile.
type ReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewReconcileJob wires dependencies for the reconcile handler.
func NewReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Reconciler: reconciler, Logger: logger, Metrics: metrics}
}

// Handle processes reconcile tasks. Failures are reported without retry.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("sync reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskSyncReconcile)
	logger := j.logger().With(slog.String("reason", payload.Reason))

	result, err := j.Reconciler.Reconcile(ctx)
	if err != nil {
		logger.Warn("reconcile failed", slog.Any("error", err))
		return tracker.End(fmt.Errorf("sync reconcile: %w: %w", err, asynq.SkipRetry))
	}
	logger.Debug("reconcile finished", slog.String("result", string(result)))
	return tracker.End(nil)
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
