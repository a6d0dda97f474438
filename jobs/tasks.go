package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSyncReconcile runs one reconcile of the local dataset against the replica.
	TaskSyncReconcile = "sync:reconcile"
)

// ReconcilePayload describes why a reconcile was requested.
type ReconcilePayload struct {
	Reason string `json:"reason"`
}

// NewReconcileTask constructs a reconcile task. Reconciles are never retried
// by the queue: the next scheduled run is the retry.
func NewReconcileTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcilePayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncReconcile, data, asynq.MaxRetry(0), asynq.Queue(QueueDefault)), nil
}

// PollSpec converts a poll interval into a scheduler spec.
func PollSpec(interval time.Duration) string {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	return fmt.Sprintf("@every %s", interval)
}
