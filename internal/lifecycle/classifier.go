package lifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndopj/tesp-api-go/internal/metrics"
	"github.com/ndopj/tesp-api-go/internal/pulsar"
	"github.com/ndopj/tesp-api-go/internal/repository"
	"github.com/ndopj/tesp-api-go/internal/task"
)

// Classifier turns a handler's error into the compensating action §4.6
// prescribes: an unconditional state update, a best-effort erase_job, or
// nothing at all. It never itself returns an error — every action it takes
// is best-effort and failures are logged, not propagated.
type Classifier struct {
	repo   repository.TaskRepository
	logger *zap.Logger
}

// NewClassifier returns a Classifier backed by repo.
func NewClassifier(repo repository.TaskRepository, logger *zap.Logger) *Classifier {
	return &Classifier{repo: repo, logger: logger.Named("classifier")}
}

// Classify inspects err and applies the compensating action for taskID,
// using ops to reach the remote job if an erase_job is warranted.
func (c *Classifier) Classify(ctx context.Context, taskID uuid.UUID, ops pulsar.Operations, err error) {
	switch {
	case errors.As(err, new(*ExecutorError)):
		c.updateStateUnconditional(ctx, taskID, task.StateExecutorError, "")
		c.eraseJobBestEffort(ctx, ops, taskID)

	case errors.Is(err, ErrTaskNotFound):
		// The task was cancelled or transitioned concurrently. Nothing to do.

	case errors.Is(err, repository.ErrDataLayer):
		// The store itself is unreliable — do not trust it with a state
		// write, just try to stop the remote job.
		c.eraseJobBestEffort(ctx, ops, taskID)

	case errors.Is(err, pulsar.ErrConnection):
		c.updateStateUnconditional(ctx, taskID, task.StateSystemError, "Connection error with underlying task executor")

	case errors.Is(err, pulsar.ErrOperation):
		c.eraseJobBestEffort(ctx, ops, taskID)
		c.updateStateUnconditional(ctx, taskID, task.StateSystemError, err.Error())

	default:
		c.eraseJobBestEffort(ctx, ops, taskID)
		c.updateStateUnconditional(ctx, taskID, task.StateSystemError, "Unexpected error occurred while processing/executing the task")
	}
}

// updateStateUnconditional sets the task's state and, when systemLog is
// non-empty, appends it to every entry of logs[*].system_logs. Failure is
// logged — this call is itself inside the compensation path and has
// nothing further to escalate to.
func (c *Classifier) updateStateUnconditional(ctx context.Context, taskID uuid.UUID, state task.State, systemLog string) {
	_, err := c.repo.UpdateUnconditional(ctx, taskID, func(t *task.Task) {
		t.State = state
		if systemLog == "" {
			return
		}
		logs := t.Logs.Val
		for i := range logs {
			logs[i].SystemLogs = append(logs[i].SystemLogs, systemLog)
		}
		t.Logs.Val = logs
	})
	if err != nil {
		c.logger.Error("compensating state update failed",
			zap.String("task_id", taskID.String()),
			zap.String("target_state", string(state)),
			zap.Error(err),
		)
		return
	}
	metrics.RecordTransition(string(state))
}

// eraseJobBestEffort tries to stop the remote job. Its outcome is logged
// only, never propagated — by the time the classifier runs, the handler
// that would have acted on a further failure has already given up.
func (c *Classifier) eraseJobBestEffort(ctx context.Context, ops pulsar.Operations, taskID uuid.UUID) {
	if ops == nil {
		return
	}
	if err := ops.EraseJob(ctx, taskID.String()); err != nil {
		c.logger.Warn("best-effort erase_job failed",
			zap.String("task_id", taskID.String()),
			zap.Error(err),
		)
	}
}
