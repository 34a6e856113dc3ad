package scan

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nestwatch/nestwatch/internal/cache"
)

// Task state machine. A task starts, reports PROCESSING with a progress
// percentage at each checkpoint, and finalizes as SUCCESS or FAILURE.
const (
	StateStarted    = "STARTED"
	StateProcessing = "PROCESSING"
	StateSuccess    = "SUCCESS"
	StateFailure    = "FAILURE"
)

// stateTTL bounds how long task state and cancel marks outlive the scan.
const stateTTL = time.Hour

// StateKey returns the Redis key a task's progress is published under.
func StateKey(taskID string) string {
	return "scan:state:" + taskID
}

// CancelKey returns the Redis key that marks a task for cancellation.
func CancelKey(taskID string) string {
	return "scan:cancel:" + taskID
}

// State is what pollers read back while a scan runs. Result is set on the
// terminal states only.
type State struct {
	TaskID          string    `json:"task_id"`
	LinkedAccountID int64     `json:"linked_account_id"`
	Status          string    `json:"status"`
	Progress        int       `json:"progress"`
	Result          *Result   `json:"result,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// tracker publishes one task's state machine to Redis. Progress is advisory;
// publish failures are logged and never fail the scan itself.
type tracker struct {
	cache cache.Cache
	state State
}

func newTracker(c cache.Cache, req Request) *tracker {
	return &tracker{
		cache: c,
		state: State{TaskID: req.TaskID, LinkedAccountID: req.AccountID},
	}
}

func (t *tracker) publish(ctx context.Context, status string, progress int, result *Result) {
	t.state.Status = status
	t.state.Progress = progress
	t.state.Result = result
	t.state.UpdatedAt = time.Now().UTC()
	if err := t.cache.Set(ctx, StateKey(t.state.TaskID), t.state, stateTTL); err != nil {
		log.Warn().Err(err).Str("task_id", t.state.TaskID).Msg("Could not publish scan progress")
	}
}

// processing reports an intermediate checkpoint.
func (t *tracker) processing(ctx context.Context, progress int) {
	t.publish(ctx, StateProcessing, progress, nil)
}
