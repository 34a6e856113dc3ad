package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/nestwatch/nestwatch/internal/cache"
	"github.com/nestwatch/nestwatch/internal/errors"
)

// resultRetention keeps finished tasks inspectable in the queue backend.
const resultRetention = 24 * time.Hour

// Client is the producer side of the scans queue. Account linking and the
// scheduler enqueue through it, and cancellation marks are posted through it.
type Client struct {
	tasks *asynq.Client
	cache cache.Cache
}

func NewClient(tasks *asynq.Client, c cache.Cache) *Client {
	return &Client{tasks: tasks, cache: c}
}

// EnqueueScan queues one scan for a linked account and returns the task id.
// Task ids are ulids, so they sort by enqueue time.
func (c *Client) EnqueueScan(ctx context.Context, accountID int64) (string, error) {
	req := Request{AccountID: accountID, TaskID: ulid.Make().String()}
	payload, err := EncodeRequest(req)
	if err != nil {
		return "", err
	}
	// The scheduler re-enqueues failed accounts at its next tick, so tasks
	// never retry in place.
	_, err = c.tasks.EnqueueContext(ctx, asynq.NewTask(TaskTypeScan, payload),
		asynq.Queue(QueueName),
		asynq.TaskID(req.TaskID),
		asynq.MaxRetry(0),
		asynq.Retention(resultRetention),
	)
	if err != nil {
		return "", errors.WrapTransientError("scan.enqueue", err).WithAccount(accountID)
	}
	log.Debug().Str("task_id", req.TaskID).Int64("account_id", accountID).Msg("Scan task queued")
	return req.TaskID, nil
}

// Cancel marks a task for cancellation. The worker honors the mark at its
// next checkpoint; marks for finished or unknown tasks expire unread.
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	if taskID == "" {
		return errors.WrapValidationError("scan.cancel", fmt.Errorf("task id required"))
	}
	if err := c.cache.Set(ctx, CancelKey(taskID), true, stateTTL); err != nil {
		return errors.WrapTransientError("scan.cancel", err)
	}
	log.Info().Str("task_id", taskID).Msg("Scan cancellation requested")
	return nil
}

// Close releases the queue connection.
func (c *Client) Close() error {
	return c.tasks.Close()
}

// NewMux returns the task router with the scan handler registered.
func NewMux(w *Worker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeScan, w.ProcessTask)
	return mux
}

// NewServer builds the worker pool that consumes the scans queue.
func NewServer(opt asynq.RedisConnOpt, concurrency int) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      asynqLogger{},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("type", task.Type()).Msg("Scan task failed")
		}),
	})
}

// asynqLogger routes the queue library's own logging through zerolog.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...any) { log.Debug().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...any)  { log.Info().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...any)  { log.Warn().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...any) { log.Error().Msg(fmt.Sprint(args...)) }
func (asynqLogger) Fatal(args ...any) { log.Fatal().Msg(fmt.Sprint(args...)) }
