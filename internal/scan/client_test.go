package scan

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nestwatch/nestwatch/internal/cache"
	"github.com/nestwatch/nestwatch/internal/errors"
)

func newTestClient(t *testing.T) (*Client, *cache.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	tasks := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = tasks.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := cache.NewRedis(rdb)
	return NewClient(tasks, c), c
}

func TestEnqueueScanReturnsOrderableTaskIDs(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	first, err := client.EnqueueScan(ctx, 1)
	if err != nil {
		t.Fatalf("EnqueueScan: %v", err)
	}
	second, err := client.EnqueueScan(ctx, 1)
	if err != nil {
		t.Fatalf("EnqueueScan second: %v", err)
	}

	if _, err := ulid.Parse(first); err != nil {
		t.Errorf("task id %q is not a ulid: %v", first, err)
	}
	if _, err := ulid.Parse(second); err != nil {
		t.Errorf("task id %q is not a ulid: %v", second, err)
	}
	if first == second {
		t.Errorf("both enqueues returned task id %q", first)
	}
}

func TestEnqueueScanRejectsInvalidAccount(t *testing.T) {
	client, _ := newTestClient(t)

	if _, err := client.EnqueueScan(context.Background(), 0); !errors.IsValidation(err) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestCancelPostsMark(t *testing.T) {
	client, c := newTestClient(t)
	ctx := context.Background()

	if err := client.Cancel(ctx, "01HTASK"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	var marked bool
	found, err := c.Get(ctx, CancelKey("01HTASK"), &marked)
	if err != nil {
		t.Fatalf("Get cancel mark: %v", err)
	}
	if !found || !marked {
		t.Errorf("cancel mark found=%v marked=%v, want true/true", found, marked)
	}
}

func TestCancelRequiresTaskID(t *testing.T) {
	client, _ := newTestClient(t)

	if err := client.Cancel(context.Background(), ""); !errors.IsValidation(err) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestMuxRejectsMalformedPayload(t *testing.T) {
	mux := NewMux(&Worker{})

	task := asynq.NewTask(TaskTypeScan, []byte("not json"))
	if err := mux.ProcessTask(context.Background(), task); !errors.IsValidation(err) {
		t.Errorf("got %v, want validation error", err)
	}
}
