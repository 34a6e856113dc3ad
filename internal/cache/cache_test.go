package cache

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type channelEntry struct {
	Title string   `json:"title"`
	Subs  uint64   `json:"subs"`
	Tags  []string `json:"tags"`
}

func newTestCache(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := Connect(ctx, "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = client.Close() }()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Errorf("ping after connect: %v", err)
	}

	if _, err := Connect(ctx, "not-a-url"); err == nil {
		t.Error("Connect should reject an unparseable URL")
	}
}

func TestConnectUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := Connect(context.Background(), "redis://"+addr); err == nil {
		t.Error("Connect should fail when the server is down")
	}
}

func TestGetMissThenHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := "channel_details:UCabc123"

	var got channelEntry
	ok, err := c.Get(ctx, key, &got)
	if err != nil {
		t.Fatalf("Get() on empty cache error = %v", err)
	}
	if ok {
		t.Fatal("Get() on empty cache should miss")
	}

	want := channelEntry{Title: "Maker Lab", Subs: 120000, Tags: []string{"diy", "science"}}
	if err := c.Set(ctx, key, want, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	ok, err = c.Get(ctx, key, &got)
	if err != nil {
		t.Fatalf("Get() after set error = %v", err)
	}
	if !ok {
		t.Fatal("Get() after set should hit")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cached value = %+v, want %+v", got, want)
	}
}

func TestEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := "recent_videos:UCabc123"

	if err := c.Set(ctx, key, []string{"vid1", "vid2"}, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	mr.FastForward(61 * time.Second)

	var got []string
	ok, err := c.Get(ctx, key, &got)
	if err != nil {
		t.Fatalf("Get() after expiry error = %v", err)
	}
	if ok {
		t.Error("entry should have expired")
	}
}

func TestCorruptEntryIsAnError(t *testing.T) {
	c, mr := newTestCache(t)

	if err := mr.Set("channel_details:UCbad", "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	var got channelEntry
	ok, err := c.Get(context.Background(), "channel_details:UCbad", &got)
	if err == nil {
		t.Fatal("Get() should report an undecodable entry")
	}
	if ok {
		t.Error("corrupt entry must not count as a hit")
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := "channel_details:UCgone"

	if err := c.Set(ctx, key, channelEntry{Title: "x"}, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var got channelEntry
	if ok, _ := c.Get(ctx, key, &got); ok {
		t.Error("deleted entry should miss")
	}

	if err := c.Delete(ctx, key); err != nil {
		t.Errorf("Delete() of absent key error = %v", err)
	}
}

func TestLeaseLifecycle(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	key := LeaseKey(42)
	if key != "scan:lease:42" {
		t.Fatalf("LeaseKey(42) = %q", key)
	}

	ok, err := c.AcquireLease(ctx, key, 30*time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease() error = %v", err)
	}
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	ok, err = c.AcquireLease(ctx, key, 30*time.Minute)
	if err != nil {
		t.Fatalf("second AcquireLease() error = %v", err)
	}
	if ok {
		t.Fatal("second acquire should be refused while held")
	}

	if err := c.ReleaseLease(ctx, key); err != nil {
		t.Fatalf("ReleaseLease() error = %v", err)
	}

	ok, err = c.AcquireLease(ctx, key, 30*time.Minute)
	if err != nil {
		t.Fatalf("acquire after release error = %v", err)
	}
	if !ok {
		t.Error("lease should be free after release")
	}
}

func TestLeaseExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := LeaseKey(7)

	if ok, _ := c.AcquireLease(ctx, key, 30*time.Minute); !ok {
		t.Fatal("first acquire should succeed")
	}

	mr.FastForward(31 * time.Minute)

	ok, err := c.AcquireLease(ctx, key, 30*time.Minute)
	if err != nil {
		t.Fatalf("acquire after expiry error = %v", err)
	}
	if !ok {
		t.Error("lease should be free after its TTL lapses")
	}
}

func TestReleaseMissingLease(t *testing.T) {
	c, _ := newTestCache(t)
	if err := c.ReleaseLease(context.Background(), LeaseKey(99)); err != nil {
		t.Errorf("ReleaseLease() of unheld lease error = %v", err)
	}
}
