package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/store"
	"github.com/nestwatch/nestwatch/pkg/audit"
)

type stubEnqueuer struct {
	mu      sync.Mutex
	queued  []int64
	failFor map[int64]error
}

func (s *stubEnqueuer) EnqueueScan(_ context.Context, accountID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[accountID]; err != nil {
		return "", err
	}
	s.queued = append(s.queued, accountID)
	return fmt.Sprintf("task-%d", accountID), nil
}

func (s *stubEnqueuer) seen() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.queued...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "schedule.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedAccount(t *testing.T, st *store.Store, active bool) int64 {
	t.Helper()
	ctx := context.Background()

	parent, err := st.CreateParent(ctx, fmt.Sprintf("parent%d@example.com", time.Now().UnixNano()), "hashed")
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := st.CreateChild(ctx, parent.ID, "Sam", nil)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	account, err := st.UpsertLinkedAccount(ctx, &models.LinkedAccount{
		ChildProfileID:        child.ID,
		Platform:              models.PlatformYouTube,
		PlatformAccountID:     fmt.Sprintf("UC%d", time.Now().UnixNano()),
		AccessTokenCiphertext: []byte("ciphertext"),
	})
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	if !active {
		if err := st.SetAccountActive(ctx, account.ID, false); err != nil {
			t.Fatalf("deactivate account: %v", err)
		}
	}
	return account.ID
}

func TestTickEnqueuesActiveAccountsOnly(t *testing.T) {
	st := newTestStore(t)
	rec := audit.NewMemoryLogger()
	audit.SetLogger(rec)
	t.Cleanup(func() { audit.SetLogger(nil) })

	first := seedAccount(t, st, true)
	second := seedAccount(t, st, true)
	seedAccount(t, st, false)

	enq := &stubEnqueuer{}
	if err := New(st, enq, "0 3 * * *").Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got := enq.seen()
	if len(got) != 2 || got[0] != first || got[1] != second {
		t.Errorf("enqueued accounts = %v, want [%d %d]", got, first, second)
	}

	var sweep *audit.Entry
	for _, e := range rec.Entries() {
		if e.Action == string(models.AuditScanTriggered) {
			found := e
			sweep = &found
		}
	}
	if sweep == nil {
		t.Fatal("no SCAN_TRIGGERED sweep audit entry")
	}
	if sweep.ResourceType != "scan_sweep" || sweep.ParentID != 0 {
		t.Errorf("sweep audit = %+v, want a system-actor scan_sweep entry", sweep)
	}
	if sweep.Details["accounts_active"] != 2 || sweep.Details["accounts_enqueued"] != 2 {
		t.Errorf("sweep audit details = %v", sweep.Details)
	}
}

func TestTickContinuesPastEnqueueFailure(t *testing.T) {
	st := newTestStore(t)
	rec := audit.NewMemoryLogger()
	audit.SetLogger(rec)
	t.Cleanup(func() { audit.SetLogger(nil) })

	failing := seedAccount(t, st, true)
	working := seedAccount(t, st, true)

	enq := &stubEnqueuer{failFor: map[int64]error{failing: fmt.Errorf("queue unavailable")}}
	err := New(st, enq, "0 3 * * *").Tick(context.Background())
	if err == nil {
		t.Fatal("Tick() should report the enqueue shortfall")
	}

	if got := enq.seen(); len(got) != 1 || got[0] != working {
		t.Errorf("enqueued accounts = %v, want only %d", got, working)
	}
	for _, e := range rec.Entries() {
		if e.Action == string(models.AuditScanTriggered) {
			if e.Details["accounts_active"] != 2 || e.Details["accounts_enqueued"] != 1 {
				t.Errorf("sweep audit details = %v", e.Details)
			}
		}
	}
}

func TestTickWithNoAccounts(t *testing.T) {
	st := newTestStore(t)
	enq := &stubEnqueuer{}

	if err := New(st, enq, "0 3 * * *").Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if got := enq.seen(); len(got) != 0 {
		t.Errorf("enqueued accounts = %v, want none", got)
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	st := newTestStore(t)

	if err := New(st, &stubEnqueuer{}, "not a cron spec").Run(context.Background()); err == nil {
		t.Fatal("Run() should reject an unparseable schedule")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := newTestStore(t)
	sched := New(st, &stubEnqueuer{}, "0 3 * * *")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after context cancel")
	}
}
