package audit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLoggerMatchesStoreSemantics(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger()

	base := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	seed := []Entry{
		{ID: "a", ParentID: 5, Action: "SCAN_TRIGGERED", ResourceType: "linked_account", ResourceID: "1", CreatedAt: base},
		{ID: "b", ParentID: 5, Action: "SCAN_COMPLETED", ResourceType: "linked_account", ResourceID: "1", CreatedAt: base.Add(time.Hour)},
		{ID: "c", ParentID: 9, Action: "SCAN_COMPLETED", ResourceType: "linked_account", ResourceID: "2", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "d", ParentID: 9, Action: "ACCOUNT_LINK", ResourceType: "child_profile", ResourceID: "3", CreatedAt: base.Add(3 * time.Hour)},
	}
	for _, e := range seed {
		if err := m.Log(ctx, e); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}

	all, err := m.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Query() returned %d entries, want 4", len(all))
	}
	if all[0].ID != "d" || all[3].ID != "a" {
		t.Errorf("entries not newest-first: got %s..%s", all[0].ID, all[3].ID)
	}

	scans, err := m.Query(ctx, Filter{Action: "SCAN_COMPLETED"})
	if err != nil {
		t.Fatalf("Query(action) error = %v", err)
	}
	if len(scans) != 2 {
		t.Errorf("action filter returned %d, want 2", len(scans))
	}

	parent := int64(5)
	n, err := m.Count(ctx, Filter{ParentID: &parent})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count(parent 5) = %d, want 2", n)
	}

	start := base.Add(90 * time.Minute)
	windowed, err := m.Query(ctx, Filter{StartTime: &start})
	if err != nil {
		t.Fatalf("Query(start) error = %v", err)
	}
	if len(windowed) != 2 {
		t.Errorf("start-time filter returned %d, want 2", len(windowed))
	}

	page, err := m.Query(ctx, Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Query(page) error = %v", err)
	}
	if len(page) != 2 || page[0].ID != "c" {
		t.Errorf("page = %+v, want [c b]", page)
	}
}

func TestMemoryLoggerAggregates(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger()

	base := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	for i, action := range []string{"SCAN_COMPLETED", "SCAN_COMPLETED", "ACCOUNT_LINK", "SYSTEM_ERROR"} {
		_ = m.Log(ctx, Entry{ID: string(rune('a' + i)), Action: action, ResourceType: "linked_account", CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	byAction, err := m.Aggregate(ctx, ByAction, Filter{})
	if err != nil {
		t.Fatalf("Aggregate(action) error = %v", err)
	}
	want := []Bucket{{Key: "ACCOUNT_LINK", Count: 1}, {Key: "SCAN_COMPLETED", Count: 2}, {Key: "SYSTEM_ERROR", Count: 1}}
	if len(byAction) != len(want) {
		t.Fatalf("Aggregate(action) = %+v, want %+v", byAction, want)
	}
	for i := range want {
		if byAction[i] != want[i] {
			t.Errorf("bucket[%d] = %+v, want %+v", i, byAction[i], want[i])
		}
	}

	// 22:00 and 23:00 land on the 14th, the +2h and +3h entries on the 15th.
	byDay, err := m.Aggregate(ctx, ByDay, Filter{})
	if err != nil {
		t.Fatalf("Aggregate(day) error = %v", err)
	}
	if len(byDay) != 2 || byDay[0] != (Bucket{Key: "2026-03-14", Count: 2}) || byDay[1] != (Bucket{Key: "2026-03-15", Count: 2}) {
		t.Errorf("Aggregate(day) = %+v", byDay)
	}

	if _, err := m.Aggregate(ctx, AggregateBy("bogus"), Filter{}); err == nil {
		t.Error("unknown dimension should error")
	}
}

func TestMemoryLoggerReset(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger()
	_ = m.Log(ctx, Entry{ID: "x", Action: "USER_LOGIN", CreatedAt: time.Now()})

	if got := len(m.Entries()); got != 1 {
		t.Fatalf("Entries() = %d, want 1", got)
	}
	m.Reset()
	if got := len(m.Entries()); got != 0 {
		t.Errorf("Entries() after reset = %d, want 0", got)
	}
}
