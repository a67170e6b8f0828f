package db

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_CreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if d.Path() != path {
		t.Errorf("Path = %s, want %s", d.Path(), path)
	}
	if _, err := d.CountEvents(); err != nil {
		t.Errorf("event_log table missing after migration: %v", err)
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	d, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := d.SaveEvent(&EventLog{EventType: "task_queued", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("save event: %v", err)
	}
	d.Close()

	d2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d2.Close()

	n, err := d2.CountEvents()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count after reopen = %d, want 1", n)
	}
}

func TestSaveEvent_AssignsID(t *testing.T) {
	d := newTestDB(t)

	ev := &EventLog{
		EventType: "mode_unavailable",
		Data:      map[string]any{"outstanding": 1},
		Source:    "engine",
		CreatedAt: time.Now(),
	}
	if err := d.SaveEvent(ev); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	if ev.ID == 0 {
		t.Error("expected assigned ID")
	}
}

func TestSaveEvent_DeduplicatesExactDuplicates(t *testing.T) {
	d := newTestDB(t)

	at := time.Now()
	for i := 0; i < 2; i++ {
		ev := &EventLog{EventType: "task_queued", Kind: "reindex", CreatedAt: at}
		if err := d.SaveEvent(ev); err != nil {
			t.Fatalf("SaveEvent %d: %v", i, err)
		}
	}

	n, err := d.CountEvents()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 after dedup", n)
	}
}

func TestSaveEvents_Batch(t *testing.T) {
	d := newTestDB(t)

	base := time.Now()
	batch := make([]*EventLog, 5)
	for i := range batch {
		batch[i] = &EventLog{
			EventType: "task_complete",
			Kind:      "reindex",
			CreatedAt: base.Add(time.Duration(i) * time.Microsecond),
		}
	}
	if err := d.SaveEvents(batch); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}
	if err := d.SaveEvents(nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}

	n, err := d.CountEvents()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Errorf("count = %d, want 5", n)
	}
}

func TestQueryEvents_Filters(t *testing.T) {
	d := newTestDB(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seed := []*EventLog{
		{EventType: "mode_unavailable", CreatedAt: base},
		{EventType: "task_queued", Kind: "reindex", CreatedAt: base.Add(time.Second)},
		{EventType: "task_complete", Kind: "reindex", CreatedAt: base.Add(2 * time.Second)},
		{EventType: "mode_available", CreatedAt: base.Add(3 * time.Second)},
	}
	if err := d.SaveEvents(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	byKind, err := d.QueryEvents(QueryEventsOptions{Kind: "reindex"})
	if err != nil {
		t.Fatalf("query by kind: %v", err)
	}
	if len(byKind) != 2 {
		t.Errorf("kind filter returned %d, want 2", len(byKind))
	}

	byType, err := d.QueryEvents(QueryEventsOptions{EventTypes: []string{"mode_unavailable", "mode_available"}})
	if err != nil {
		t.Fatalf("query by type: %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("type filter returned %d, want 2", len(byType))
	}

	since := base.Add(1500 * time.Millisecond)
	recent, err := d.QueryEvents(QueryEventsOptions{Since: &since})
	if err != nil {
		t.Fatalf("query since: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("since filter returned %d, want 2", len(recent))
	}

	limited, err := d.QueryEvents(QueryEventsOptions{Limit: 1})
	if err != nil {
		t.Fatalf("query limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit returned %d, want 1", len(limited))
	}
	if limited[0].EventType != "mode_available" {
		t.Errorf("newest first: got %s, want mode_available", limited[0].EventType)
	}
}

func TestQueryEvents_RoundTripsData(t *testing.T) {
	d := newTestDB(t)

	ev := &EventLog{
		EventType: "mode_unavailable",
		Data:      map[string]any{"outstanding": float64(3), "version": float64(7)},
		CreatedAt: time.Now(),
	}
	if err := d.SaveEvent(ev); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := d.QueryEvents(QueryEventsOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	data, ok := got[0].Data.(map[string]any)
	if !ok {
		t.Fatalf("data type = %T, want map", got[0].Data)
	}
	if data["outstanding"] != float64(3) {
		t.Errorf("outstanding = %v, want 3", data["outstanding"])
	}
}
