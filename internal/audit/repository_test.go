package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE audit_events (
			id        TEXT PRIMARY KEY,
			ts        TEXT NOT NULL,
			actor     TEXT NOT NULL,
			device_id TEXT,
			kind      TEXT NOT NULL,
			detail    TEXT NOT NULL DEFAULT ''
		);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}
	return db
}

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	event := &Event{Kind: "armed", Actor: "1001", DeviceID: "alarm-01"}
	if err := repo.Create(ctx, event); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if event.ID == "" {
		t.Error("Create() should generate an ID")
	}
	if event.Timestamp.IsZero() {
		t.Error("Create() should stamp the event")
	}
}

func TestList_FiltersAndPagination(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	seed := []Event{
		{Kind: "armed", Actor: "1001", DeviceID: "alarm-01", Timestamp: base},
		{Kind: "disarmed", Actor: "system", DeviceID: "alarm-01", Timestamp: base.Add(time.Minute)},
		{Kind: "armed", Actor: "1001", DeviceID: "alarm-02", Timestamp: base.Add(2 * time.Minute)},
		{Kind: "alarm_triggered", Actor: "device", DeviceID: "alarm-02", Timestamp: base.Add(3 * time.Minute)},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("seeding event %d: %v", i, err)
		}
	}

	// By kind.
	result, err := repo.List(ctx, Filter{Kind: "armed"})
	if err != nil {
		t.Fatalf("List(kind) error = %v", err)
	}
	if result.Total != 2 {
		t.Errorf("Total = %d, want 2", result.Total)
	}

	// By actor + device.
	result, err = repo.List(ctx, Filter{Actor: "system", DeviceID: "alarm-01"})
	if err != nil {
		t.Fatalf("List(actor+device) error = %v", err)
	}
	if result.Total != 1 || result.Events[0].Kind != "disarmed" {
		t.Errorf("result = %+v, want the system disarm", result.Events)
	}

	// Ordering: most recent first.
	result, _ = repo.List(ctx, Filter{})
	if result.Events[0].Kind != "alarm_triggered" {
		t.Errorf("newest first, got %s", result.Events[0].Kind)
	}

	// Pagination.
	result, _ = repo.List(ctx, Filter{Limit: 2, Offset: 2})
	if len(result.Events) != 2 || result.Total != 4 {
		t.Errorf("page = %d events of %d total, want 2 of 4", len(result.Events), result.Total)
	}
}

func TestList_Empty(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Events == nil || len(result.Events) != 0 {
		t.Errorf("Events = %v, want empty non-nil slice", result.Events)
	}
}
