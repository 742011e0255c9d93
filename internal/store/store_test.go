package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/daasclimate/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrationVersion(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("MigrationVersion = %d, want %d", version, len(migrations))
	}

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestLookup_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	payload := []byte(`{"features":[{"properties":{"lat":-1.28,"lon":36.82}}]}`)

	changed, err := store.PutLookup(ctx, "geoapify", "nairobi", payload)
	if err != nil {
		t.Fatalf("PutLookup: %v", err)
	}
	if !changed {
		t.Error("first PutLookup should insert")
	}

	e, err := store.GetLookup(ctx, "geoapify", "nairobi", 0)
	if err != nil {
		t.Fatalf("GetLookup: %v", err)
	}
	if e == nil {
		t.Fatal("GetLookup returned nil")
	}
	if !bytes.Equal(e.Payload, payload) {
		t.Errorf("Payload = %s, want %s", e.Payload, payload)
	}
	if e.Hash != PayloadHash(payload) {
		t.Errorf("Hash = %s, want %s", e.Hash, PayloadHash(payload))
	}
}

func TestLookup_DuplicatePayload(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	payload := []byte(`{"wrb_class_name":"Ferralsols"}`)

	if _, err := store.PutLookup(ctx, "soilgrids", "1.0,37.0", payload); err != nil {
		t.Fatal(err)
	}
	changed, err := store.PutLookup(ctx, "soilgrids", "1.0,37.0", payload)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("identical payload should not count as a change")
	}

	changed, err = store.PutLookup(ctx, "soilgrids", "1.0,37.0", []byte(`{"wrb_class_name":"Vertisols"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("new payload should replace the row")
	}
}

func TestLookup_MissAndExpiry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e, err := store.GetLookup(ctx, "geoapify", "nowhere", 0)
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Error("expected nil for missing key")
	}

	if _, err := store.PutLookup(ctx, "geoapify", "old", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.Exec(`UPDATE lookup_cache SET fetched_at = ?`, time.Now().UTC().Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}
	e, err = store.GetLookup(ctx, "geoapify", "old", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Error("expected expired entry to be ignored")
	}
}

func TestLookup_RefetchRefreshesExpiredEntry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	payload := []byte(`{"features":[{"properties":{"lat":-1.29,"lon":36.82}}]}`)

	if _, err := store.PutLookup(ctx, "geoapify", "nairobi", payload); err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.Exec(`UPDATE lookup_cache SET fetched_at = ?`, time.Now().UTC().Add(-91*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	maxAge := 90 * 24 * time.Hour
	if e, err := store.GetLookup(ctx, "geoapify", "nairobi", maxAge); err != nil || e != nil {
		t.Fatalf("GetLookup before refetch = %v, %v; want expired", e, err)
	}

	changed, err := store.PutLookup(ctx, "geoapify", "nairobi", payload)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("identical refetch should not count as a change")
	}
	e, err := store.GetLookup(ctx, "geoapify", "nairobi", maxAge)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("refetched entry should be fresh again")
	}
	if string(e.Payload) != string(payload) {
		t.Errorf("Payload = %s, want %s", e.Payload, payload)
	}
}

func TestLookupStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if _, err := store.PutLookup(ctx, "geoapify", k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.PutLookup(ctx, "soilgrids", "c", []byte("c")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetLookup(ctx, "geoapify", "a", 0); err != nil {
		t.Fatal(err)
	}

	stats, err := store.GetLookupStats(ctx)
	if err != nil {
		t.Fatalf("GetLookupStats: %v", err)
	}
	if stats.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", stats.TotalCount)
	}
	if stats.CountByProvider["geoapify"] != 2 {
		t.Errorf("geoapify count = %d, want 2", stats.CountByProvider["geoapify"])
	}
	if stats.HitsByProvider["geoapify"] != 1 {
		t.Errorf("geoapify hits = %d, want 1", stats.HitsByProvider["geoapify"])
	}
}

func TestRun_StartAndComplete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &models.ConsultationRun{RunID: "r-1", Activity: "maize", Location: "Nakuru"}
	if err := store.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.ID == 0 {
		t.Error("run.ID should be set")
	}
	if run.Status != models.RunRunning {
		t.Errorf("Status = %q, want running", run.Status)
	}

	run.Lat = sql.NullFloat64{Float64: -0.3, Valid: true}
	run.Lon = sql.NullFloat64{Float64: 36.07, Valid: true}
	run.Soil = sql.NullString{String: "Andosols", Valid: true}
	run.Season = sql.NullString{String: "Mar Apr May 2024", Valid: true}
	run.AnomalyMm = sql.NullFloat64{Float64: 12.5, Valid: true}
	run.Tokens = 42
	run.Status = models.RunOK
	if err := store.CompleteRun(ctx, run); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	runs, err := store.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.Status != models.RunOK || got.Tokens != 42 || got.Soil.String != "Andosols" {
		t.Errorf("run = %+v", got)
	}
	if !got.FinishedAt.Valid || !got.DurationMs.Valid {
		t.Error("finished_at and duration_ms should be set")
	}
	if got.Error.Valid {
		t.Errorf("Error = %q, want null", got.Error.String)
	}
}

func TestRun_Error(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &models.ConsultationRun{RunID: "r-2", Location: "Atlantis"}
	if err := store.StartRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	run.Status = models.RunError
	run.Error = sql.NullString{String: "geocode: not found", Valid: true}
	if err := store.CompleteRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	runs, err := store.RecentRuns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if runs[0].Error.String != "geocode: not found" {
		t.Errorf("Error = %q", runs[0].Error.String)
	}
	if runs[0].Lat.Valid {
		t.Error("lat should stay null when geocoding failed")
	}
}

func TestValidTableName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"hazard_events", true},
		{"floods2020", true},
		{"_tmp", true},
		{"2020floods", false},
		{"events; DROP TABLE x", false},
		{"public.events", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidTableName(tt.name)
		if (err == nil) != tt.ok {
			t.Errorf("ValidTableName(%q) = %v, want ok=%v", tt.name, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidTable) {
			t.Errorf("ValidTableName(%q) error %v is not ErrInvalidTable", tt.name, err)
		}
	}
}

const eventsCSV = `event_date,event_type,country,description,latitude,longitude
2018-03-14,Flood,Kenya,<p>Tana River burst its banks</p>,-1.5,40.0
2019-10-02, Drought ,Kenya,Turkana,3.1,35.6
`

func TestParseEventsCSV(t *testing.T) {
	events, err := ParseEventsCSV(strings.NewReader(eventsCSV))
	if err != nil {
		t.Fatalf("ParseEventsCSV: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[1].EventType != "Drought" {
		t.Errorf("EventType = %q, want trimmed Drought", events[1].EventType)
	}
	want := time.Date(2018, 3, 14, 0, 0, 0, 0, time.UTC)
	if !events[0].EventDate.Equal(want) {
		t.Errorf("EventDate = %v, want %v", events[0].EventDate, want)
	}
}

func TestParseEventsCSV_Errors(t *testing.T) {
	tests := map[string]string{
		"missing column": "event_date,event_type,latitude\n2018-01-01,Flood,1\n",
		"bad date":       "event_date,event_type,latitude,longitude\nyesterday,Flood,1,2\n",
		"bad latitude":   "event_date,event_type,latitude,longitude\n2018-01-01,Flood,north,2\n",
		"out of range":   "event_date,event_type,latitude,longitude\n2018-01-01,Flood,91,2\n",
	}
	for name, in := range tests {
		if _, err := ParseEventsCSV(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestImportEventsCSV(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n, err := store.ImportEventsCSV(ctx, "hazard_events", strings.NewReader(eventsCSV))
	if err != nil {
		t.Fatalf("ImportEventsCSV: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d, want 2", n)
	}

	n, err = store.ImportEventsCSV(ctx, "floods", strings.NewReader(eventsCSV))
	if err != nil {
		t.Fatalf("ImportEventsCSV into new table: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d, want 2", n)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM floods`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("floods rows = %d, want 2", count)
	}

	if _, err := store.ImportEventsCSV(ctx, "bad name", strings.NewReader(eventsCSV)); !errors.Is(err, ErrInvalidTable) {
		t.Errorf("err = %v, want ErrInvalidTable", err)
	}
}
