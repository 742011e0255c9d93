package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lox/daasclimate/internal/models"
)

var ErrInvalidTable = errors.New("store: invalid table name")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidTableName rejects anything that is not a plain SQL identifier.
// Table names are interpolated into queries so this is the only guard.
func ValidTableName(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return nil
}

// EnsureEventTable creates an extra hazard event table with the same
// columns as hazard_events.
func (s *Store) EnsureEventTable(ctx context.Context, table string) error {
	if err := ValidTableName(table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_date DATE NOT NULL,
			event_type TEXT NOT NULL,
			country TEXT,
			description TEXT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_position ON %[1]s(latitude, longitude);
	`, table))
	return err
}

// InsertEvents adds events to table in one transaction.
func (s *Store) InsertEvents(ctx context.Context, table string, events []models.HazardEvent) (int, error) {
	if err := s.EnsureEventTable(ctx, table); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (event_date, event_type, country, description, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?)
	`, table))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, ev := range events {
		if _, err := stmt.ExecContext(ctx, ev.EventDate.Format(time.DateOnly), ev.EventType, ev.Country,
			ev.Description, ev.Latitude, ev.Longitude); err != nil {
			return 0, fmt.Errorf("insert event %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(events), nil
}

var eventColumns = []string{"event_date", "event_type", "country", "description", "latitude", "longitude"}

// ParseEventsCSV reads hazard events from CSV with a header row naming at
// least event_date, event_type, latitude and longitude.
func ParseEventsCSV(r io.Reader) ([]models.HazardEvent, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int)
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"event_date", "event_type", "latitude", "longitude"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q (want %s)", name, strings.Join(eventColumns, ","))
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var events []models.HazardEvent
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := parseEventDate(field(rec, "event_date"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		lat, err := strconv.ParseFloat(field(rec, "latitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(field(rec, "longitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: longitude: %w", line, err)
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 360 {
			return nil, fmt.Errorf("line %d: position %g,%g out of range", line, lat, lon)
		}

		events = append(events, models.HazardEvent{
			EventDate:   date,
			EventType:   field(rec, "event_type"),
			Country:     field(rec, "country"),
			Description: field(rec, "description"),
			Latitude:    lat,
			Longitude:   lon,
		})
	}
	return events, nil
}

func parseEventDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.RFC3339, "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("event_date %q: want YYYY-MM-DD", s)
}

// ImportEventsCSV parses r and inserts the events into table.
func (s *Store) ImportEventsCSV(ctx context.Context, table string, r io.Reader) (int, error) {
	events, err := ParseEventsCSV(r)
	if err != nil {
		return 0, err
	}
	return s.InsertEvents(ctx, table, events)
}
