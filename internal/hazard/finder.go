// Package hazard finds recorded hazard events (floods, droughts, conflict)
// near a location.
package hazard

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/lox/daasclimate/internal/grid"
	"github.com/lox/daasclimate/internal/models"
	"github.com/lox/daasclimate/internal/store"
)

const kmPerDegree = 111

// Finder queries event tables with the same columns as hazard_events.
type Finder struct {
	db       *sql.DB
	postgres bool
	tables   []string
	limit    int
	logger   *slog.Logger
}

// IsPostgres reports whether dsn names a PostgreSQL database.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// OpenPostgres connects to the event database at dsn.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping event database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	return db, nil
}

// NewFinder returns a finder over tables in db. limit caps the events
// returned by Near.
func NewFinder(db *sql.DB, postgres bool, tables []string, limit int, logger *slog.Logger) (*Finder, error) {
	for _, t := range tables {
		if err := store.ValidTableName(t); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = 10
	}
	return &Finder{db: db, postgres: postgres, tables: tables, limit: limit, logger: logger}, nil
}

// Square is the latitude/longitude box reaching km from a point.
type Square struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// SquareAround uses 111 km per degree of latitude and scales longitude by
// the cosine of the latitude.
func SquareAround(lat, lon, km float64) Square {
	dlat := km / kmPerDegree
	dlon := km / (kmPerDegree * math.Max(math.Cos(lat*math.Pi/180), 1e-6))
	return Square{
		LatMin: lat - dlat, LatMax: lat + dlat,
		LonMin: lon - dlon, LonMax: lon + dlon,
	}
}

func (f *Finder) query(table string) string {
	q := fmt.Sprintf(`
		SELECT id, event_date, event_type, country, description, latitude, longitude
		FROM %s
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?
		ORDER BY event_date DESC
		LIMIT ?`, table)
	if !f.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Near returns the most recent events inside the square reaching km from
// lat, lon across all tables, newest first.
func (f *Finder) Near(ctx context.Context, lat, lon, km float64) ([]models.HazardEvent, error) {
	sq := SquareAround(lat, lon, km)
	var events []models.HazardEvent
	for _, table := range f.tables {
		rows, err := f.db.QueryContext(ctx, f.query(table), sq.LatMin, sq.LatMax, sq.LonMin, sq.LonMax, f.limit)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", table, err)
		}
		found, err := scanEvents(rows, table)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		events = append(events, found...)
	}

	for i := range events {
		events[i].DistanceKm = grid.Haversine(lat, lon, events[i].Latitude, events[i].Longitude)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].EventDate.After(events[j].EventDate)
	})
	if len(events) > f.limit {
		events = events[:f.limit]
	}
	f.logger.Debug("hazard events", "lat", lat, "lon", lon, "km", km, "found", len(events))
	return events, nil
}

func scanEvents(rows *sql.Rows, table string) ([]models.HazardEvent, error) {
	defer rows.Close()
	var events []models.HazardEvent
	for rows.Next() {
		var (
			ev                   models.HazardEvent
			date                 interface{}
			country, description sql.NullString
		)
		if err := rows.Scan(&ev.ID, &date, &ev.EventType, &country, &description, &ev.Latitude, &ev.Longitude); err != nil {
			return nil, err
		}
		t, err := eventDate(date)
		if err != nil {
			return nil, err
		}
		ev.Table = table
		ev.EventDate = t
		ev.Country = country.String
		ev.Description = description.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// eventDate accepts the DATE representations of the SQLite and PostgreSQL
// drivers.
func eventDate(v interface{}) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case string:
		return parseDate(d)
	case []byte:
		return parseDate(string(d))
	}
	return time.Time{}, fmt.Errorf("event_date: unsupported type %T", v)
}

func parseDate(s string) (time.Time, error) {
	if len(s) >= 10 {
		if t, err := time.Parse(time.DateOnly, s[:10]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("event_date %q", s)
}
