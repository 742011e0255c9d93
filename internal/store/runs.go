package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lox/daasclimate/internal/models"
)

// StartRun records the start of a consultation and sets run.ID.
func (s *Store) StartRun(ctx context.Context, run *models.ConsultationRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = models.RunRunning

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO consultation_runs (run_id, started_at, activity, location, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.RunID, run.StartedAt, run.Activity, run.Location, run.Status)
	if err != nil {
		return err
	}

	run.ID, err = result.LastInsertId()
	return err
}

// CompleteRun records the outcome of a consultation.
func (s *Store) CompleteRun(ctx context.Context, run *models.ConsultationRun) error {
	if run == nil {
		return nil
	}

	now := time.Now().UTC()
	run.FinishedAt = sql.NullTime{Time: now, Valid: true}
	run.DurationMs = sql.NullInt64{Int64: now.Sub(run.StartedAt).Milliseconds(), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE consultation_runs SET
			finished_at = ?,
			lat = ?,
			lon = ?,
			soil = ?,
			season = ?,
			anomaly_mm = ?,
			status = ?,
			tokens = ?,
			duration_ms = ?,
			error = ?
		WHERE id = ?
	`, run.FinishedAt, run.Lat, run.Lon, run.Soil, run.Season, run.AnomalyMm,
		run.Status, run.Tokens, run.DurationMs, run.Error, run.ID)
	return err
}

// RecentRuns returns the latest consultation runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.ConsultationRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, started_at, finished_at, activity, location, lat, lon,
		       soil, season, anomaly_mm, status, tokens, duration_ms, error
		FROM consultation_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ConsultationRun
	for rows.Next() {
		var (
			r                  models.ConsultationRun
			activity, location sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.StartedAt, &r.FinishedAt, &activity, &location,
			&r.Lat, &r.Lon, &r.Soil, &r.Season, &r.AnomalyMm, &r.Status, &r.Tokens,
			&r.DurationMs, &r.Error); err != nil {
			return nil, err
		}
		r.Activity = activity.String
		r.Location = location.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
