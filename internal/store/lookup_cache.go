package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// LookupEntry is a cached provider response.
type LookupEntry struct {
	Provider  string
	Key       string
	FetchedAt time.Time
	Payload   []byte
	Hash      string
	Hits      int
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// PayloadHash is the hex SHA-256 of an uncompressed payload.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// PutLookup stores a provider response under key and refreshes its fetch
// time. A payload identical to the stored one keeps the stored blob.
// Reports whether the payload changed.
func (s *Store) PutLookup(ctx context.Context, provider, key string, payload []byte) (bool, error) {
	compressed, err := compress(payload)
	if err != nil {
		return false, err
	}
	hash := PayloadHash(payload)

	var existing string
	err = s.db.QueryRowContext(ctx, `
		SELECT payload_hash FROM lookup_cache WHERE provider = ? AND query_key = ?
	`, provider, key).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("get lookup hash: %w", err)
	}
	changed := existing != hash

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lookup_cache (provider, query_key, fetched_at, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, query_key) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			payload_compressed = CASE WHEN lookup_cache.payload_hash = excluded.payload_hash
				THEN lookup_cache.payload_compressed ELSE excluded.payload_compressed END,
			payload_hash = excluded.payload_hash
	`, provider, key, time.Now().UTC(), compressed, hash)
	if err != nil {
		return false, fmt.Errorf("insert lookup: %w", err)
	}
	return changed, nil
}

// GetLookup returns the cached response for key, or nil if there is none
// or it is older than maxAge. A zero maxAge never expires.
func (s *Store) GetLookup(ctx context.Context, provider, key string, maxAge time.Duration) (*LookupEntry, error) {
	var (
		e          LookupEntry
		compressed []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT provider, query_key, fetched_at, payload_compressed, payload_hash, hits
		FROM lookup_cache WHERE provider = ? AND query_key = ?
	`, provider, key).Scan(&e.Provider, &e.Key, &e.FetchedAt, &compressed, &e.Hash, &e.Hits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lookup: %w", err)
	}
	if maxAge > 0 && time.Since(e.FetchedAt) > maxAge {
		return nil, nil
	}

	e.Payload, err = decompress(compressed)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE lookup_cache SET hits = hits + 1 WHERE provider = ? AND query_key = ?
	`, provider, key); err != nil {
		return nil, fmt.Errorf("count lookup hit: %w", err)
	}
	return &e, nil
}

// LookupStats contains storage statistics for the lookup cache.
type LookupStats struct {
	TotalCount      int
	TotalSizeBytes  int64
	CountByProvider map[string]int
	HitsByProvider  map[string]int
}

func (s *Store) GetLookupStats(ctx context.Context) (*LookupStats, error) {
	stats := &LookupStats{
		CountByProvider: make(map[string]int),
		HitsByProvider:  make(map[string]int),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0) FROM lookup_cache
	`)
	if err := row.Scan(&stats.TotalCount, &stats.TotalSizeBytes); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, COUNT(*), SUM(hits) FROM lookup_cache GROUP BY provider
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			provider    string
			count, hits int
		)
		if err := rows.Scan(&provider, &count, &hits); err != nil {
			return nil, err
		}
		stats.CountByProvider[provider] = count
		stats.HitsByProvider[provider] = hits
	}
	return stats, rows.Err()
}

// CleanupLookups deletes cached responses older than maxAge.
func (s *Store) CleanupLookups(ctx context.Context, maxAge time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM lookup_cache WHERE fetched_at < ?`,
		time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
