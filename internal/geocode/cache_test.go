package geocode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/daasclimate/internal/store"
)

// --- mock for cache tests ---

type countingFetcher struct {
	calls int
	body  string
	err   error
}

func (m *countingFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	m.calls++
	return []byte(m.body), m.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db, discard())
	require.NoError(t, st.Migrate())
	return st
}

// --- CachedGeocoder tests ---

func TestCachedGeocoder_MemoryHit(t *testing.T) {
	inner := &countingFetcher{body: nairobiJSON}
	cached := NewCachedGeocoder(inner, 10, nil, discard())

	r1, err := cached.Geocode(context.Background(), "Nairobi")
	require.NoError(t, err)
	r2, err := cached.Geocode(context.Background(), "  NAIROBI ")
	require.NoError(t, err)

	assert.Equal(t, r1.Lat, r2.Lat)
	assert.Equal(t, "  NAIROBI ", r2.Query)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
}

func TestCachedGeocoder_StoreHit(t *testing.T) {
	st := testStore(t)
	inner := &countingFetcher{body: nairobiJSON}

	_, err := NewCachedGeocoder(inner, 10, st, discard()).Geocode(context.Background(), "Nairobi")
	require.NoError(t, err)

	// A fresh decorator has an empty LRU but finds the persisted payload.
	loc, err := NewCachedGeocoder(inner, 10, st, discard()).Geocode(context.Background(), "nairobi")
	require.NoError(t, err)
	assert.Equal(t, "Nairobi, Kenya", loc.Formatted)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedGeocoder_NotFoundNotCached(t *testing.T) {
	inner := &countingFetcher{body: `{"features":[]}`}
	cached := NewCachedGeocoder(inner, 10, testStore(t), discard())

	_, err := cached.Geocode(context.Background(), "Xyzzy")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cached.Geocode(context.Background(), "Xyzzy")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_ErrorPassthrough(t *testing.T) {
	boom := errors.New("boom")
	cached := NewCachedGeocoder(&countingFetcher{err: boom}, 10, nil, discard())

	_, err := cached.Geocode(context.Background(), "Nairobi")
	assert.ErrorIs(t, err, boom)
}

func TestCachedGeocoder_EvictsLeastRecent(t *testing.T) {
	inner := &countingFetcher{body: nairobiJSON}
	cached := NewCachedGeocoder(inner, 2, nil, discard())
	ctx := context.Background()

	for _, q := range []string{"a", "b", "a", "c", "a", "b"} {
		_, err := cached.Geocode(ctx, q)
		require.NoError(t, err)
	}
	// a, b, c miss; a stays recent; b was evicted by c.
	assert.Equal(t, 4, inner.calls)
}

func TestCachedGeocoder_ExpiredStoreEntryRefreshed(t *testing.T) {
	st := testStore(t)
	inner := &countingFetcher{body: nairobiJSON}
	ctx := context.Background()

	_, err := NewCachedGeocoder(inner, 10, st, discard()).Geocode(ctx, "Nairobi")
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE lookup_cache SET fetched_at = ?`, time.Now().UTC().Add(-91*24*time.Hour))
	require.NoError(t, err)

	// Expired: refetched with an identical payload.
	_, err = NewCachedGeocoder(inner, 10, st, discard()).Geocode(ctx, "Nairobi")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	// The refetch renewed the row, so a cold decorator hits the store.
	_, err = NewCachedGeocoder(inner, 10, st, discard()).Geocode(ctx, "Nairobi")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
