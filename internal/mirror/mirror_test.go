package mirror

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/daasclimate/internal/config"
)

type remoteFile struct {
	data  []byte
	mtime time.Time
}

type fakeConn struct {
	listed    string
	files     map[string]remoteFile
	retrieved []string
	quit      bool
}

func (c *fakeConn) List(dir string) ([]*ftp.Entry, error) {
	c.listed = dir
	entries := []*ftp.Entry{{Name: "archive", Type: ftp.EntryTypeFolder}}
	for name, f := range c.files {
		entries = append(entries, &ftp.Entry{Name: name, Type: ftp.EntryTypeFile, Size: uint64(len(f.data)), Time: f.mtime})
	}
	return entries, nil
}

func (c *fakeConn) Retr(p string) (io.ReadCloser, error) {
	f, ok := c.files[path.Base(p)]
	if !ok {
		return nil, errors.New("550 file not found")
	}
	c.retrieved = append(c.retrieved, p)
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (c *fakeConn) Quit() error {
	c.quit = true
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var mtime = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func newTestSyncer(t *testing.T, conn *fakeConn) (*Syncer, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Mirror.RemoteDir = "/pub/daas"
	dial := func(context.Context) (Conn, error) { return conn, nil }
	return NewSyncer(cfg, dial, discard()), cfg
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSync_DownloadsMatchingFiles(t *testing.T) {
	conn := &fakeConn{files: map[string]remoteFile{
		"tas_AFR-44_CanESM2_historical_r1i1p1.nc": {data: []byte("hist"), mtime: mtime},
		"pr_AFR-44_CanESM2_rcp45_r1i1p1.nc":       {data: []byte("proj"), mtime: mtime},
		"seas5_forecast_202403.nc":                {data: []byte("fc"), mtime: mtime},
		"README.txt":                              {data: []byte("ignored"), mtime: mtime},
	}}
	s, cfg := newTestSyncer(t, conn)

	res, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Changed())
	assert.Len(t, res.Downloaded, 3)
	assert.Equal(t, "/pub/daas", conn.listed)
	assert.True(t, conn.quit)

	b, err := os.ReadFile(filepath.Join(cfg.DataDir, "tas_AFR-44_CanESM2_historical_r1i1p1.nc"))
	require.NoError(t, err)
	assert.Equal(t, "hist", string(b))

	fi, err := os.Stat(filepath.Join(cfg.DataDir, "seasonal", "seas5_forecast_202403.nc"))
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(mtime), "mtime = %v", fi.ModTime())

	_, err = os.Stat(filepath.Join(cfg.DataDir, "README.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSync_SkipsUnchanged(t *testing.T) {
	conn := &fakeConn{files: map[string]remoteFile{
		"tas_CanESM2_historical.nc": {data: []byte("v1"), mtime: mtime},
	}}
	s, cfg := newTestSyncer(t, conn)

	_, err := s.Sync(context.Background())
	require.NoError(t, err)
	conn.retrieved = nil

	res, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, 1, res.Unchanged)
	assert.Empty(t, conn.retrieved)

	conn.files["tas_CanESM2_historical.nc"] = remoteFile{data: []byte("v2!"), mtime: mtime.Add(time.Hour)}
	res, err = s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tas_CanESM2_historical.nc"}, res.Downloaded)
	b, err := os.ReadFile(filepath.Join(cfg.DataDir, "tas_CanESM2_historical.nc"))
	require.NoError(t, err)
	assert.Equal(t, "v2!", string(b))
}

func TestSync_RedownloadsDeletedFile(t *testing.T) {
	conn := &fakeConn{files: map[string]remoteFile{
		"pr_CanESM2_rcp45.nc": {data: []byte("proj"), mtime: mtime},
	}}
	s, cfg := newTestSyncer(t, conn)

	_, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(cfg.DataDir, "pr_CanESM2_rcp45.nc")))

	res, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"pr_CanESM2_rcp45.nc"}, res.Downloaded)
}

func TestSync_ExtractsZip(t *testing.T) {
	conn := &fakeConn{files: map[string]remoteFile{
		"daas_data.zip": {data: zipBytes(t, map[string]string{
			"seasonal/seas5_hindcast.nc": "hc",
			"tas_CanESM2_historical.nc":  "hist",
		}), mtime: mtime},
	}}
	s, cfg := newTestSyncer(t, conn)

	res, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join("seasonal", "seas5_hindcast.nc"),
		"tas_CanESM2_historical.nc",
	}, res.Extracted)

	b, err := os.ReadFile(filepath.Join(cfg.DataDir, "seasonal", "seas5_hindcast.nc"))
	require.NoError(t, err)
	assert.Equal(t, "hc", string(b))
	_, err = os.Stat(filepath.Join(cfg.DataDir, "daas_data.zip.part"))
	assert.True(t, os.IsNotExist(err), "staged archive should be removed")

	conn.retrieved = nil
	res, err = s.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Empty(t, conn.retrieved)
}

func TestSync_RejectsUnsafeZip(t *testing.T) {
	conn := &fakeConn{files: map[string]remoteFile{
		"evil.zip": {data: zipBytes(t, map[string]string{"../outside.nc": "x"}), mtime: mtime},
	}}
	s, _ := newTestSyncer(t, conn)

	_, err := s.Sync(context.Background())
	assert.ErrorIs(t, err, errUnsafePath)
}

func TestSync_DialFailure(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	calls := 0
	dial := func(context.Context) (Conn, error) {
		calls++
		return nil, backoff.Permanent(errors.New("530 login incorrect"))
	}
	_, err := NewSyncer(cfg, dial, discard()).Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "530")
	assert.Equal(t, 1, calls)
}

func TestSync_Cancelled(t *testing.T) {
	conn := &fakeConn{files: map[string]remoteFile{
		"tas_CanESM2_historical.nc": {data: []byte("v1"), mtime: mtime},
	}}
	s, _ := newTestSyncer(t, conn)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, conn.retrieved)
}

func TestScheduler_ReloadsOnChange(t *testing.T) {
	conn := &fakeConn{files: map[string]remoteFile{
		"tas_CanESM2_historical.nc": {data: []byte("v1"), mtime: mtime},
	}}
	s, _ := newTestSyncer(t, conn)
	reloads := 0
	sched := NewScheduler(s, func(context.Context) error {
		reloads++
		return nil
	}, time.Hour, nil, discard())

	sched.syncOnce(context.Background())
	assert.Equal(t, 1, reloads)

	sched.syncOnce(context.Background())
	assert.Equal(t, 1, reloads, "unchanged sync should not reload")
}
