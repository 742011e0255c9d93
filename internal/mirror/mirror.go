// Package mirror keeps a local copy of the climate datasets published on an
// FTP server.
package mirror

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/daasclimate/internal/config"
	"github.com/lox/daasclimate/internal/metrics"
)

const manifestName = ".mirror.json"

// Conn is the part of an FTP connection the syncer uses.
type Conn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// DialFunc opens an authenticated connection.
type DialFunc func(ctx context.Context) (Conn, error)

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(p string) (io.ReadCloser, error) {
	r, err := c.ServerConn.Retr(p)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// FTPDialer connects and logs in to the configured server.
func FTPDialer(cfg config.Mirror) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		c, err := ftp.Dial(cfg.Addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
		}
		if err := c.Login(cfg.User, cfg.Password); err != nil {
			_ = c.Quit()
			return nil, backoff.Permanent(fmt.Errorf("login %s as %s: %w", cfg.Addr, cfg.User, err))
		}
		return serverConn{c}, nil
	}
}

// Syncer downloads new or changed files.
type Syncer struct {
	dial      DialFunc
	remoteDir string
	dataDir   string
	patterns  []string
	logger    *slog.Logger
}

// NewSyncer mirrors files matching the configured dataset patterns, plus any
// zip archive, from the remote directory into the data directory.
func NewSyncer(cfg *config.Config, dial DialFunc, logger *slog.Logger) *Syncer {
	return &Syncer{
		dial:      dial,
		remoteDir: cfg.Mirror.RemoteDir,
		dataDir:   cfg.DataDir,
		patterns: []string{
			cfg.Files.Historical,
			cfg.Files.Projection,
			cfg.Files.Forecast,
			cfg.Files.Hindcast,
		},
		logger: logger,
	}
}

// Result describes one sync.
type Result struct {
	Downloaded []string
	Extracted  []string
	Unchanged  int
}

// Changed reports whether any local file was written.
func (r Result) Changed() bool {
	return len(r.Downloaded) > 0
}

// fileState is what the manifest records about a remote file.
type fileState struct {
	Size    uint64    `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// Sync lists the remote directory and fetches every matching file whose
// size or modification time differs from the last sync.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	var res Result
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return res, fmt.Errorf("create data dir: %w", err)
	}

	var conn Conn
	dial := func() error {
		c, err := s.dial(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.RetryNotify(dial, bo, func(err error, wait time.Duration) {
		s.logger.Warn("mirror dial retry", "error", err, "wait", wait)
	}); err != nil {
		return res, err
	}
	defer conn.Quit()

	entries, err := conn.List(s.remoteDir)
	if err != nil {
		return res, fmt.Errorf("list %s: %w", s.remoteDir, err)
	}

	manifest, err := s.loadManifest()
	if err != nil {
		return res, err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		dest, ok := s.destination(e.Name)
		if !ok {
			continue
		}
		state := fileState{Size: e.Size, ModTime: e.Time.UTC()}
		if prev, ok := manifest[e.Name]; ok && prev.Size == state.Size && prev.ModTime.Equal(state.ModTime) {
			if _, err := os.Stat(dest); err == nil || isZip(e.Name) {
				res.Unchanged++
				continue
			}
		}

		remote := path.Join(s.remoteDir, e.Name)
		if s.remoteDir == "" {
			remote = e.Name
		}
		s.logger.Info("mirror download", "file", remote, "size", e.Size)
		if err := s.download(conn, remote, dest); err != nil {
			return res, err
		}
		metrics.MirrorFilesSynced.Inc()
		res.Downloaded = append(res.Downloaded, e.Name)

		if isZip(e.Name) {
			files, err := extractZip(dest, s.dataDir)
			os.Remove(dest)
			if err != nil {
				return res, fmt.Errorf("extract %s: %w", e.Name, err)
			}
			res.Extracted = append(res.Extracted, files...)
		} else if !state.ModTime.IsZero() {
			_ = os.Chtimes(dest, state.ModTime, state.ModTime)
		}

		manifest[e.Name] = state
		if err := s.saveManifest(manifest); err != nil {
			return res, err
		}
	}

	s.logger.Info("mirror sync complete",
		"downloaded", len(res.Downloaded),
		"extracted", len(res.Extracted),
		"unchanged", res.Unchanged,
	)
	return res, nil
}

func isZip(name string) bool {
	return strings.EqualFold(path.Ext(name), ".zip")
}

// destination maps a remote file name to its local path. Zip archives are
// staged in the data directory and removed after extraction.
func (s *Syncer) destination(name string) (string, bool) {
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", false
	}
	if isZip(name) {
		return filepath.Join(s.dataDir, name+".part"), true
	}
	for _, p := range s.patterns {
		if p == "" {
			continue
		}
		if ok, _ := path.Match(path.Base(filepath.ToSlash(p)), name); ok {
			return filepath.Join(s.dataDir, filepath.Dir(p), name), true
		}
	}
	return "", false
}

// download writes the remote file next to dest and renames it into place.
func (s *Syncer) download(conn Conn, remote, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}
	r, err := conn.Retr(remote)
	if err != nil {
		return fmt.Errorf("retrieve %s: %w", remote, err)
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", remote, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename %s: %w", dest, err)
	}
	return nil
}

var errUnsafePath = errors.New("archive entry escapes the data directory")

// extractZip unpacks every file of the archive under dir and returns their
// relative paths.
func extractZip(archive, dir string) ([]string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		dest := filepath.Join(root, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
			return out, fmt.Errorf("%s: %w", f.Name, errUnsafePath)
		}
		if err := extractFile(f, dest); err != nil {
			return out, err
		}
		rel, _ := filepath.Rel(root, dest)
		out = append(out, rel)
	}
	return out, nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	w, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	if mt := f.Modified; !mt.IsZero() {
		_ = os.Chtimes(dest, mt, mt)
	}
	return nil
}

func (s *Syncer) manifestPath() string {
	return filepath.Join(s.dataDir, manifestName)
}

func (s *Syncer) loadManifest() (map[string]fileState, error) {
	m := make(map[string]fileState)
	b, err := os.ReadFile(s.manifestPath())
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		s.logger.Warn("mirror manifest unreadable, syncing everything", "error", err)
		return make(map[string]fileState), nil
	}
	return m, nil
}

func (s *Syncer) saveManifest(m map[string]fileState) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp, s.manifestPath())
}
