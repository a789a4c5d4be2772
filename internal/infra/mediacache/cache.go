// Package mediacache caches remote media on local disk so playback
// survives network loss. A non-empty file under the cache root is the
// cache record; there is no separate index or checksum.
package mediacache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"signage/config"
	"signage/internal/domain/entity"
	"signage/internal/domain/repository"

	"github.com/pkg/errors"
)

// Manager implements repository.MediaCache on a local directory.
type Manager struct {
	root       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewManager is the constructor for Manager.
func NewManager(cfg *config.Config, logger *slog.Logger) (repository.MediaCache, error) {
	if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}

	return &Manager{
		root:    cfg.Cache.Dir,
		baseURL: strings.TrimRight(cfg.Backend.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Backend.DownloadTimeout,
		},
		logger: logger,
	}, nil
}

// LocalPath returns the cached file path for the item's media, and whether
// a non-empty copy is present. Zero-length files do not count: they are
// leftovers of an interrupted write.
func (m *Manager) LocalPath(item entity.PlaylistItem) (string, bool) {
	if item.Media == nil || item.Media.FileName == "" {
		return "", false
	}

	path := filepath.Join(m.root, filepath.Base(item.Media.FileName))
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", false
	}

	return path, true
}

// Download fetches the item's media into the cache. Present non-empty
// files short-circuit without a network call. On any failure the partial
// file is removed so the next attempt starts clean.
func (m *Manager) Download(ctx context.Context, item entity.PlaylistItem) error {
	if item.Media == nil || item.Media.FileName == "" {
		// No-op slot; nothing to fetch.
		return nil
	}

	if _, ok := m.LocalPath(item); ok {
		return nil
	}

	target := filepath.Join(m.root, filepath.Base(item.Media.FileName))
	downloadURL := fmt.Sprintf("%s/api/media/%s/download", m.baseURL, url.PathEscape(item.Media.ID))

	if err := m.fetch(ctx, downloadURL, target); err != nil {
		m.logger.Warn("media download failed",
			slog.String("file", item.Media.FileName),
			slog.Any("error", err))

		return err
	}

	m.logger.Debug("media cached", slog.String("file", item.Media.FileName))

	return nil
}

func (m *Manager) fetch(ctx context.Context, downloadURL, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build download request")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "download request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download failed with status %d", resp.StatusCode)
	}

	// Write to a temp name and rename, so a torn download can never be
	// mistaken for a cached asset.
	tmp := target + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create cache file")
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmp)

		return errors.Wrap(err, "failed to write cache file")
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)

		return errors.Wrap(err, "failed to close cache file")
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)

		return errors.Wrap(err, "failed to finalize cache file")
	}

	return nil
}

// Progress is the fraction of items with a cached copy. An empty playlist
// is vacuously fully cached, so the progress bar cannot wedge at zero.
func (m *Manager) Progress(items []entity.PlaylistItem) float64 {
	if len(items) == 0 {
		return 1
	}

	cached := 0
	for _, item := range items {
		if _, ok := m.LocalPath(item); ok {
			cached++
		}
	}

	return float64(cached) / float64(len(items))
}
