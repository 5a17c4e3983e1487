package silero

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// Downloader fetches the Silero model to a local path.
type Downloader struct {
	URL  string
	Path string // resolved from LK_MODEL_PATH at download time when empty

	client *http.Client
}

// NewDownloader returns a downloader for the default model location.
func NewDownloader() *Downloader {
	return &Downloader{URL: ModelURL, client: http.DefaultClient}
}

// Download fetches the model unless a non-empty file already exists.
func (d *Downloader) Download(ctx context.Context) error {
	path := d.Path
	if path == "" {
		path = defaultModelPath()
	}
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		slog.Debug("Silero VAD model already exists", slog.String("model_path", path))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	slog.Info("Downloading Silero VAD model", slog.String("url", d.URL), slog.String("model_path", path))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return err
	}
	client := d.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", d.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: HTTP %d", d.URL, resp.StatusCode)
	}

	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
