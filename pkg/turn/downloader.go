package turn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/chriscow/livekit-voice-agent/pkg/turn/internal"
)

const huggingFaceURL = "https://huggingface.co"

// Downloader fetches turn-detector files from the HuggingFace hub.
type Downloader struct {
	modelPath string
	baseURL   string
	client    *http.Client
	logger    *slog.Logger
}

// NewDownloader creates a downloader storing files under modelPath.
func NewDownloader(modelPath string) *Downloader {
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	return &Downloader{
		modelPath: modelPath,
		baseURL:   huggingFaceURL,
		client:    &http.Client{},
		logger:    slog.Default().With(slog.String("component", "turn")),
	}
}

// Download fetches the named model ("english" or "multilingual").
func (d *Downloader) Download(ctx context.Context, name string) error {
	model, ok := internal.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown model: %s", name)
	}
	return d.download(ctx, model)
}

// DownloadAll fetches every known model.
func (d *Downloader) DownloadAll(ctx context.Context) error {
	for _, model := range internal.AllModels {
		if err := d.download(ctx, model); err != nil {
			return fmt.Errorf("download model %s: %w", model.Name, err)
		}
	}
	return nil
}

func (d *Downloader) download(ctx context.Context, model internal.ModelInfo) error {
	for _, filename := range model.Files {
		dest := internal.ModelFilePath(d.modelPath, model.Revision, filename)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create directories for %s: %w", filename, err)
		}

		if d.isValidFile(dest, model.Hashes[filename]) {
			d.logger.Debug("Model file present", slog.String("file", filename), slog.String("revision", model.Revision))
			continue
		}

		d.logger.Info("Downloading model file", slog.String("file", filename), slog.String("revision", model.Revision))
		if err := d.fetch(ctx, model, filename, dest); err != nil {
			os.Remove(dest)
			return fmt.Errorf("download %s: %w", filename, err)
		}
		if want := model.Hashes[filename]; want != "" && !d.isValidFile(dest, want) {
			os.Remove(dest)
			return fmt.Errorf("download %s: checksum mismatch", filename)
		}
	}

	d.logger.Info("Model downloaded", slog.String("model", model.Name), slog.String("revision", model.Revision))
	return nil
}

func (d *Downloader) fetch(ctx context.Context, model internal.ModelInfo, filename, dest string) error {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", d.baseURL, model.Repo, model.Revision, filename)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	tmp := dest + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("write file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// isValidFile reports whether path exists, is non-empty and matches wantHash when one is given.
func (d *Downloader) isValidFile(path, wantHash string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	if wantHash == "" {
		return true
	}

	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return false
	}
	return hex.EncodeToString(h.Sum(nil)) == wantHash
}

// Status reports, per model name, whether every file is present and valid.
func (d *Downloader) Status() map[string]bool {
	status := make(map[string]bool)
	for _, model := range internal.AllModels {
		complete := true
		for _, filename := range model.Files {
			if !d.isValidFile(internal.ModelFilePath(d.modelPath, model.Revision, filename), model.Hashes[filename]) {
				complete = false
				break
			}
		}
		status[model.Name] = complete
	}
	return status
}
