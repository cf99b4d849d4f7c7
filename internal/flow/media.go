package flow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/models"
)

// Media fetch configuration constants
const (
	// DefaultFetchTimeout bounds a single remote media fetch.
	DefaultFetchTimeout = 30 * time.Second
	// MaxMediaBytes caps the size of a fetched media resource.
	MaxMediaBytes = 16 << 20
)

// Fetcher retrieves remote media resources referenced by Output nodes.
type Fetcher interface {
	FetchMedia(ctx context.Context, url string) (models.MediaBlob, error)
}

// HTTPFetcher implements Fetcher over plain HTTP.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher with the default fetch timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: DefaultFetchTimeout}}
}

// FetchMedia downloads the resource at url, enforcing the size cap and
// sniffing the content type when the server does not supply one.
func (f *HTTPFetcher) FetchMedia(ctx context.Context, url string) (models.MediaBlob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.MediaBlob{}, fmt.Errorf("failed to build media request for %s: %w", url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		slog.Error("HTTPFetcher request failed", "error", err, "url", url)
		return models.MediaBlob{}, fmt.Errorf("failed to fetch media from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("HTTPFetcher unexpected status", "status", resp.StatusCode, "url", url)
		return models.MediaBlob{}, fmt.Errorf("unexpected status %d fetching media from %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		slog.Error("HTTPFetcher read failed", "error", err, "url", url)
		return models.MediaBlob{}, fmt.Errorf("failed to read media from %s: %w", url, err)
	}
	if len(data) > MaxMediaBytes {
		return models.MediaBlob{}, fmt.Errorf("media from %s exceeds %d byte limit", url, MaxMediaBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	slog.Debug("HTTPFetcher media fetched", "url", url, "bytes", len(data), "mime", mimeType)
	return models.MediaBlob{
		Data:      data,
		MimeType:  mimeType,
		FileName:  path.Base(req.URL.Path),
		SourceURL: url,
	}, nil
}
