package dash

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"coursearchiver/internal/core/ports"
	"coursearchiver/internal/metrics"
)

// ChunkFetcher performs single byte-range GETs through the shared session.
type ChunkFetcher struct {
	client  ports.HTTPDoer
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewChunkFetcher creates a ChunkFetcher. timeout bounds each chunk.
func NewChunkFetcher(client ports.HTTPDoer, timeout time.Duration, m *metrics.Metrics) *ChunkFetcher {
	return &ChunkFetcher{client: client, timeout: timeout, metrics: m}
}

// Fetch returns the body of one "Range: bytes=<byteRange>" request. The
// range string is sent verbatim. There is no retry.
func (f *ChunkFetcher) Fetch(ctx context.Context, url, byteRange, referer string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Range: byteRange, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if byteRange != "" {
		req.Header.Set("Range", "bytes="+byteRange)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Range: byteRange, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, Range: byteRange, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Range: byteRange, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	f.metrics.AddBytes("chunk", len(data))
	return data, nil
}
