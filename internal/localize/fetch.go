package localize

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"coursearchiver/internal/util"
)

// acceptFunc decides from a Content-Type header whether a response is the
// resource we asked for rather than, say, a login page.
type acceptFunc func(contentType string) bool

func notMarkup(ct string) bool {
	ct = strings.ToLower(ct)
	return !strings.Contains(ct, "html") && !strings.Contains(ct, "json")
}

func notHTML(ct string) bool {
	return !strings.Contains(strings.ToLower(ct), "html")
}

func isImage(ct string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "image/")
}

func isNotebook(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/json") ||
		strings.Contains(ct, "text/plain") ||
		strings.Contains(ct, "application/octet-stream")
}

func (r *run) request(method, remote string) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := r.ctx, context.CancelFunc(func() {})
	if r.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(r.ctx, r.cfg.Timeout)
	}
	req, err := http.NewRequestWithContext(ctx, method, remote, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Referer", r.base.String())

	r.fetches++
	resp, err := r.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

// get downloads remote. accept may be nil.
func (r *run) get(kind, remote string, accept acceptFunc) ([]byte, error) {
	resp, cancel, err := r.request(http.MethodGet, remote)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); accept != nil && !accept(ct) {
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	r.metrics.AddBytes(kind, len(data))
	return data, nil
}

// head returns the Content-Type of remote if it answers 200.
func (r *run) head(remote string) (string, error) {
	resp, cancel, err := r.request(http.MethodHead, remote)
	if err != nil {
		return "", err
	}
	defer cancel()
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Header.Get("Content-Type"), nil
}

// download fetches remote into path and records it for this call.
func (r *run) download(kind, remote, path string, accept acceptFunc) error {
	data, err := r.get(kind, remote, accept)
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(path, data); err != nil {
		return err
	}
	r.local[remote] = path
	r.metrics.Asset(kind, "downloaded")
	return nil
}
