package dash

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// rangeServer serves in-memory files honouring single "bytes=a-b" ranges
// and records every request as "path bytes=range".
type rangeServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	fail     map[string]int // request key -> status to return instead
	requests []string
	referers []string
}

func newRangeServer(t *testing.T) *rangeServer {
	t.Helper()
	rs := &rangeServer{files: map[string][]byte{}, fail: map[string]int{}}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.serve))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *rangeServer) serve(w http.ResponseWriter, r *http.Request) {
	rng := strings.TrimPrefix(r.Header.Get("Range"), "bytes=")
	key := r.URL.Path
	if rng != "" {
		key += " bytes=" + rng
	}

	rs.mu.Lock()
	rs.requests = append(rs.requests, key)
	rs.referers = append(rs.referers, r.Header.Get("Referer"))
	data, ok := rs.files[r.URL.Path]
	status, failing := rs.fail[key]
	rs.mu.Unlock()

	if failing {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	if rng == "" {
		_, _ = w.Write(data)
		return
	}

	first, last, _ := strings.Cut(rng, "-")
	start, _ := strconv.Atoi(first)
	end, _ := strconv.Atoi(last)
	if start > end || end >= len(data) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data[start : end+1])
}

func (rs *rangeServer) requestLog() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.requests...)
}
