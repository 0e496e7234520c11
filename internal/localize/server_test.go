package localize

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"

	"coursearchiver/internal/core/domain"
)

type resource struct {
	contentType string
	body        string
}

// assetServer serves fixed resources by path and records "METHOD path" for
// every request.
type assetServer struct {
	*httptest.Server

	mu        sync.Mutex
	resources map[string]resource
	requests  []string
}

func newAssetServer(t *testing.T, resources map[string]resource) *assetServer {
	t.Helper()
	s := &assetServer{resources: resources}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *assetServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	res, ok := s.resources[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", res.contentType)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(res.body))
}

func (s *assetServer) requestLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func newTestLocalizer(cfg Config) *Localizer {
	return New(http.DefaultClient, cfg, hclog.NewNullLogger(), nil)
}

// lessonLayout places a lesson two levels below the course root, like a
// chapter/sequential lesson.
func lessonLayout(t *testing.T) (string, domain.AssetLayout) {
	t.Helper()
	root := t.TempDir()
	doc := filepath.Join(root, "Chapter", "Sequence", "Lesson.html")
	return root, domain.LayoutFor(root, doc)
}
