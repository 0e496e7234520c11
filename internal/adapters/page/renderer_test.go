package page

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSite(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jump":
			http.Redirect(w, r, "/lesson", http.StatusFound)
			return
		case "/binary":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRenderer() *HTTPRenderer {
	return NewHTTPRenderer(http.DefaultClient, 5*time.Second, hclog.NewNullLogger())
}

func TestRenderInlinesUnitFrame(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/lesson": `<html><head><title>L</title></head><body><nav>menu</nav>` +
			`<iframe id="unit-iframe" src="/xblock/unit1"></iframe></body></html>`,
		"/xblock/unit1": `<html><head><link rel="stylesheet" href="css/unit.css"><style>.u{}</style></head>` +
			`<body><div class="content"><img src="img/a.png"><a href="#top">top</a></div></body></html>`,
	})

	got, err := newTestRenderer().Render(context.Background(), srv.URL+"/jump")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/lesson", got.FinalURL)
	assert.NotContains(t, got.HTML, "unit-iframe")
	assert.Contains(t, got.HTML, `<div class="content">`)
	assert.Contains(t, got.HTML, `<link rel="stylesheet" href="`+srv.URL+`/xblock/css/unit.css"/>`)
	assert.Contains(t, got.HTML, `<style>.u{}</style>`)
	assert.Contains(t, got.HTML, `src="`+srv.URL+`/xblock/img/a.png"`)
	assert.Contains(t, got.HTML, `href="#top"`)
	assert.Contains(t, got.HTML, "<nav>menu</nav>")
}

func TestRenderKeepsPageWhenFrameFails(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/lesson": `<html><body><iframe id="unit-iframe" src="/gone"></iframe></body></html>`,
	})

	got, err := newTestRenderer().Render(context.Background(), srv.URL+"/lesson")
	require.NoError(t, err)
	assert.Contains(t, got.HTML, "unit-iframe")
}

func TestRenderErrors(t *testing.T) {
	srv := newSite(t, nil)

	_, err := newTestRenderer().Render(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")

	_, err = newTestRenderer().Render(context.Background(), srv.URL+"/binary")
	assert.ErrorContains(t, err, "content type")
}
