package localize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestLocalizeStylesheetsAndFonts(t *testing.T) {
	srv := newAssetServer(t, map[string]resource{
		"/static/main.css": {"text/css", "@import url(\"theme.css\");\n.main{color:red}\n" +
			"@font-face{font-family:A;src:url(fonts/a.woff2) format(\"woff2\")}\n.bg{background:url(bg.png)}"},
		"/static/theme.css":     {"text/css", ".theme{color:blue}\n@font-face{src:url('/f/b.ttf')}"},
		"/static/fonts/a.woff2": {"font/woff2", "A"},
		"/f/b.ttf":              {"font/ttf", "B"},
		"/f/inline.woff":        {"font/woff", "I"},
	})
	root, dest := lessonLayout(t)
	page := `<html><head><link rel="stylesheet" href="/static/main.css">` +
		`<style>@font-face{src:url("/f/inline.woff")}</style></head><body><p>x</p></body></html>`

	out, err := newTestLocalizer(Config{}).Localize(context.Background(), page, srv.URL+"/courses/lesson/", dest)
	require.NoError(t, err)

	cssName := StableFilename(srv.URL+"/static/main.css", "css")
	assert.Contains(t, out, `href="../../_assets/css/`+cssName+`"`)
	assert.Contains(t, out, `url('../../_assets/fonts/inline.woff')`)

	css := readFile(t, filepath.Join(root, "_assets", "css", cssName))
	assert.NotContains(t, css, "@import")
	assert.Contains(t, css, "url('../fonts/a.woff2')")
	assert.Contains(t, css, "url('../fonts/b.ttf')")
	assert.Contains(t, css, "url(bg.png)")
	assert.Less(t, strings.Index(css, ".theme"), strings.Index(css, ".main"))

	for _, f := range []string{"a.woff2", "b.ttf", "inline.woff"} {
		assert.FileExists(t, filepath.Join(root, "_assets", "fonts", f))
	}
}

func TestLocalizeImportCyclesTerminate(t *testing.T) {
	srv := newAssetServer(t, map[string]resource{
		"/a.css":    {"text/css", "@import \"b.css\";\n.a{}"},
		"/b.css":    {"text/css", "@import url(a.css);\n.b{}"},
		"/self.css": {"text/css", "@import \"self.css\";\n.self{}"},
	})
	root, dest := lessonLayout(t)
	page := `<html><head><link rel="stylesheet" href="/a.css"><link rel="stylesheet" href="/self.css"></head><body></body></html>`

	_, err := newTestLocalizer(Config{}).Localize(context.Background(), page, srv.URL+"/", dest)
	require.NoError(t, err)

	a := readFile(t, filepath.Join(root, "_assets", "css", StableFilename(srv.URL+"/a.css", "css")))
	assert.Equal(t, 1, strings.Count(a, ".a{}"))
	assert.Equal(t, 1, strings.Count(a, ".b{}"))
	assert.Less(t, strings.Index(a, ".b{}"), strings.Index(a, ".a{}"))

	self := readFile(t, filepath.Join(root, "_assets", "css", StableFilename(srv.URL+"/self.css", "css")))
	assert.Equal(t, 1, strings.Count(self, ".self{}"))

	gets := map[string]int{}
	for _, r := range srv.requestLog() {
		gets[r]++
	}
	assert.Equal(t, 1, gets["GET /a.css"])
	assert.Equal(t, 1, gets["GET /b.css"])
	assert.Equal(t, 1, gets["GET /self.css"])
}

func TestLocalizeTwiceFetchesNothingNew(t *testing.T) {
	srv := newAssetServer(t, map[string]resource{
		"/static/site.css": {"text/css", "@font-face{src:url(/f/x.woff2)}"},
		"/f/x.woff2":       {"font/woff2", "X"},
		"/js/app.js":       {"application/javascript", "console.log(1)"},
		"/img/photo.png":   {"image/png", "PNG"},
		"/files/guide.pdf": {"application/pdf", "%PDF"},
		"/files/lab.ipynb": {"application/json", "{}"},
	})
	_, dest := lessonLayout(t)
	page := `<html><head><link rel="stylesheet" href="/static/site.css"><script src="/js/app.js"></script></head><body>` +
		`<img src="/img/photo.png"><img src="data:image/gif;base64,R0lGOD lhAQ==">` +
		`<a href="/files/guide.pdf">Guide</a><a href="/files/lab.ipynb">Lab</a></body></html>`
	l := newTestLocalizer(Config{})

	first, err := l.Localize(context.Background(), page, srv.URL+"/lesson", dest)
	require.NoError(t, err)
	n := len(srv.requestLog())
	require.NotZero(t, n)

	second, err := l.Localize(context.Background(), page, srv.URL+"/lesson", dest)
	require.NoError(t, err)

	assert.Len(t, srv.requestLog(), n)
	assert.Equal(t, first, second)
	assert.Contains(t, first, `src="images/photo.png"`)
	assert.Contains(t, first, `href="documents/guide.pdf"`)
	assert.Contains(t, first, `href="notebooks/lab.ipynb"`)
}

func TestLocalizeDataImageWithoutNetwork(t *testing.T) {
	srv := newAssetServer(t, nil)
	_, dest := lessonLayout(t)
	page := `<html><body><img src="data:image/png;base64,aGVsbG8="></body></html>`

	out, err := newTestLocalizer(Config{}).Localize(context.Background(), page, srv.URL+"/", dest)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("hello"))
	name := "inline_" + hex.EncodeToString(sum[:])[:16] + ".png"
	assert.Contains(t, out, `src="images/`+name+`"`)
	assert.Equal(t, "hello", readFile(t, filepath.Join(dest.ImageDir, name)))
	assert.Empty(t, srv.requestLog())
}

func TestLocalizeProbesAssetHosts(t *testing.T) {
	const asset = "/asset-v1:Org+C1+2024+type@asset+block@diagram.png"
	lms := newAssetServer(t, map[string]resource{
		asset: {"text/html", "<html>login</html>"},
	})
	cdn := newAssetServer(t, map[string]resource{
		asset: {"image/png", "PNGDATA"},
	})
	_, dest := lessonLayout(t)
	page := `<html><body><img src="` + asset + `">` +
		`<a href="/asset-v1:Org+C1+2024+type@asset+block@missing.pdf">Missing</a></body></html>`

	l := newTestLocalizer(Config{AssetHosts: []string{cdn.URL}})
	out, err := l.Localize(context.Background(), page, lms.URL+"/courses/x/", dest)
	require.NoError(t, err)

	assert.Contains(t, out, `src="images/diagram.png"`)
	assert.Equal(t, "PNGDATA", readFile(t, filepath.Join(dest.ImageDir, "diagram.png")))
	assert.Equal(t, []string{"HEAD " + asset, "GET " + asset}, cdn.requestLog()[:2])

	// nothing served the document, so its link is left alone
	assert.Contains(t, out, `href="/asset-v1:Org+C1+2024+type@asset+block@missing.pdf"`)
	assert.NoFileExists(t, filepath.Join(dest.DocumentDir, "missing.pdf"))
}

func TestProbeReturnsErrNotFound(t *testing.T) {
	srv := newAssetServer(t, map[string]resource{"/page": {"text/html", "x"}})
	_, dest := lessonLayout(t)
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	r := &run{Localizer: newTestLocalizer(Config{}), ctx: context.Background(), base: base, dest: dest}

	_, _, err = r.probe([]Candidate{{URL: srv.URL + "/page"}, {URL: srv.URL + "/none"}}, isImage)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"HEAD /page", "HEAD /none"}, srv.requestLog())
}

func TestLocalizeScripts(t *testing.T) {
	srv := newAssetServer(t, map[string]resource{
		"/js/app.js": {"application/javascript",
			`var api = "https://lms.example.org/api/x"; var mail = "mailto:help@lms.example.org"; fetch("/login_refresh");`},
	})
	_, dest := lessonLayout(t)
	page := `<html><head><script type="text/x-mathjax-config">old</script>` +
		`<script src="https://cdn.example.net/MathJax.js?config=TeX"></script>` +
		`<script src="https://www.googletagmanager.com/gtm.js"></script>` +
		`<script src="/js/app.js"></script><script src="/js/missing.js"></script></head><body></body></html>`

	l := newTestLocalizer(Config{
		SourceDomains: []string{"lms.example.org"},
		DropScripts:   []string{"googletagmanager"},
		MathJaxURL:    "https://cdnjs.example/mathjax.js",
	})
	out, err := l.Localize(context.Background(), page, srv.URL+"/", dest)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out, "text/x-mathjax-config"))
	assert.NotContains(t, out, ">old<")
	assert.Contains(t, out, `src="https://cdnjs.example/mathjax.js"`)
	assert.NotContains(t, out, "googletagmanager")
	assert.NotContains(t, out, "missing.js")

	name := StableFilename(srv.URL+"/js/app.js", "js")
	assert.Contains(t, out, `src="../../_assets/js/`+name+`"`)
	js := readFile(t, filepath.Join(dest.JSDir, name))
	assert.NotContains(t, js, "lms.example.org")
	assert.NotContains(t, js, "login_refresh")
}

func TestLocalizeNotebooks(t *testing.T) {
	srv := newAssetServer(t, map[string]resource{
		"/files/lab.ipynb": {"application/json", `{"cells":[]}`},
		"/dl/nb":           {"application/octet-stream", `{"cells":[1]}`},
	})
	_, dest := lessonLayout(t)
	page := `<html><body><a href="/files/lab.ipynb">Lab</a>` +
		`<a href="https://colab.research.google.com/drive/abc">Open in Colab</a>` +
		`<a href="https://colab.research.google.com/github/org/repo/blob/main/lab.ipynb">Colab lab</a>` +
		`<a href="/dl/nb" download="homework.ipynb">Скачать ноутбук</a></body></html>`

	out, err := newTestLocalizer(Config{}).Localize(context.Background(), page, srv.URL+"/", dest)
	require.NoError(t, err)

	assert.Contains(t, out, `href="notebooks/lab.ipynb"`)
	assert.Contains(t, out, `href="notebooks/homework.ipynb"`)
	assert.Contains(t, out, `href="notebooks/Open in Colab_colab_info.md"`)
	assert.Equal(t, `{"cells":[1]}`, readFile(t, filepath.Join(dest.NotebookDir, "homework.ipynb")))
	assert.Contains(t, readFile(t, filepath.Join(dest.NotebookDir, "Open in Colab_colab_info.md")),
		"https://colab.research.google.com/drive/abc")
	assert.Contains(t, out, `href="notebooks/Colab lab_colab_info.md"`)
	assert.Contains(t, readFile(t, filepath.Join(dest.NotebookDir, "Colab lab_colab_info.md")),
		"https://colab.research.google.com/github/org/repo/blob/main/lab.ipynb")
	assert.NotContains(t, out, `href="https://colab.research.google.com`)
}

func TestLocalizeRejectsRelativeBase(t *testing.T) {
	_, dest := lessonLayout(t)
	_, err := newTestLocalizer(Config{}).Localize(context.Background(), "<html></html>", "/relative", dest)

	var le *LocalizationError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "page", le.Kind)
}
