// Package localize rewrites a lesson page so that it only references files
// inside the archive: stylesheets (with @import graphs flattened and fonts
// pulled in), scripts, images, attached documents and notebooks.
package localize

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/net/html"

	"coursearchiver/internal/core/domain"
	"coursearchiver/internal/core/ports"
	"coursearchiver/internal/metrics"
)

// ErrNotFound is returned when no candidate URL of an asset resolved.
var ErrNotFound = errors.New("no candidate URL resolved")

// LocalizationError describes one resource that could not be localized.
type LocalizationError struct {
	Kind string // css, js, font, image, document, notebook, page
	URL  string
	Err  error
}

func (e *LocalizationError) Error() string {
	return fmt.Sprintf("localize %s %s: %v", e.Kind, e.URL, e.Err)
}

func (e *LocalizationError) Unwrap() error { return e.Err }

// Config holds localizer settings.
type Config struct {
	// AssetHosts are tried, in order, after the original URL when a course
	// asset (asset-v1:...) has to be located.
	AssetHosts []string
	// SourceDomains are scrubbed from scripts and attributes.
	SourceDomains []string
	// DropScripts are substrings of script src values to remove.
	DropScripts []string
	MathJaxURL  string
	Timeout     time.Duration
}

// Localizer implements ports.DocumentLocalizer.
type Localizer struct {
	client  ports.HTTPDoer
	cfg     Config
	logger  hclog.Logger
	metrics *metrics.Metrics
}

// New creates a Localizer that downloads assets through client.
func New(client ports.HTTPDoer, cfg Config, logger hclog.Logger, m *metrics.Metrics) *Localizer {
	return &Localizer{client: client, cfg: cfg, logger: logger.Named("localize"), metrics: m}
}

// run is the state of one Localize call. The processed-URL maps live here
// and are never shared between documents.
type run struct {
	*Localizer
	ctx  context.Context
	base *url.URL
	dest domain.AssetLayout
	doc  *html.Node

	// remote URL -> local path already produced during this call
	local map[string]string
	// stylesheet bodies (or fetch errors) seen during this call
	sheets map[string]sheetBody
	// nodes already rewritten by an earlier pass
	done map[*html.Node]bool

	fetches int
}

// Localize rewrites doc, whose address is baseURL, downloading every
// referenced resource into dest. Resource failures are logged and degrade
// the page; only an unparsable document or base URL is an error.
func (l *Localizer) Localize(ctx context.Context, doc, baseURL string, dest domain.AssetLayout) (string, error) {
	base, err := url.Parse(baseURL)
	if err == nil && !base.IsAbs() {
		err = errors.New("base URL must be absolute")
	}
	if err != nil {
		return "", &LocalizationError{Kind: "page", URL: baseURL, Err: err}
	}
	root, err := parseHTML(doc)
	if err != nil {
		return "", &LocalizationError{Kind: "page", URL: baseURL, Err: err}
	}

	r := &run{
		Localizer: l,
		ctx:       ctx,
		base:      base,
		dest:      dest,
		doc:       root,
		local:     map[string]string{},
		sheets:    map[string]sheetBody{},
		done:      map[*html.Node]bool{},
	}

	cleanDocument(root, l.cfg.SourceDomains)
	r.localizeStylesheets()
	r.localizeScripts()
	r.localizeImages()
	r.localizeDocuments()
	r.localizeNotebooks()
	appendOfflineStyle(root)

	if err := ctx.Err(); err != nil {
		return "", err
	}

	out, err := renderHTML(root)
	if err != nil {
		return "", &LocalizationError{Kind: "page", URL: baseURL, Err: err}
	}
	l.logger.Debug("page localized", "url", baseURL, "fetches", r.fetches)
	return out, nil
}

// resolve turns a reference found in the page into an absolute URL.
func (r *run) resolve(ref string) (*url.URL, error) {
	return resolveAgainst(r.base, ref)
}

// resolveAgainst also covers protocol-relative references, which inherit
// the scheme of base.
func resolveAgainst(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(trimRef(ref))
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(u), nil
}

// relFromDocument returns target relative to the document's directory,
// with forward slashes.
func (r *run) relFromDocument(target string) string {
	return relPath(filepath.Dir(r.dest.DocumentPath), target)
}

func relPath(fromDir, target string) string {
	rel, err := filepath.Rel(fromDir, target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	return filepath.ToSlash(rel)
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// cached returns the local path of u if it was already produced in this
// call or is already on disk at path. The second result is false when the
// caller has to download.
func (r *run) cached(kind, remote, path string) (string, bool) {
	if p, ok := r.local[remote]; ok {
		return p, true
	}
	if fileExists(path) {
		r.local[remote] = path
		r.metrics.Asset(kind, "cached")
		return path, true
	}
	return "", false
}

func (r *run) fail(kind, remote string, err error) {
	r.metrics.Asset(kind, "failed")
	r.logger.Warn("resource not localized", "error", &LocalizationError{Kind: kind, URL: remote, Err: err})
}
