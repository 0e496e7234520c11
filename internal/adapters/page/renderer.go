package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"coursearchiver/internal/core/domain"
	"coursearchiver/internal/core/ports"
)

const unitFrameID = "unit-iframe"

// HTTPRenderer implements ports.PageRenderer for server-rendered lesson
// pages. It fetches the page through the session and replaces the unit
// iframe, when there is one, with the iframe's own body.
type HTTPRenderer struct {
	client  ports.HTTPDoer
	timeout time.Duration
	logger  hclog.Logger
}

// NewHTTPRenderer creates an HTTPRenderer. timeout bounds each request.
func NewHTTPRenderer(client ports.HTTPDoer, timeout time.Duration, logger hclog.Logger) *HTTPRenderer {
	return &HTTPRenderer{client: client, timeout: timeout, logger: logger.Named("page")}
}

// Render fetches pageURL and returns its HTML with the unit iframe inlined.
func (r *HTTPRenderer) Render(ctx context.Context, pageURL string) (*domain.RenderedPage, error) {
	body, final, err := r.fetch(ctx, pageURL, "")
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", final, err)
	}

	if frame := findByID(doc, unitFrameID); frame != nil {
		if err := r.inlineFrame(ctx, doc, frame, final); err != nil {
			r.logger.Warn("unit iframe not inlined", "url", final, "error", err)
		}
	}

	var b strings.Builder
	if err := html.Render(&b, doc); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", final, err)
	}
	return &domain.RenderedPage{HTML: b.String(), FinalURL: final.String()}, nil
}

// inlineFrame moves the frame document's stylesheets into the page head and
// its body content in place of the iframe.
func (r *HTTPRenderer) inlineFrame(ctx context.Context, doc, frame *html.Node, page *url.URL) error {
	src := attr(frame, "src")
	if src == "" {
		return fmt.Errorf("iframe has no src")
	}
	ref, err := url.Parse(src)
	if err != nil {
		return err
	}
	body, final, err := r.fetch(ctx, page.ResolveReference(ref).String(), page.String())
	if err != nil {
		return err
	}
	inner, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return err
	}

	// Relative references in the frame are relative to the frame URL,
	// which the caller does not know about.
	absolutize(inner, final)

	if head, innerHead := find(doc, atom.Head), find(inner, atom.Head); head != nil && innerHead != nil {
		for _, n := range children(innerHead) {
			if n.DataAtom == atom.Link || n.DataAtom == atom.Style {
				innerHead.RemoveChild(n)
				head.AppendChild(n)
			}
		}
	}
	innerBody := find(inner, atom.Body)
	if innerBody == nil || frame.Parent == nil {
		return fmt.Errorf("frame document has no body")
	}
	for _, n := range children(innerBody) {
		innerBody.RemoveChild(n)
		frame.Parent.InsertBefore(n, frame)
	}
	frame.Parent.RemoveChild(frame)
	r.logger.Debug("unit iframe inlined", "src", final)
	return nil
}

func (r *HTTPRenderer) fetch(ctx context.Context, rawURL, referer string) (string, *url.URL, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, rawURL)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return "", nil, fmt.Errorf("unexpected content type %q for %s", ct, rawURL)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read page: %w", err)
	}
	return string(data), resp.Request.URL, nil
}

var urlAttrs = map[atom.Atom]string{
	atom.Link:   "href",
	atom.A:      "href",
	atom.Script: "src",
	atom.Img:    "src",
	atom.Iframe: "src",
	atom.Source: "src",
	atom.Video:  "src",
}

// absolutize rewrites root-relative and document-relative references in
// doc against base. Fragments and data: or javascript: URLs stay.
func absolutize(doc *html.Node, base *url.URL) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if key, ok := urlAttrs[n.DataAtom]; ok && n.Type == html.ElementNode {
			for i, a := range n.Attr {
				if a.Namespace != "" || a.Key != key {
					continue
				}
				v := strings.TrimSpace(a.Val)
				if v == "" || strings.HasPrefix(v, "#") {
					continue
				}
				ref, err := url.Parse(v)
				if err != nil || (ref.Scheme != "" && ref.Scheme != "http" && ref.Scheme != "https") {
					continue
				}
				n.Attr[i].Val = base.ResolveReference(ref).String()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, a); f != nil {
			return f
		}
	}
	return nil
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findByID(c, id); f != nil {
			return f
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}
