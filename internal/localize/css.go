package localize

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"coursearchiver/internal/util"
)

var (
	importRule   = regexp.MustCompile(`(?i)@import[^;]+;`)
	importTarget = regexp.MustCompile(`url\(\s*["']?([^"')]+)["']?\s*\)|["']([^"']+)["']`)
	cssURLRef    = regexp.MustCompile(`url\(([^)]+)\)`)
)

var fontExts = map[string]bool{"woff": true, "woff2": true, "ttf": true, "eot": true, "otf": true}

type sheetBody struct {
	text string
	err  error
}

// cssItem is a worklist entry: either literal CSS text belonging to sheet,
// or an @import of sheet still to be expanded.
type cssItem struct {
	sheet    string
	text     string
	isImport bool
}

func isStylesheetLink(n *html.Node) bool {
	if n.DataAtom != atom.Link {
		return false
	}
	for _, rel := range strings.Fields(strings.ToLower(attrOr(n, "rel"))) {
		if rel == "stylesheet" {
			return true
		}
	}
	return false
}

func (r *run) localizeStylesheets() {
	for _, link := range collect(r.doc, isStylesheetLink) {
		href := strings.TrimSpace(attrOr(link, "href"))
		if href == "" || hasPrefixFold(href, "data:") {
			continue
		}
		u, err := r.resolve(href)
		if err != nil || !isHTTP(u) {
			continue
		}
		remote := u.String()
		local := filepath.Join(r.dest.CSSDir, StableFilename(remote, "css"))

		if p, ok := r.cached("css", remote, local); ok {
			setAttr(link, "href", r.relFromDocument(p))
			continue
		}
		body, err := r.flattenStylesheet(remote, local)
		if err != nil {
			r.fail("css", remote, err)
			continue
		}
		if err := util.WriteFileAtomic(local, []byte(body)); err != nil {
			r.fail("css", remote, err)
			continue
		}
		r.local[remote] = local
		r.metrics.Asset("css", "downloaded")
		setAttr(link, "href", r.relFromDocument(local))
	}

	for _, style := range collect(r.doc, isTag(atom.Style)) {
		css := textContent(style)
		if strings.TrimSpace(css) == "" {
			continue
		}
		if out := r.localizeFonts(css, r.base.String(), r.dest.DocumentPath); out != css {
			setText(style, out)
		}
	}
}

// flattenStylesheet returns entry with every @import replaced, in place, by
// the imported sheet's own flattened text. Each sheet contributes its text
// at most once, so import cycles terminate. Fonts are localized relative to
// cssPath as each piece is emitted, resolving against the URL of the sheet
// the piece came from. Only a failure to fetch entry itself is returned;
// unreachable imports contribute nothing.
func (r *run) flattenStylesheet(entry, cssPath string) (string, error) {
	if _, err := r.sheet(entry); err != nil {
		return "", err
	}

	var out strings.Builder
	visited := map[string]bool{}
	stack := []cssItem{{sheet: entry, isImport: true}}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !it.isImport {
			out.WriteString(r.localizeFonts(it.text, it.sheet, cssPath))
			continue
		}
		if visited[it.sheet] {
			continue
		}
		visited[it.sheet] = true

		body, err := r.sheet(it.sheet)
		if err != nil {
			r.fail("css", it.sheet, err)
			continue
		}
		pieces := splitImports(body, it.sheet)
		for i := len(pieces) - 1; i >= 0; i-- {
			stack = append(stack, pieces[i])
		}
	}
	return out.String(), nil
}

// sheet fetches a stylesheet once per call.
func (r *run) sheet(remote string) (string, error) {
	if s, ok := r.sheets[remote]; ok {
		return s.text, s.err
	}
	data, err := r.get("css", remote, notHTML)
	r.sheets[remote] = sheetBody{text: string(data), err: err}
	return string(data), err
}

func splitImports(body, sheet string) []cssItem {
	base, err := url.Parse(sheet)
	if err != nil {
		return []cssItem{{sheet: sheet, text: body}}
	}

	var items []cssItem
	prev := 0
	for _, loc := range importRule.FindAllStringIndex(body, -1) {
		if loc[0] > prev {
			items = append(items, cssItem{sheet: sheet, text: body[prev:loc[0]]})
		}
		prev = loc[1]

		m := importTarget.FindStringSubmatch(body[loc[0]:loc[1]])
		if m == nil {
			continue
		}
		ref := m[1]
		if ref == "" {
			ref = m[2]
		}
		target, err := resolveAgainst(base, ref)
		if err != nil || !isHTTP(target) {
			continue
		}
		items = append(items, cssItem{sheet: target.String(), isImport: true})
	}
	if prev < len(body) {
		items = append(items, cssItem{sheet: sheet, text: body[prev:]})
	}
	return items
}

// localizeFonts downloads every font referenced by url(...) in css into the
// font directory and rewrites the reference relative to cssPath. Non-font
// and data: URLs are left alone; a font that cannot be fetched becomes
// url('').
func (r *run) localizeFonts(css, sheetURL, cssPath string) string {
	base, err := url.Parse(sheetURL)
	if err != nil {
		return css
	}
	dir := filepath.Dir(cssPath)

	return cssURLRef.ReplaceAllStringFunc(css, func(match string) string {
		ref := trimRef(match[len("url(") : len(match)-1])
		if ref == "" || hasPrefixFold(ref, "data:") {
			return match
		}
		u, err := resolveAgainst(base, ref)
		if err != nil || !isHTTP(u) || !fontExts[extOf(u)] {
			return match
		}
		name := naturalName(u)
		if name == "" {
			return match
		}

		remote := u.String()
		local := filepath.Join(r.dest.FontDir, name)
		p, ok := r.cached("font", remote, local)
		if !ok {
			if err := r.download("font", remote, local, notMarkup); err != nil {
				r.fail("font", remote, err)
				return "url('')"
			}
			p = local
		}
		return "url('" + relPath(dir, p) + "')"
	})
}

func trimRef(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func isHTTP(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}
