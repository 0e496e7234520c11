package localize

import (
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"coursearchiver/internal/util"
)

var documentExts = []string{".pdf", ".zip", ".rar", ".docx", ".xlsx", ".pptx"}

var documentTypes = map[string]string{
	"application/pdf": ".pdf",
	"application/zip": ".zip",
	"application/x-rar-compressed":                                              ".rar",
	"application/vnd.rar":                                                       ".rar",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
}

const colabHost = "colab.research.google.com"

func isLink(n *html.Node) bool {
	_, ok := getAttr(n, "href")
	return n.DataAtom == atom.A && ok
}

// refPath is the lower-cased path part of an href, without query or
// fragment, for extension checks.
func refPath(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	return strings.ToLower(href)
}

func documentExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range documentExts {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

func (r *run) localizeDocuments() {
	for _, a := range collect(r.doc, isLink) {
		if r.done[a] {
			continue
		}
		href := strings.TrimSpace(attrOr(a, "href"))
		if documentExt(refPath(href)) == "" {
			continue
		}
		u, err := r.resolve(href)
		if err != nil || !isHTTP(u) {
			continue
		}
		p, err := r.localizeDocument(u)
		if err != nil {
			r.fail("document", u.String(), err)
			continue
		}
		setAttr(a, "href", r.relFromDocument(p))
		r.done[a] = true
	}
}

func (r *run) localizeDocument(u *url.URL) (string, error) {
	remote := u.String()
	ref, isAsset := parseAssetRef(remote)

	var name string
	if isAsset {
		name = assetFileName(ref.Name())
	} else {
		name = naturalName(u)
		if name == "" || looksOpaque(name) {
			name = StableFilename(remote, strings.TrimPrefix(documentExt(u.Path), "."))
		}
	}

	local := filepath.Join(r.dest.DocumentDir, name)
	if p, ok := r.cached("document", remote, local); ok {
		return p, nil
	}

	source := remote
	if isAsset {
		c, ct, err := r.probe(ref.candidates(remote, r.cfg.AssetHosts), notHTML)
		if err != nil {
			return "", err
		}
		source = c.URL
		if documentExt(name) == "" {
			name += documentExtFor(ct)
			local = filepath.Join(r.dest.DocumentDir, name)
			if p, ok := r.cached("document", remote, local); ok {
				return p, nil
			}
		}
	}

	if err := r.download("document", source, local, notMarkup); err != nil {
		return "", err
	}
	r.local[remote] = local
	return local, nil
}

func documentExtFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".pdf"
	}
	if ext, ok := documentTypes[mt]; ok {
		return ext
	}
	return ".pdf"
}

func (r *run) localizeNotebooks() {
	for _, a := range collect(r.doc, isLink) {
		if r.done[a] {
			continue
		}
		href := strings.TrimSpace(attrOr(a, "href"))
		if href == "" {
			continue
		}

		// Colab links often end in .ipynb themselves; they are never fetched.
		switch {
		case strings.Contains(strings.ToLower(href), colabHost):
			r.writeColabNote(a, href)
		case strings.HasSuffix(refPath(href), ".ipynb"):
			r.localizeNotebookLink(a, href, "")
		case isNotebookButton(a):
			name := attrOr(a, "download")
			if !strings.HasSuffix(strings.ToLower(name), ".ipynb") {
				text := strings.TrimSpace(textContent(a))
				if text == "" {
					text = "notebook"
				}
				name = text + ".ipynb"
			}
			r.localizeNotebookLink(a, href, util.SanitizeFilename(name))
		}
	}
}

func isNotebookButton(a *html.Node) bool {
	dl, ok := getAttr(a, "download")
	if !ok || dl == "" {
		return false
	}
	text := strings.ToLower(textContent(a))
	return strings.HasSuffix(strings.ToLower(dl), ".ipynb") ||
		strings.Contains(text, "notebook") ||
		strings.Contains(text, "ноутбук")
}

// localizeNotebookLink downloads a notebook. name may be empty, in which
// case it is derived from the URL.
func (r *run) localizeNotebookLink(a *html.Node, href, name string) {
	u, err := r.resolve(href)
	if err != nil || !isHTTP(u) {
		return
	}
	remote := u.String()
	ref, isAsset := parseAssetRef(remote)

	if name == "" {
		if isAsset {
			name = assetFileName(ref.Name())
		} else {
			name = naturalName(u)
		}
		if name == "" {
			name = StableFilename(remote, "ipynb")
		}
		if !strings.HasSuffix(strings.ToLower(name), ".ipynb") {
			name += ".ipynb"
		}
	}

	local := filepath.Join(r.dest.NotebookDir, name)
	p, ok := r.cached("notebook", remote, local)
	if !ok {
		source := remote
		if isAsset {
			c, _, err := r.probe(ref.candidates(remote, r.cfg.AssetHosts), isNotebook)
			if err != nil {
				r.fail("notebook", remote, err)
				return
			}
			source = c.URL
		}
		if err := r.download("notebook", source, local, notHTML); err != nil {
			r.fail("notebook", remote, err)
			return
		}
		r.local[remote] = local
		p = local
	}

	setAttr(a, "href", r.relFromDocument(p))
	setAttr(a, "download", filepath.Base(p))
	setAttr(a, "title", "Jupyter Notebook: "+filepath.Base(p))
	r.done[a] = true
}

const colabNote = `# Google Colab notebook

This lesson links to a notebook hosted on Google Colab:

%s

## Opening it

1. Open the link above in a browser.
2. Sign in with a Google account.
3. Keep a copy in your own Drive (File -> Save a copy in Drive).

Colab needs a network connection. For offline use, download the notebook
from Colab (File -> Download -> Download .ipynb) and keep it next to this
file.
`

// writeColabNote replaces a Colab link with a local instructions file.
func (r *run) writeColabNote(a *html.Node, href string) {
	text := strings.TrimSpace(textContent(a))
	if text == "" {
		text = "google_colab_notebook"
	}
	name := util.SanitizeFilename(text + "_colab_info.md")
	local := filepath.Join(r.dest.NotebookDir, name)

	if !fileExists(local) {
		if err := util.WriteFileAtomic(local, []byte(fmt.Sprintf(colabNote, href))); err != nil {
			r.fail("notebook", href, err)
			return
		}
		r.metrics.Asset("notebook", "colab")
	}
	setAttr(a, "href", r.relFromDocument(local))
	setAttr(a, "title", "Google Colab notebook (see "+name+" for instructions)")
	r.done[a] = true
}
