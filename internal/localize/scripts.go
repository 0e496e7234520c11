package localize

import (
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"coursearchiver/internal/util"
)

const mathJaxConfig = `
MathJax.Hub.Config({
    jax: ["input/TeX", "output/SVG"],
    extensions: ["tex2jax.js"],
    tex2jax: {
        inlineMath: [['$','$'], ['\\(','\\)']],
        displayMath: [['$$','$$'], ['\\[','\\]']],
        processEscapes: true,
        preview: "none"
    },
    SVG: { scale: 100, linebreaks: { automatic: true } },
    showProcessingMessages: false,
    messageStyle: "none"
});
MathJax.Hub.Queue(function () {
    var hidden = document.querySelectorAll('.MathJax_Preview, .MJX_Assistive_MathML, span[role="presentation"][class*="MJX"], span.MathJax_SVG[role="presentation"]');
    for (var i = 0; i < hidden.length; i++) { hidden[i].style.display = 'none'; }
});
`

// authEndpoints are first-party API paths a static copy must never call.
var authEndpoints = []*regexp.Regexp{
	regexp.MustCompile(`/login_refresh["']?`),
	regexp.MustCompile(`/csrf/api/v1/token["']?`),
	regexp.MustCompile(`/api/user/v1/[^"']*["']?`),
}

func isMathJaxConfig(n *html.Node) bool {
	if n.DataAtom != atom.Script {
		return false
	}
	t := strings.ToLower(attrOr(n, "type"))
	if strings.HasPrefix(t, "text/x-mathjax-config") {
		return true
	}
	_, hasSrc := getAttr(n, "src")
	return !hasSrc && strings.Contains(textContent(n), "window.MathJax")
}

func (r *run) localizeScripts() {
	for _, s := range collect(r.doc, isMathJaxConfig) {
		detach(s)
	}
	if head := headOf(r.doc); head != nil {
		cfg := element(atom.Script, html.Attribute{Key: "type", Val: "text/x-mathjax-config"})
		cfg.AppendChild(&html.Node{Type: html.TextNode, Data: mathJaxConfig})
		head.InsertBefore(cfg, head.FirstChild)
	}

	for _, s := range collect(r.doc, func(n *html.Node) bool {
		_, ok := getAttr(n, "src")
		return n.DataAtom == atom.Script && ok
	}) {
		src := strings.TrimSpace(attrOr(s, "src"))
		if src == "" {
			continue
		}
		if strings.Contains(src, "MathJax.js") {
			if r.cfg.MathJaxURL != "" {
				setAttr(s, "src", r.cfg.MathJaxURL)
			}
			continue
		}
		if r.dropScript(src) {
			detach(s)
			continue
		}

		u, err := r.resolve(src)
		if err != nil || !isHTTP(u) {
			continue
		}
		remote := u.String()
		local := filepath.Join(r.dest.JSDir, StableFilename(remote, "js"))

		p, ok := r.cached("js", remote, local)
		if !ok {
			data, err := r.get("js", remote, notMarkup)
			if err == nil {
				err = util.WriteFileAtomic(local, []byte(r.scrubScript(string(data))))
			}
			if err != nil {
				r.fail("js", remote, err)
				detach(s)
				continue
			}
			r.local[remote] = local
			r.metrics.Asset("js", "downloaded")
			p = local
		}
		setAttr(s, "src", r.relFromDocument(p))
	}
}

func (r *run) dropScript(src string) bool {
	lower := strings.ToLower(src)
	for _, p := range r.cfg.DropScripts {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// scrubScript replaces absolute source-site URLs, support e-mail links and
// auth endpoints inside a script body with inert values.
func (r *run) scrubScript(js string) string {
	for _, d := range r.cfg.SourceDomains {
		q := regexp.QuoteMeta(d)
		mail := regexp.MustCompile(`(?i)mailto:[a-zA-Z0-9._\-]+@` + q)
		js = mail.ReplaceAllString(js, "javascript:void(0);")
		site := regexp.MustCompile(`(?i)https?://([a-zA-Z0-9\-]+\.)*` + q)
		js = site.ReplaceAllString(js, "javascript:void(0); // removed")
	}
	for _, re := range authEndpoints {
		js = re.ReplaceAllString(js, `/dev/null" // removed`)
	}
	return js
}
