package localize

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const offlineStyleID = "offline-archive-style"

const offlineStyle = `
.xblock-student_view-loading, .spinner-border { display: none !important; }
.MathJax_Preview { display: none !important; visibility: hidden !important; height: 0 !important; width: 0 !important; margin: 0 !important; padding: 0 !important; }
span[class*="MathJax_Preview"] { display: none !important; }
.MJX_Assistive_MathML { display: none !important; visibility: hidden !important; height: 0 !important; width: 0 !important; margin: 0 !important; padding: 0 !important; }
span[role="presentation"][class*="MJX"] { display: none !important; }
span.MathJax_SVG[role="presentation"] { display: none !important; }
.MathJax_SVG { display: inline-block !important; }
`

const neutralized = "javascript:void(0);"

// cleanDocument removes support widgets, counters and hidden MathJax
// helper nodes, and neutralizes attributes that point back at the source
// site.
func cleanDocument(doc *html.Node, sourceDomains []string) {
	for _, n := range collect(doc, isClutter) {
		if attached(doc, n) {
			detach(n)
		}
	}

	for _, n := range collect(doc, func(n *html.Node) bool { return true }) {
		for i, a := range n.Attr {
			isDataURL := a.Namespace == "" && a.Key == "data-url"
			isXLink := (a.Namespace == "xlink" && a.Key == "href") || a.Key == "xlink:href"
			if (isDataURL || isXLink) && mentionsAny(a.Val, sourceDomains) {
				n.Attr[i].Val = neutralized
			}
		}
	}
}

func isClutter(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Noscript:
		return true
	case atom.Iframe:
		return strings.Contains(attrOr(n, "src"), "mc.yandex.ru")
	case atom.Script:
		if attrOr(n, "id") == "hde-chat-widget" || strings.Contains(attrOr(n, "src"), "mc.yandex.ru") {
			return true
		}
		body := textContent(n)
		return strings.Contains(body, "ym(") || strings.Contains(body, "yaCounter")
	case atom.Span:
		return isMathJaxHelper(n)
	}
	return attrOr(n, "id") == "hde-container"
}

func isMathJaxHelper(n *html.Node) bool {
	switch {
	case hasClass(n, "MathJax_Preview"):
		return strings.TrimSpace(textContent(n)) == ""
	case hasClass(n, "MJX_Assistive_MathML"):
		return true
	case attrOr(n, "role") == "presentation":
		class := attrOr(n, "class")
		return strings.Contains(class, "MJX") || strings.Contains(class, "MathJax")
	}
	return false
}

func mentionsAny(s string, domains []string) bool {
	lower := strings.ToLower(s)
	for _, d := range domains {
		if d != "" && strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

// appendOfflineStyle hides loading spinners and MathJax previews. The
// style carries an id, so repeated runs add it only once.
func appendOfflineStyle(doc *html.Node) {
	head := headOf(doc)
	if head == nil {
		return
	}
	if first(head, func(n *html.Node) bool { return attrOr(n, "id") == offlineStyleID }) != nil {
		return
	}
	style := element(atom.Style, html.Attribute{Key: "id", Val: offlineStyleID})
	style.AppendChild(&html.Node{Type: html.TextNode, Data: offlineStyle})
	head.AppendChild(style)
}
