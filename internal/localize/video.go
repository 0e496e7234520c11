package localize

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"coursearchiver/internal/core/ports"
)

// PlayerSources lists, in document order and without repeats, the src of
// every iframe that embeds a player recognized by m.
func PlayerSources(doc string, m ports.PlayerMatcher) ([]string, error) {
	root, err := parseHTML(doc)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]bool{}
	for _, f := range collect(root, isTag(atom.Iframe)) {
		src := attrOr(f, "src")
		if _, ok := m.VideoID(src); ok && !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out, nil
}

// EmbedVideos replaces every player iframe whose video id has an entry in
// files with a <video> element playing that file. Paths in files are used
// verbatim as src values.
func EmbedVideos(doc string, m ports.PlayerMatcher, files map[string]string) (string, error) {
	root, err := parseHTML(doc)
	if err != nil {
		return "", err
	}
	for _, f := range collect(root, isTag(atom.Iframe)) {
		id, ok := m.VideoID(attrOr(f, "src"))
		if !ok {
			continue
		}
		file, ok := files[id]
		if !ok || f.Parent == nil {
			continue
		}
		video := element(atom.Video,
			html.Attribute{Key: "controls"},
			html.Attribute{Key: "width", Val: "100%"},
			html.Attribute{Key: "preload", Val: "metadata"},
			html.Attribute{Key: "src", Val: file},
		)
		f.Parent.InsertBefore(video, f)
		detach(f)
	}
	return renderHTML(root)
}
