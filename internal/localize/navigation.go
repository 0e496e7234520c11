package localize

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"coursearchiver/internal/util"
)

// Sibling is one child of the lesson's parent block.
type Sibling struct {
	Name     string
	Vertical bool
}

// Siblings places a lesson among its parent's children.
type Siblings struct {
	Items []Sibling
	Index int
}

func (s Siblings) file(i int) string {
	return util.PageFileName(s.Items[i].Name)
}

// nearest returns the closest lesson page before (step -1) or after (step 1)
// the current one, or -1 when there is none.
func (s Siblings) nearest(step int) int {
	for i := s.Index + step; i >= 0 && i < len(s.Items); i += step {
		if s.Items[i].Vertical {
			return i
		}
	}
	return -1
}

// RewireNavigation turns the previous/next buttons and the lesson tab strip
// into plain links to the nearest sibling lesson files. Siblings that are
// not lesson pages are stepped over, and a button left with no target is
// removed. Documents without these controls are
// returned unchanged in meaning.
func RewireNavigation(doc string, s Siblings) (string, error) {
	root, err := parseHTML(doc)
	if err != nil {
		return "", err
	}
	if s.Index < 0 || s.Index >= len(s.Items) {
		return renderHTML(root)
	}

	if bar := first(root, classed("sf-sequence-tab-view__nav-buttons")); bar != nil {
		buttons := collect(bar, func(n *html.Node) bool {
			return n.DataAtom == atom.Button || n.DataAtom == atom.A
		})
		if len(buttons) > 0 {
			prev, next := buttons[0], buttons[len(buttons)-1]
			if prev == next {
				// a lone control is treated as "next"
				prev = nil
			}
			if prev != nil {
				linkOrRemove(prev, s, s.nearest(-1))
			}
			linkOrRemove(next, s, s.nearest(1))
		}
	}

	if tabs := first(root, classed("sequence-tab-view-navigation__tabs-container")); tabs != nil {
		for c := tabs.FirstChild; c != nil; {
			nx := c.NextSibling
			tabs.RemoveChild(c)
			c = nx
		}
		for i, it := range s.Items {
			if !it.Vertical {
				continue
			}
			class := "sf-unit-tab sequence-tab-view-navigation__tab"
			if i == s.Index {
				class += " sf-unit-tab--current"
			}
			tab := element(atom.Div, html.Attribute{Key: "class", Val: class})
			a := element(atom.A,
				html.Attribute{Key: "href", Val: s.file(i)},
				html.Attribute{Key: "title", Val: it.Name},
			)
			a.AppendChild(tab)
			tabs.AppendChild(a)
		}
	}

	return renderHTML(root)
}

func classed(class string) func(*html.Node) bool {
	return func(n *html.Node) bool { return hasClass(n, class) }
}

func linkOrRemove(n *html.Node, s Siblings, target int) {
	if target < 0 || target >= len(s.Items) {
		detach(n)
		return
	}
	n.DataAtom = atom.A
	n.Data = "a"
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		switch a.Key {
		case "disabled", "type", "onclick", "href":
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = append(kept, html.Attribute{Key: "href", Val: s.file(target)})
}
