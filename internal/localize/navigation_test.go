package localize

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const navPage = `<html><body>` +
	`<div class="sf-sequence-tab-view__nav-buttons"><button disabled type="button">Prev</button><button type="button">Next</button></div>` +
	`<div class="sequence-tab-view-navigation__tabs-container"><button>1</button><button>2</button></div>` +
	`</body></html>`

var navSiblings = []Sibling{
	{Name: "Intro", Vertical: true},
	{Name: "Quiz: part 1", Vertical: true},
	{Name: "Extra", Vertical: false},
}

func TestRewireNavigationMiddle(t *testing.T) {
	out, err := RewireNavigation(navPage, Siblings{Items: navSiblings, Index: 1})
	require.NoError(t, err)

	assert.Contains(t, out, `<a href="Intro.html">Prev</a>`)
	assert.NotContains(t, out, "Next")
	assert.NotContains(t, out, "Extra.html")
	assert.NotContains(t, out, "<button")
	assert.Contains(t, out, `<a href="Intro.html" title="Intro"><div class="sf-unit-tab sequence-tab-view-navigation__tab"></div></a>`)
	assert.Contains(t, out, `<a href="Quiz part 1.html" title="Quiz: part 1"><div class="sf-unit-tab sequence-tab-view-navigation__tab sf-unit-tab--current"></div></a>`)
}

func TestRewireNavigationStepsOverNonLessons(t *testing.T) {
	items := []Sibling{
		{Name: "Intro", Vertical: true},
		{Name: "Reading", Vertical: false},
		{Name: "Survey", Vertical: false},
		{Name: "Lab", Vertical: true},
	}

	out, err := RewireNavigation(navPage, Siblings{Items: items, Index: 0})
	require.NoError(t, err)
	assert.Contains(t, out, `<a href="Lab.html">Next</a>`)
	assert.NotContains(t, out, "Prev")

	out, err = RewireNavigation(navPage, Siblings{Items: items, Index: 3})
	require.NoError(t, err)
	assert.Contains(t, out, `<a href="Intro.html">Prev</a>`)
	assert.NotContains(t, out, "Next")
	assert.NotContains(t, out, "Reading.html")
	assert.NotContains(t, out, "Survey.html")
}

func TestRewireNavigationEdges(t *testing.T) {
	out, err := RewireNavigation(navPage, Siblings{Items: navSiblings, Index: 0})
	require.NoError(t, err)
	assert.NotContains(t, out, "Prev")
	assert.Contains(t, out, `<a href="Quiz part 1.html">Next</a>`)

	out, err = RewireNavigation(navPage, Siblings{Items: navSiblings, Index: 2})
	require.NoError(t, err)
	assert.Contains(t, out, `<a href="Quiz part 1.html">Prev</a>`)
	assert.NotContains(t, out, "Next")
}

func TestRewireNavigationWithoutControls(t *testing.T) {
	out, err := RewireNavigation(`<html><body><p>plain</p></body></html>`, Siblings{Items: navSiblings, Index: 1})
	require.NoError(t, err)
	assert.Contains(t, out, "<p>plain</p>")
}

type patternMatcher struct{ re *regexp.Regexp }

func (m patternMatcher) VideoID(src string) (string, bool) {
	if s := m.re.FindStringSubmatch(src); s != nil {
		return s[1], true
	}
	return "", false
}

var testPlayer = patternMatcher{regexp.MustCompile(`player\.example/(?:embed/)?([a-zA-Z0-9]+)`)}

func TestPlayerSourcesAndEmbedVideos(t *testing.T) {
	page := `<html><body><iframe src="https://player.example/embed/abc123"></iframe>` +
		`<iframe src="https://player.example/embed/abc123"></iframe>` +
		`<iframe src="https://player.example/def456"></iframe>` +
		`<iframe src="https://other.example/x"></iframe></body></html>`

	srcs, err := PlayerSources(page, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://player.example/embed/abc123", "https://player.example/def456"}, srcs)

	out, err := EmbedVideos(page, testPlayer, map[string]string{"abc123": "Lesson.mp4"})
	require.NoError(t, err)
	assert.Contains(t, out, `<video controls="" width="100%" preload="metadata" src="Lesson.mp4"></video>`)
	assert.NotContains(t, out, "embed/abc123")
	assert.Contains(t, out, "player.example/def456")
	assert.Contains(t, out, "other.example/x")
}
