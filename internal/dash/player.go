package dash

import (
	"regexp"
)

// PlayerMatcher extracts video ids from embedded player URLs of one host,
// e.g. https://kinescope.io/embed/abc123 or https://kinescope.io/abc123.
type PlayerMatcher struct {
	host    string
	pattern *regexp.Regexp
}

// NewPlayerMatcher recognizes embed URLs served from host.
func NewPlayerMatcher(host string) *PlayerMatcher {
	return &PlayerMatcher{
		host:    host,
		pattern: regexp.MustCompile(regexp.QuoteMeta(host) + `/(?:embed/)?([a-zA-Z0-9]+)`),
	}
}

// VideoID returns the id embedded in src.
func (p *PlayerMatcher) VideoID(src string) (string, bool) {
	m := p.pattern.FindStringSubmatch(src)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractVideoID is VideoID for the default player host.
func ExtractVideoID(src string) (string, bool) {
	return defaultPlayer.VideoID(src)
}

var defaultPlayer = NewPlayerMatcher("kinescope.io")
