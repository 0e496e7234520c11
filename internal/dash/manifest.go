package dash

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Manifest is the subset of an MPD document the downloader understands.
type Manifest struct {
	XMLName xml.Name `xml:"MPD"`
	Periods []Period `xml:"Period"`
}

// Period is one MPD period.
type Period struct {
	ID             string          `xml:"id,attr"`
	AdaptationSets []AdaptationSet `xml:"AdaptationSet"`
}

// AdaptationSet groups the representations of one track.
type AdaptationSet struct {
	MimeType        string           `xml:"mimeType,attr"`
	ContentType     string           `xml:"contentType,attr"`
	Representations []Representation `xml:"Representation"`
}

// Representation is one encoding of a track.
type Representation struct {
	ID          string      `xml:"id,attr"`
	MimeType    string      `xml:"mimeType,attr"`
	Width       int         `xml:"width,attr"`
	Height      int         `xml:"height,attr"`
	Bandwidth   int64       `xml:"bandwidth,attr"`
	BaseURL     string      `xml:"BaseURL"`
	SegmentList SegmentList `xml:"SegmentList"`
}

// SegmentList lists a representation's init range and media segments.
type SegmentList struct {
	Initialization Initialization `xml:"Initialization"`
	Segments       []SegmentURL   `xml:"SegmentURL"`
}

// Initialization locates the init segment.
type Initialization struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

// SegmentURL is one media segment. Media may be empty, in which case the
// bytes live in the representation's BaseURL.
type SegmentURL struct {
	Media      string `xml:"media,attr"`
	MediaRange string `xml:"mediaRange,attr"`
}

// ParseManifest decodes an MPD document and checks that it carries at least
// one video and one audio adaptation set.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	if len(m.Periods) == 0 {
		return nil, fmt.Errorf("%w: no Period", ErrManifest)
	}
	if len(m.adaptationSets()) == 0 {
		return nil, fmt.Errorf("%w: no AdaptationSet", ErrManifest)
	}
	if _, err := m.VideoSet(); err != nil {
		return nil, err
	}
	if _, err := m.AudioSet(); err != nil {
		return nil, err
	}
	return &m, nil
}

// adaptationSets returns the sets of the first period that has any.
func (m *Manifest) adaptationSets() []AdaptationSet {
	for _, p := range m.Periods {
		if len(p.AdaptationSets) > 0 {
			return p.AdaptationSets
		}
	}
	return nil
}

func (m *Manifest) findSet(kind string) (*AdaptationSet, bool) {
	sets := m.adaptationSets()
	for i := range sets {
		if sets[i].kind() == kind && len(sets[i].Representations) > 0 {
			return &sets[i], true
		}
	}
	return nil, false
}

// VideoSet returns the first video/* adaptation set.
func (m *Manifest) VideoSet() (*AdaptationSet, error) {
	if s, ok := m.findSet("video"); ok {
		return s, nil
	}
	return nil, ErrNoVideoTrack
}

// AudioSet returns the first audio/* adaptation set.
func (m *Manifest) AudioSet() (*AdaptationSet, error) {
	if s, ok := m.findSet("audio"); ok {
		return s, nil
	}
	return nil, ErrNoAudioTrack
}

// kind reports "video", "audio" or another major type. The set's mimeType
// wins; contentType and the first representation's mimeType are fallbacks.
func (s AdaptationSet) kind() string {
	for _, v := range []string{s.MimeType, s.ContentType} {
		if v != "" {
			return majorType(v)
		}
	}
	if len(s.Representations) > 0 {
		return majorType(s.Representations[0].MimeType)
	}
	return ""
}

func majorType(mime string) string {
	major, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mime)), "/")
	return major
}

// SelectVideo picks the representation with the greatest width; the first
// one wins a tie.
func (m *Manifest) SelectVideo() (Representation, error) {
	set, err := m.VideoSet()
	if err != nil {
		return Representation{}, err
	}
	best := set.Representations[0]
	for _, r := range set.Representations[1:] {
		if r.Width > best.Width {
			best = r
		}
	}
	return best, nil
}

// SelectAudio picks the first audio representation.
func (m *Manifest) SelectAudio() (Representation, error) {
	set, err := m.AudioSet()
	if err != nil {
		return Representation{}, err
	}
	return set.Representations[0], nil
}
