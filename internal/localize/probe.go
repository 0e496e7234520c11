package localize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var assetPattern = regexp.MustCompile(`asset-v1:([^/]+)\+([^/]+)\+([^/]+)\+type@asset\+block[/@]([^/&\s?#]+)`)

// assetRef identifies a course-bound file published by the LMS.
type assetRef struct {
	Org, Course, Run string
	BlockID          string // as found in the URL, possibly escaped
}

func parseAssetRef(rawURL string) (assetRef, bool) {
	m := assetPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return assetRef{}, false
	}
	return assetRef{Org: m[1], Course: m[2], Run: m[3], BlockID: m[4]}, true
}

// Name is the decoded block id, which is the file's original name.
func (a assetRef) Name() string {
	if n, err := url.PathUnescape(a.BlockID); err == nil {
		return n
	}
	return a.BlockID
}

// Candidate is one address an asset may be served from.
type Candidate struct {
	URL string
}

// candidates lists the original URL followed by the same asset on every
// configured host, in order.
func (a assetRef) candidates(original string, hosts []string) []Candidate {
	out := []Candidate{{URL: original}}
	seen := map[string]bool{original: true}
	for _, h := range hosts {
		u := fmt.Sprintf("%s/asset-v1:%s+%s+%s+type@asset+block@%s",
			strings.TrimRight(h, "/"), a.Org, a.Course, a.Run, url.PathEscape(a.Name()))
		if !seen[u] {
			seen[u] = true
			out = append(out, Candidate{URL: u})
		}
	}
	return out
}

// probe returns the first candidate that answers a HEAD with 200 and an
// accepted Content-Type, or ErrNotFound.
func (r *run) probe(cands []Candidate, accept acceptFunc) (Candidate, string, error) {
	for _, c := range cands {
		ct, err := r.head(c.URL)
		if err != nil {
			r.logger.Trace("candidate rejected", "url", c.URL, "err", err)
			continue
		}
		if accept(ct) {
			return c, ct, nil
		}
		r.logger.Trace("candidate has wrong content type", "url", c.URL, "content_type", ct)
	}
	return Candidate{}, "", ErrNotFound
}
