package localize

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
	"unicode"

	"coursearchiver/internal/util"
)

// StableFilename derives a short, collision-resistant local name for a
// remote URL: <prefix>_<md5(url)[:8]>.<ext>. The prefix comes from the URL
// basename when that looks like a word, otherwise from the domain.
func StableFilename(rawURL, ext string) string {
	sum := md5.Sum([]byte(rawURL))
	hash := hex.EncodeToString(sum[:])[:8]

	var host, base string
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
		base = path.Base(u.Path)
		if base == "/" || base == "." {
			base = ""
		}
	}
	if base != "" && strings.Contains(base, ".") {
		base = truncateRunes(strings.TrimSuffix(base, path.Ext(base)), 15)
	}
	if base != "" {
		base = util.SanitizeFilename(base)
	}

	n := len([]rune(base))
	if base == "" || n > 30 || n < 3 || !hasLetter(base) {
		base = domainStem(host)
	}
	base = truncateRunes(base, 20)

	return base + "_" + hash + "." + strings.TrimPrefix(ext, ".")
}

// domainStem picks the registrable label of host: "googleusercontent" from
// lh3.googleusercontent.com, "cdn" from cdn.example.ru.
func domainStem(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return "asset"
	}
	stem := parts[len(parts)-2]
	switch stem {
	case "com", "org", "net", "ru":
		stem = parts[0]
	}
	stem = truncateRunes(stem, 8)
	if stem == "" {
		return "asset"
	}
	return stem
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// hashedNameHosts serve images under opaque content-hash names.
var hashedNameHosts = []string{
	"googleusercontent.com", "googleapis.com", "gstatic.com",
	"amazonaws.com", "cloudfront.net", "imgur.com",
}

func isHashedNameHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range hashedNameHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// looksOpaque reports names that carry no readable information.
func looksOpaque(name string) bool {
	n := len([]rune(name))
	if n > 50 {
		return true
	}
	return n > 30 && !strings.ContainsAny(name, "_- .")
}

// naturalName is the decoded, sanitized basename of a URL path.
func naturalName(u *url.URL) string {
	p, err := url.PathUnescape(u.EscapedPath())
	if err != nil {
		p = u.Path
	}
	base := path.Base(p)
	if base == "/" || base == "." {
		return ""
	}
	return util.SanitizeFilename(base)
}

// extOf returns the lower-case extension of a URL path without the dot.
func extOf(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
}
