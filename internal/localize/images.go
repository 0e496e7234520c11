package localize

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/net/html/atom"

	"coursearchiver/internal/util"
)

var imageExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "svg": true,
	"webp": true, "bmp": true, "ico": true, "avif": true,
}

var mimeImageExt = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/gif":     "gif",
	"image/svg+xml": "svg",
	"image/webp":    "webp",
	"image/bmp":     "bmp",
	"image/x-icon":  "ico",
	"image/avif":    "avif",
}

func imageExtFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	if ext, ok := mimeImageExt[mt]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "png"
}

func (r *run) localizeImages() {
	for _, img := range collect(r.doc, isTag(atom.Img)) {
		src := strings.TrimSpace(attrOr(img, "src"))
		if src == "" {
			continue
		}
		var (
			p   string
			err error
		)
		if hasPrefixFold(src, "data:") {
			p, err = r.localizeDataImage(src)
		} else {
			p, err = r.localizeRemoteImage(src)
		}
		if err != nil {
			r.fail("image", truncateRunes(src, 120), err)
			continue
		}
		if p != "" {
			setAttr(img, "src", r.relFromDocument(p))
			r.done[img] = true
		}
	}
}

// localizeDataImage decodes an inline data: URI into the image directory.
// No network access is involved.
func (r *run) localizeDataImage(src string) (string, error) {
	mediaType, data, err := decodeDataURI(src)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	name := "inline_" + hex.EncodeToString(sum[:])[:16] + "." + imageExtFor(mediaType)
	local := filepath.Join(r.dest.ImageDir, name)
	if fileExists(local) {
		r.metrics.Asset("image", "cached")
		return local, nil
	}
	if err := util.WriteFileAtomic(local, data); err != nil {
		return "", err
	}
	r.metrics.Asset("image", "decoded")
	return local, nil
}

func decodeDataURI(src string) (string, []byte, error) {
	meta, payload, ok := strings.Cut(src[len("data:"):], ",")
	if !ok {
		return "", nil, errors.New("malformed data URI")
	}
	mediaType := meta
	isBase64 := false
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		isBase64 = true
		mediaType = meta[:len(meta)-len(";base64")]
	}
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if isBase64 {
		clean := strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, payload)
		data, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
		}
		if err != nil {
			return "", nil, fmt.Errorf("bad base64 payload: %w", err)
		}
		return mediaType, data, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("bad data URI payload: %w", err)
	}
	return mediaType, []byte(text), nil
}

func (r *run) localizeRemoteImage(src string) (string, error) {
	u, err := r.resolve(src)
	if err != nil {
		return "", err
	}
	if !isHTTP(u) {
		return "", nil
	}
	remote := u.String()

	if ref, ok := parseAssetRef(remote); ok {
		return r.localizeAssetImage(ref, remote)
	}

	name := naturalName(u)
	if name == "" || looksOpaque(name) || isHashedNameHost(u.Hostname()) {
		return r.localizeHashedImage(u)
	}
	if !imageExts[extOf(u)] {
		name += ".png"
	}
	local := filepath.Join(r.dest.ImageDir, name)
	if p, ok := r.cached("image", remote, local); ok {
		return p, nil
	}
	if err := r.download("image", remote, local, notMarkup); err != nil {
		return "", err
	}
	return local, nil
}

// localizeAssetImage names the file after the block id and locates a host
// that really serves it as an image.
func (r *run) localizeAssetImage(ref assetRef, remote string) (string, error) {
	name := assetFileName(ref.Name())
	if !imageExts[strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")] {
		name += ".png"
	}
	local := filepath.Join(r.dest.ImageDir, name)
	if p, ok := r.cached("image", remote, local); ok {
		return p, nil
	}

	source := remote
	if c, _, err := r.probe(ref.candidates(remote, r.cfg.AssetHosts), isImage); err == nil {
		source = c.URL
	} else {
		r.logger.Debug("no candidate host confirmed the image, trying the original", "url", remote)
	}
	if err := r.download("image", source, local, notMarkup); err != nil {
		return "", err
	}
	r.local[remote] = local
	return local, nil
}

// localizeHashedImage stores images whose own name is useless under a
// stable name. The extension comes from the URL, an earlier download or a
// HEAD request, in that order.
func (r *run) localizeHashedImage(u *url.URL) (string, error) {
	remote := u.String()
	if p, ok := r.local[remote]; ok {
		return p, nil
	}

	ext := extOf(u)
	if !imageExts[ext] {
		stem := strings.TrimSuffix(StableFilename(remote, "x"), ".x")
		if matches, _ := filepath.Glob(filepath.Join(r.dest.ImageDir, globEscape(stem)+".*")); len(matches) > 0 {
			r.local[remote] = matches[0]
			r.metrics.Asset("image", "cached")
			return matches[0], nil
		}
		ext = "png"
		if ct, err := r.head(remote); err == nil && isImage(ct) {
			ext = imageExtFor(ct)
		}
	}

	local := filepath.Join(r.dest.ImageDir, StableFilename(remote, ext))
	if p, ok := r.cached("image", remote, local); ok {
		return p, nil
	}
	if err := r.download("image", remote, local, notMarkup); err != nil {
		return "", err
	}
	return local, nil
}

// assetFileName turns a block id like "intro+diagram@2x.png" into a safe
// file name.
func assetFileName(blockID string) string {
	name := strings.NewReplacer("+", "_", "@", "_").Replace(blockID)
	name = util.SanitizeFilename(name)
	if name == "" {
		return "asset"
	}
	return name
}

func globEscape(s string) string {
	return strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`).Replace(s)
}
