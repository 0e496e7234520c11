package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFilenameBytes = 255

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename turns a display name into a name that is valid on
// Windows, macOS and Linux. Invalid characters are dropped, surrounding
// blanks and trailing dots are trimmed, reserved device names get a "_"
// after the stem and the result is cut to 255 bytes on a rune boundary.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == utf8.RuneError:
			continue
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(`\/:*?"<>|`, r):
			continue
		}
		b.WriteRune(r)
	}

	out := strings.TrimSpace(b.String())
	out = strings.TrimRight(out, ". ")

	stem := out
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	if reservedNames[strings.ToUpper(stem)] {
		out = stem + "_" + out[len(stem):]
	}

	return truncateBytes(out, maxFilenameBytes)
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return strings.TrimRight(s[:cut], ". ")
}

// PageFileName is the file name a lesson page is saved under, derived from
// its display name. Navigation links between lessons rely on it.
func PageFileName(displayName string) string {
	name := SanitizeFilename(displayName)
	if name == "" {
		name = "untitled"
	}
	return truncateBytes(name, maxFilenameBytes-len(".html")) + ".html"
}
