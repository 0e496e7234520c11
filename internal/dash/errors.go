// Package dash downloads lecture videos published as MPEG-DASH SegmentList
// manifests: it picks a video and an audio representation, reassembles both
// byte-range segmented streams and hands them to a muxer.
package dash

import (
	"errors"
	"fmt"
)

var (
	// ErrManifest marks every manifest parsing or shape failure.
	ErrManifest = errors.New("invalid DASH manifest")
	// ErrNoVideoTrack is returned when no video/* adaptation set exists.
	ErrNoVideoTrack = fmt.Errorf("%w: no video adaptation set", ErrManifest)
	// ErrNoAudioTrack is returned when no audio/* adaptation set exists.
	ErrNoAudioTrack = fmt.Errorf("%w: no audio adaptation set", ErrManifest)

	// ErrManifestUnavailable wraps failures to fetch the manifest.
	ErrManifestUnavailable = errors.New("manifest unavailable")
	// ErrAssemblyFailed wraps failures to reassemble a track.
	ErrAssemblyFailed = errors.New("stream assembly failed")
	// ErrMuxFailed wraps ffmpeg failures.
	ErrMuxFailed = errors.New("mux failed")
)

// FetchError describes a failed byte-range request.
type FetchError struct {
	URL        string
	Range      string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (bytes=%s): unexpected status code: %d", e.URL, e.Range, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s (bytes=%s): %v", e.URL, e.Range, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AssemblyError says which segment of which stream could not be assembled.
type AssemblyError struct {
	Stream  string // "video" or "audio"
	Segment int    // -1 for the initialization segment
	Err     error
}

func (e *AssemblyError) Error() string {
	switch {
	case e.Segment < 0:
		return fmt.Sprintf("%s stream: initialization segment: %v", e.Stream, e.Err)
	default:
		return fmt.Sprintf("%s stream: segment %d: %v", e.Stream, e.Segment, e.Err)
	}
}

func (e *AssemblyError) Unwrap() error { return e.Err }
