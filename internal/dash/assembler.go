package dash

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"coursearchiver/internal/metrics"
)

// maxPrealloc caps the buffer reserved up front from declared ranges.
const maxPrealloc = 1 << 30

// Fetcher retrieves one byte range of a remote resource.
type Fetcher interface {
	Fetch(ctx context.Context, url, byteRange, referer string) ([]byte, error)
}

// ProgressFunc receives the number of finished media segments.
type ProgressFunc func(stream string, done, total int)

// Assembler concatenates the segments of one representation.
type Assembler struct {
	fetcher    Fetcher
	logger     hclog.Logger
	metrics    *metrics.Metrics
	OnProgress ProgressFunc
}

// NewAssembler creates an Assembler that fetches chunks through fetcher.
func NewAssembler(fetcher Fetcher, logger hclog.Logger, m *metrics.Metrics) *Assembler {
	return &Assembler{fetcher: fetcher, logger: logger.Named("assembler"), metrics: m}
}

// Assemble fetches the initialization segment and then every media segment
// in manifest order, returning their concatenation. Any failed or empty
// segment aborts the stream: a partial result is never returned.
func (a *Assembler) Assemble(ctx context.Context, stream string, rep Representation, streamRoot, referer string) ([]byte, error) {
	if strings.TrimSpace(rep.BaseURL) == "" {
		return nil, &AssemblyError{Stream: stream, Segment: -1, Err: errors.New("representation has no BaseURL")}
	}
	streamBase, err := resolve(streamRoot, rep.BaseURL)
	if err != nil {
		return nil, &AssemblyError{Stream: stream, Segment: -1, Err: err}
	}

	init := rep.SegmentList.Initialization
	initURL, err := resolve(streamBase, init.SourceURL)
	if err != nil {
		return nil, &AssemblyError{Stream: stream, Segment: -1, Err: err}
	}
	buf, err := a.fetchSegment(ctx, initURL, init.Range, referer)
	if err != nil {
		return nil, &AssemblyError{Stream: stream, Segment: -1, Err: err}
	}
	if capacity := expectedSize(rep.SegmentList); capacity > len(buf) && capacity <= maxPrealloc {
		grown := make([]byte, len(buf), capacity)
		copy(grown, buf)
		buf = grown
	}

	total := len(rep.SegmentList.Segments)
	a.logger.Debug("assembling stream", "stream", stream, "representation", rep.ID, "segments", total)

	for i, seg := range rep.SegmentList.Segments {
		segURL := streamBase
		if seg.Media != "" {
			if segURL, err = resolve(streamBase, seg.Media); err != nil {
				return nil, &AssemblyError{Stream: stream, Segment: i, Err: err}
			}
		}
		data, err := a.fetchSegment(ctx, segURL, seg.MediaRange, referer)
		if err != nil {
			return nil, &AssemblyError{Stream: stream, Segment: i, Err: err}
		}
		buf = append(buf, data...)
		if a.OnProgress != nil {
			a.OnProgress(stream, i+1, total)
		}
	}
	return buf, nil
}

func (a *Assembler) fetchSegment(ctx context.Context, segURL, byteRange, referer string) ([]byte, error) {
	data, err := a.fetcher.Fetch(ctx, segURL, byteRange, referer)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body from %s (bytes=%s)", segURL, byteRange)
	}
	a.metrics.SegmentFetched()
	return data, nil
}

// resolve joins ref onto base the way a browser resolves a relative link.
func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("bad base URL %q: %w", base, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("bad segment URL %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// expectedSize sums the declared ranges, or returns 0 when any range is
// open-ended or malformed.
func expectedSize(list SegmentList) int {
	total := rangeLength(list.Initialization.Range)
	if total == 0 {
		return 0
	}
	for _, s := range list.Segments {
		n := rangeLength(s.MediaRange)
		if n == 0 {
			return 0
		}
		total += n
	}
	return total
}

func rangeLength(r string) int {
	first, last, ok := strings.Cut(r, "-")
	if !ok {
		return 0
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(first))
	end, err2 := strconv.Atoi(strings.TrimSpace(last))
	if err1 != nil || err2 != nil || end < start {
		return 0
	}
	return end - start + 1
}
