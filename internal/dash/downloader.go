package dash

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"

	"coursearchiver/internal/core/ports"
	"coursearchiver/internal/metrics"
	"coursearchiver/internal/util"
)

// Muxer combines a video and an audio stream into one container file.
type Muxer interface {
	Mux(ctx context.Context, video, audio []byte, outputPath string) error
}

// DownloaderConfig holds Downloader settings.
type DownloaderConfig struct {
	PlayerBaseURL   string // e.g. https://kinescope.io
	ManifestTimeout time.Duration
}

// Downloader implements ports.VideoDownloader for DASH SegmentList players.
type Downloader struct {
	client    ports.HTTPDoer
	assembler *Assembler
	muxer     Muxer
	cfg       DownloaderConfig
	logger    hclog.Logger
	metrics   *metrics.Metrics
}

// NewDownloader wires the manifest client, assembler and muxer together.
func NewDownloader(client ports.HTTPDoer, assembler *Assembler, muxer Muxer, cfg DownloaderConfig, logger hclog.Logger, m *metrics.Metrics) *Downloader {
	return &Downloader{
		client:    client,
		assembler: assembler,
		muxer:     muxer,
		cfg:       cfg,
		logger:    logger.Named("dash"),
		metrics:   m,
	}
}

// Download fetches the manifest of videoID, assembles the widest video and
// the first audio representation and muxes them into
// <outputDir>/<sanitized displayName>.mp4. Returns the written path.
func (d *Downloader) Download(ctx context.Context, videoID, displayName, referer, outputDir string) (path string, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		d.metrics.VideoDone(result, time.Since(start))
	}()

	name := util.SanitizeFilename(displayName)
	if name == "" {
		name = videoID
	}
	outputPath := filepath.Join(outputDir, name+".mp4")
	log := d.logger.With("video_id", videoID, "output", outputPath)

	streamRoot := strings.TrimRight(d.cfg.PlayerBaseURL, "/") + "/" + videoID + "/"
	raw, err := d.fetchManifest(ctx, streamRoot+"master.mpd", referer)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
	}
	manifest, err := ParseManifest(raw)
	if err != nil {
		return "", err
	}

	videoRep, err := manifest.SelectVideo()
	if err != nil {
		return "", err
	}
	audioRep, err := manifest.SelectAudio()
	if err != nil {
		return "", err
	}
	log.Info("selected representations",
		"video", fmt.Sprintf("%dx%d", videoRep.Width, videoRep.Height),
		"video_segments", len(videoRep.SegmentList.Segments),
		"audio_segments", len(audioRep.SegmentList.Segments))

	video, err := d.assembler.Assemble(ctx, "video", videoRep, streamRoot, referer)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAssemblyFailed, err)
	}
	audio, err := d.assembler.Assemble(ctx, "audio", audioRep, streamRoot, referer)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAssemblyFailed, err)
	}

	if err := d.muxer.Mux(ctx, video, audio, outputPath); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMuxFailed, err)
	}

	log.Info("video saved",
		"size", humanize.Bytes(uint64(len(video)+len(audio))),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return outputPath, nil
}

func (d *Downloader) fetchManifest(ctx context.Context, manifestURL, referer string) ([]byte, error) {
	if d.cfg.ManifestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ManifestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	d.metrics.AddBytes("manifest", len(data))
	return data, nil
}
