package dash

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoQualityManifest = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" profiles="urn:mpeg:dash:profile:isoff-main:2011">
  <Period id="0">
    <AdaptationSet mimeType="video/mp4">
      <Representation id="720p" width="1280" height="720" bandwidth="1500000">
        <BaseURL>video/720.mp4</BaseURL>
        <SegmentList>
          <Initialization sourceURL="720.mp4" range="0-3"/>
          <SegmentURL mediaRange="4-7"/>
        </SegmentList>
      </Representation>
      <Representation id="1080p" width="1920" height="1080" bandwidth="4000000">
        <BaseURL>video/1080.mp4</BaseURL>
        <SegmentList>
          <Initialization sourceURL="1080.mp4" range="0-3"/>
          <SegmentURL mediaRange="4-7"/>
          <SegmentURL mediaRange="8-11"/>
          <SegmentURL media="1080-tail.mp4" mediaRange="0-1"/>
        </SegmentList>
      </Representation>
    </AdaptationSet>
    <AdaptationSet mimeType="audio/mp4">
      <Representation id="aac" bandwidth="128000">
        <BaseURL>audio/aac.mp4</BaseURL>
        <SegmentList>
          <Initialization sourceURL="aac.mp4" range="0-1"/>
          <SegmentURL mediaRange="2-4"/>
          <SegmentURL mediaRange="5-6"/>
        </SegmentList>
      </Representation>
      <Representation id="aac-low" bandwidth="64000">
        <BaseURL>audio/aac-low.mp4</BaseURL>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseManifestSelectsRepresentations(t *testing.T) {
	m, err := ParseManifest([]byte(twoQualityManifest))
	require.NoError(t, err)

	video, err := m.SelectVideo()
	require.NoError(t, err)
	assert.Equal(t, "1080p", video.ID)
	assert.Equal(t, 1920, video.Width)
	assert.Equal(t, "video/1080.mp4", video.BaseURL)
	require.Len(t, video.SegmentList.Segments, 3)
	assert.Equal(t, "1080-tail.mp4", video.SegmentList.Segments[2].Media)
	assert.Equal(t, "0-3", video.SegmentList.Initialization.Range)

	audio, err := m.SelectAudio()
	require.NoError(t, err)
	assert.Equal(t, "aac", audio.ID)
}

func TestSelectVideoFirstWinsTies(t *testing.T) {
	m, err := ParseManifest([]byte(`<MPD><Period>
<AdaptationSet mimeType="video/mp4">
  <Representation id="a" width="1280"/>
  <Representation id="b" width="1280"/>
  <Representation id="c" width="640"/>
</AdaptationSet>
<AdaptationSet mimeType="audio/mp4"><Representation id="x"/></AdaptationSet>
</Period></MPD>`))
	require.NoError(t, err)

	video, err := m.SelectVideo()
	require.NoError(t, err)
	assert.Equal(t, "a", video.ID)
}

func TestAdaptationSetKindFallbacks(t *testing.T) {
	m, err := ParseManifest([]byte(`<MPD><Period>
<AdaptationSet contentType="video"><Representation id="v" width="640"/></AdaptationSet>
<AdaptationSet><Representation id="a" mimeType="audio/mp4"/></AdaptationSet>
</Period></MPD>`))
	require.NoError(t, err)

	audio, err := m.SelectAudio()
	require.NoError(t, err)
	assert.Equal(t, "a", audio.ID)
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"malformed", `<MPD><Period>`, ErrManifest},
		{"no period", `<MPD></MPD>`, ErrManifest},
		{"no adaptation set", `<MPD><Period/></MPD>`, ErrManifest},
		{"no video", `<MPD><Period><AdaptationSet mimeType="audio/mp4"><Representation/></AdaptationSet></Period></MPD>`, ErrNoVideoTrack},
		{"no audio", `<MPD><Period><AdaptationSet mimeType="video/mp4"><Representation/></AdaptationSet></Period></MPD>`, ErrNoAudioTrack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.doc))
			assert.Nil(t, m)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.Is(err, ErrManifest))
		})
	}
}
