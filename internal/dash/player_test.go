package dash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		src  string
		id   string
		want bool
	}{
		{"https://kinescope.io/embed/201234567abc", "201234567abc", true},
		{"https://kinescope.io/aBc123?autoplay=1", "aBc123", true},
		{"//kinescope.io/embed/XyZ", "XyZ", true},
		{"https://www.youtube.com/embed/abc", "", false},
		{"https://kinescope.io/", "", false},
	}
	for _, tt := range tests {
		id, ok := ExtractVideoID(tt.src)
		assert.Equal(t, tt.want, ok, tt.src)
		assert.Equal(t, tt.id, id, tt.src)
	}
}

func TestPlayerMatcherCustomHost(t *testing.T) {
	p := NewPlayerMatcher("player.example.com")
	id, ok := p.VideoID("https://player.example.com/embed/v42")
	assert.True(t, ok)
	assert.Equal(t, "v42", id)

	_, ok = p.VideoID("https://playerXexample.com/embed/v42")
	assert.False(t, ok)
}
