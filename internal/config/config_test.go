package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archiver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
output:
  dir: /srv/archive
  force_overwrite: true
video:
  chunk_timeout: 90s
  ffmpeg_path: /opt/ffmpeg/bin/ffmpeg
ignore_titles: ["survey"]
log:
  level: debug
  json: true
`), 0644))

	// keep a stray .env in the working directory out of the picture
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/archive", cfg.Output.Dir)
	assert.True(t, cfg.Output.ForceOverwrite)
	assert.Equal(t, 90*time.Second, cfg.Video.ChunkTimeout)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Video.FFmpegPath)
	assert.Equal(t, []string{"survey"}, cfg.IgnoreTitles)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	// untouched sections keep defaults
	assert.Equal(t, "https://lms.skillfactory.ru", cfg.LMS.BaseURL)
	assert.Equal(t, 30*time.Minute, cfg.Video.MuxTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LMS_USERNAME":                 "student@example.com",
		"LMS_PASSWORD":                 "secret",
		"ARCHIVER_OUTPUT":              "/tmp/out",
		"ARCHIVER_REQUESTS_PER_SECOND": "2.5",
		"ARCHIVER_NO_VIDEOS":           "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, "student@example.com", cfg.LMS.Username)
	assert.Equal(t, "secret", cfg.LMS.Password)
	assert.Equal(t, "/tmp/out", cfg.Output.Dir)
	assert.Equal(t, 2.5, cfg.HTTP.RequestsPerSecond)
	assert.False(t, cfg.Video.Enabled)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "ARCHIVER_NO_VIDEOS" {
			return "maybe", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, "ARCHIVER_NO_VIDEOS")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LMS.BaseURL = "lms.local"
	cfg.Output.Dir = " "
	cfg.HTTP.Burst = 0
	cfg.Video.ChunkTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "lms.base_url")
	assert.ErrorContains(t, err, "output.dir")
	assert.ErrorContains(t, err, "http.burst")
	assert.ErrorContains(t, err, "video timeouts")

	cfg = Default()
	cfg.Video.Enabled = false
	cfg.Video.ChunkTimeout = 0
	assert.NoError(t, cfg.Validate())
}

func TestIsIgnoredTitle(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.IsIgnoredTitle("Обратная связь по модулю"))
	assert.True(t, cfg.IsIgnoredTitle("ДОБРО ПОЖАЛОВАТЬ!"))
	assert.False(t, cfg.IsIgnoredTitle("Циклы и условия"))
}
