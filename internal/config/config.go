// Package config loads archiver settings from defaults, an optional YAML
// file, .env and the process environment. Command-line flags are applied
// on top by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"coursearchiver/internal/logging"
)

// Config is the full archiver configuration.
type Config struct {
	LMS          LMSConfig      `yaml:"lms"`
	HTTP         HTTPConfig     `yaml:"http"`
	Video        VideoConfig    `yaml:"video"`
	Localize     LocalizeConfig `yaml:"localize"`
	Output       OutputConfig   `yaml:"output"`
	IgnoreTitles []string       `yaml:"ignore_titles"`
	Log          logging.Config `yaml:"log"`
	Metrics      MetricsConfig  `yaml:"metrics"`
	Publish      PublishConfig  `yaml:"publish"`
}

type LMSConfig struct {
	BaseURL  string `yaml:"base_url"`
	AppsURL  string `yaml:"apps_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Timezone string `yaml:"timezone"`
	// RenderXBlocks fetches lesson content from the server-rendered
	// /xblock/<id> view instead of the block's lms_web_url.
	RenderXBlocks bool `yaml:"render_xblocks"`
}

type HTTPConfig struct {
	UserAgent         string        `yaml:"user_agent"`
	AcceptLanguage    string        `yaml:"accept_language"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type VideoConfig struct {
	Enabled         bool          `yaml:"enabled"`
	PlayerHost      string        `yaml:"player_host"`
	PlayerBaseURL   string        `yaml:"player_base_url"`
	FFmpegPath      string        `yaml:"ffmpeg_path"`
	ManifestTimeout time.Duration `yaml:"manifest_timeout"`
	ChunkTimeout    time.Duration `yaml:"chunk_timeout"`
	MuxTimeout      time.Duration `yaml:"mux_timeout"`
}

type LocalizeConfig struct {
	AssetHosts    []string      `yaml:"asset_hosts"`
	SourceDomains []string      `yaml:"source_domains"`
	DropScripts   []string      `yaml:"drop_scripts"`
	MathJaxURL    string        `yaml:"mathjax_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

type OutputConfig struct {
	Dir            string `yaml:"dir"`
	ForceOverwrite bool   `yaml:"force_overwrite"`
	UseCache       bool   `yaml:"use_cache"`
}

type MetricsConfig struct {
	Address string `yaml:"address"` // e.g. ":9090"; empty disables the listener
}

type PublishConfig struct {
	BucketURL string `yaml:"bucket_url"` // file://, s3:// or gs://
	Prefix    string `yaml:"prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LMS: LMSConfig{
			BaseURL:       "https://lms.skillfactory.ru",
			AppsURL:       "https://apps.skillfactory.ru",
			Timezone:      "Europe/Moscow",
			RenderXBlocks: true,
		},
		HTTP: HTTPConfig{
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36",
			AcceptLanguage:    "ru-RU,ru;q=0.9,en-US;q=0.6,en;q=0.5",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 8,
			Burst:             4,
		},
		Video: VideoConfig{
			Enabled:         true,
			PlayerHost:      "kinescope.io",
			PlayerBaseURL:   "https://kinescope.io",
			FFmpegPath:      "ffmpeg",
			ManifestTimeout: 30 * time.Second,
			ChunkTimeout:    60 * time.Second,
			MuxTimeout:      30 * time.Minute,
		},
		Localize: LocalizeConfig{
			AssetHosts: []string{
				"https://apps.skillfactory.ru",
				"https://lms-cdn.skillfactory.ru",
				"https://lms.skillfactory.ru",
			},
			SourceDomains: []string{"skillfactory.ru"},
			DropScripts: []string{
				"google-analytics", "googletagmanager", "yandex", "mc.yandex.ru",
				"/login_refresh", "/csrf/api/", "/api/user/",
			},
			MathJaxURL: "https://cdnjs.cloudflare.com/ajax/libs/mathjax/2.7.5/MathJax.js?config=TeX-AMS-MML_SVG",
			Timeout:    30 * time.Second,
		},
		Output: OutputConfig{
			Dir: "courses",
		},
		IgnoreTitles: []string{
			"силлабус", "добро пожаловать", "обратная связь", "полезные материалы",
			"карта курса", "вводный модуль", "описание курса",
		},
		Log: logging.Config{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LMS_USERNAME", &c.LMS.Username)
	str("LMS_PASSWORD", &c.LMS.Password)
	str("LMS_BASE_URL", &c.LMS.BaseURL)
	str("LMS_APPS_URL", &c.LMS.AppsURL)
	str("ARCHIVER_OUTPUT", &c.Output.Dir)
	str("ARCHIVER_LOG_LEVEL", &c.Log.Level)
	str("ARCHIVER_LOG_FILE", &c.Log.File)
	str("ARCHIVER_FFMPEG", &c.Video.FFmpegPath)
	str("ARCHIVER_METRICS_ADDR", &c.Metrics.Address)
	str("ARCHIVER_PUBLISH_URL", &c.Publish.BucketURL)

	if v, ok := lookup("ARCHIVER_REQUESTS_PER_SECOND"); ok && v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ARCHIVER_REQUESTS_PER_SECOND: %w", err)
		}
		c.HTTP.RequestsPerSecond = rps
	}
	if v, ok := lookup("ARCHIVER_NO_VIDEOS"); ok && v != "" {
		off, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ARCHIVER_NO_VIDEOS: %w", err)
		}
		c.Video.Enabled = !off
	}
	return nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	for _, f := range []struct{ name, raw string }{
		{"lms.base_url", c.LMS.BaseURL},
		{"lms.apps_url", c.LMS.AppsURL},
		{"video.player_base_url", c.Video.PlayerBaseURL},
	} {
		u, err := url.Parse(f.raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: %q is not an absolute URL", f.name, f.raw))
		}
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		errs = append(errs, errors.New("output.dir must not be empty"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.HTTP.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("http.requests_per_second must not be negative"))
	}
	if c.HTTP.RequestsPerSecond > 0 && c.HTTP.Burst < 1 {
		errs = append(errs, errors.New("http.burst must be at least 1 when rate limiting is on"))
	}
	if c.Video.Enabled {
		if c.Video.FFmpegPath == "" {
			errs = append(errs, errors.New("video.ffmpeg_path must not be empty"))
		}
		if c.Video.ChunkTimeout <= 0 || c.Video.ManifestTimeout <= 0 || c.Video.MuxTimeout <= 0 {
			errs = append(errs, errors.New("video timeouts must be positive"))
		}
	}
	if c.Localize.Timeout <= 0 {
		errs = append(errs, errors.New("localize.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// IsIgnoredTitle reports whether a display name matches the ignore list.
// Matching is case-insensitive on substrings.
func (c Config) IsIgnoredTitle(displayName string) bool {
	lower := strings.ToLower(displayName)
	for _, kw := range c.IgnoreTitles {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
