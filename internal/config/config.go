// Package config loads and validates the voxnote configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fmueller/voxnote/internal/audio"
	"github.com/fmueller/voxnote/internal/catalog"
	"github.com/fmueller/voxnote/internal/logging"
	"github.com/fmueller/voxnote/internal/transcribe"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted for the transcription credential, in order.
var APIKeyEnv = []string{"VOXNOTE_API_KEY", "OPENAI_API_KEY"}

type Config struct {
	DataDir       string              `yaml:"data_dir"`
	Log           LogConfig           `yaml:"log"`
	Audio         AudioConfig         `yaml:"audio"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Transcription TranscriptionConfig `yaml:"transcription"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type AudioConfig struct {
	Backend     string `yaml:"backend"`
	Input       string `yaml:"input"`
	InputFormat string `yaml:"input_format"`
	Codec       string `yaml:"codec"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	BitDepth    int    `yaml:"bit_depth"`
	Extension   string `yaml:"extension"`
	// StopTimeout bounds how long the recorder may take to flush after stop.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

type PlaybackConfig struct {
	Backend string `yaml:"backend"`
}

type CatalogConfig struct {
	Key string `yaml:"key"`
	// PruneMissing removes records whose audio file has disappeared when
	// playback finds them missing.
	PruneMissing bool `yaml:"prune_missing"`
}

type TranscriptionConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	// Persist writes successful transcripts back into the catalog.
	Persist              bool    `yaml:"persist"`
	SilenceGate          bool    `yaml:"silence_gate"`
	SilenceThresholdDBFS float64 `yaml:"silence_threshold_dbfs"`
}

func Default() *Config {
	capture := audio.DefaultCaptureOptions()
	return &Config{
		Log: LogConfig{Level: "info"},
		Audio: AudioConfig{
			Backend:     "auto",
			Codec:       string(capture.Codec),
			SampleRate:  capture.SampleRate,
			Channels:    capture.Channels,
			BitDepth:    capture.BitDepth,
			Extension:   capture.Extension,
			StopTimeout: 5 * time.Second,
		},
		Playback: PlaybackConfig{Backend: "auto"},
		Catalog: CatalogConfig{
			Key:          catalog.DefaultKey,
			PruneMissing: true,
		},
		Transcription: TranscriptionConfig{
			Enabled:              true,
			BaseURL:              transcribe.DefaultBaseURL,
			Model:                transcribe.DefaultModel,
			Timeout:              transcribe.DefaultTimeout,
			Persist:              true,
			SilenceGate:          true,
			SilenceThresholdDBFS: -65,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file yields
// the defaults unless required is set.
func Load(path string, required bool) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CaptureOptions converts the audio section into engine options.
func (c *Config) CaptureOptions() audio.CaptureOptions {
	return audio.CaptureOptions{
		Codec:      audio.Codec(c.Audio.Codec),
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		BitDepth:   c.Audio.BitDepth,
		Extension:  c.Audio.Extension,
		Input:      c.Audio.Input,
		Format:     c.Audio.InputFormat,
	}.WithDefaults()
}

// APIKey returns the configured credential, falling back to the environment.
func (c *Config) APIKey(getenv func(string) string) string {
	if key := strings.TrimSpace(c.Transcription.APIKey); key != "" {
		return key
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, name := range APIKeyEnv {
		if key := strings.TrimSpace(getenv(name)); key != "" {
			return key
		}
	}
	return ""
}

// Validate returns a joined error listing every invalid value.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if err := cfg.CaptureOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Audio.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("audio.stop_timeout %s must not be negative", cfg.Audio.StopTimeout))
	}

	if strings.TrimSpace(cfg.Catalog.Key) == "" {
		errs = append(errs, errors.New("catalog.key must not be empty"))
	}

	t := cfg.Transcription
	if t.Enabled {
		if !strings.HasPrefix(t.BaseURL, "http://") && !strings.HasPrefix(t.BaseURL, "https://") {
			errs = append(errs, fmt.Errorf("transcription.base_url %q must be an http(s) URL", t.BaseURL))
		}
		if strings.TrimSpace(t.Model) == "" {
			errs = append(errs, errors.New("transcription.model must not be empty"))
		}
		if t.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("transcription.timeout %s must be positive", t.Timeout))
		}
	}
	if t.SilenceThresholdDBFS > 0 {
		errs = append(errs, fmt.Errorf("transcription.silence_threshold_dbfs %.1f must be <= 0", t.SilenceThresholdDBFS))
	}

	return errors.Join(errs...)
}
