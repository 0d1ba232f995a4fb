// Package transcribe uploads recordings to a remote speech-to-text endpoint.
//
// Transcribe never returns an error. Every failure collapses into the
// failure sentinel so callers can treat it as "no transcript available".
package transcribe

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fmueller/voxnote/internal/files"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1/"
	DefaultModel   = "whisper-1"
	DefaultTimeout = 2 * time.Minute

	FailureText = "Transcription failed"
)

var ErrMissingCredential = errors.New("transcription api key is required")

type Result struct {
	Text   string
	Failed bool
}

func Failure() Result {
	return Result{Text: FailureText, Failed: true}
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// HTTPClient replaces the default client; Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	api    oai.Client
	model  string
	logger *zap.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	api := oai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)

	return &Client{api: api, model: cfg.Model, logger: cfg.Logger}, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Transcribe(ctx context.Context, uri string) Result {
	path, err := files.ResolvePath(uri)
	if err != nil {
		c.logger.Warn("transcription skipped: unusable uri", zap.String("uri", uri), zap.Error(err))
		return Failure()
	}

	f, err := os.Open(path)
	if err != nil {
		c.logger.Warn("transcription skipped: cannot open audio", zap.String("path", path), zap.Error(err))
		return Failure()
	}
	defer f.Close()

	started := time.Now()
	resp, err := c.api.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(f, filepath.Base(path), ContentTypeFor(path)),
		Model: oai.AudioModel(c.model),
	})
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("transcription request rejected", zap.Int("status", apiErr.StatusCode), zap.Error(err))
		} else {
			c.logger.Warn("transcription request failed", zap.Error(err))
		}
		return Failure()
	}
	if resp == nil {
		c.logger.Warn("transcription response was empty")
		return Failure()
	}
	// A number or object under "text" decodes without error, so the raw
	// field type is checked too.
	if !resp.JSON.Text.Valid() || gjson.Get(resp.RawJSON(), "text").Type != gjson.String {
		c.logger.Warn("transcription response has no text field")
		return Failure()
	}

	c.logger.Debug("transcription finished", zap.String("path", path), zap.Duration("elapsed", time.Since(started)))
	return Result{Text: strings.TrimSpace(resp.Text)}
}

var audioContentTypes = map[string]string{
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".webm": "audio/webm",
	".flac": "audio/flac",
}

// ContentTypeFor infers the upload content type from the file extension.
func ContentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if value, ok := audioContentTypes[ext]; ok {
		return value
	}
	if value := mime.TypeByExtension(ext); value != "" {
		return value
	}
	return "application/octet-stream"
}
