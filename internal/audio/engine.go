// Package audio is the boundary to the platform audio engine: microphone
// permission, capture handles and playback handles.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrHandleReleased = errors.New("audio handle already released")
	ErrNoBackend      = errors.New("no audio backend available")
)

type Engine interface {
	RequestPermission(ctx context.Context) (bool, error)
	StartCapture(ctx context.Context, opts CaptureOptions) (CaptureHandle, error)
	CreatePlayback(ctx context.Context, uri string) (PlaybackHandle, error)
}

// CaptureHandle is an in-progress microphone recording.
type CaptureHandle interface {
	// StopAndFinalize ends the capture. An empty uri with a nil error means
	// the engine produced nothing usable.
	StopAndFinalize(ctx context.Context) (uri string, err error)
}

// PlaybackHandle is one playback of one asset. Listeners registered with
// OnStatus are called from the engine's goroutine, never from inside Play or
// Release.
type PlaybackHandle interface {
	Play(ctx context.Context) error
	OnStatus(fn func(Status))
	// Release stops playback if needed. Safe to call more than once.
	Release() error
}

type Status int

const (
	StatusPlaying Status = iota
	// StatusFinished is delivered when playback reached the end by itself.
	StatusFinished
	// StatusStopped is delivered when playback ended because of Release.
	StatusStopped
	StatusFailed
)

func (s Status) Terminal() bool {
	return s != StatusPlaying
}

func (s Status) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusFinished:
		return "finished"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Codec string

const (
	CodecPCM16   Codec = "pcm_s16le"
	CodecPCM24   Codec = "pcm_s24le"
	CodecPCM32   Codec = "pcm_s32le"
	CodecFloat32 Codec = "pcm_f32le"
)

func (c Codec) BitDepth() int {
	switch c {
	case CodecPCM16:
		return 16
	case CodecPCM24:
		return 24
	case CodecPCM32, CodecFloat32:
		return 32
	default:
		return 0
	}
}

// CaptureOptions enumerates every recording option the engine understands.
type CaptureOptions struct {
	Codec      Codec
	SampleRate int
	Channels   int
	BitDepth   int
	Extension  string
	// Input is a backend specific device name, empty for the default device.
	Input string
	// Format is the ffmpeg input format (pulse, alsa, avfoundation).
	Format string
}

func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		Codec:      CodecPCM16,
		SampleRate: 44100,
		Channels:   2,
		BitDepth:   16,
		Extension:  ".wav",
	}
}

// WithDefaults fills every zero field from DefaultCaptureOptions. A missing
// bit depth follows the codec.
func (o CaptureOptions) WithDefaults() CaptureOptions {
	def := DefaultCaptureOptions()
	if o.Codec == "" {
		o.Codec = def.Codec
	}
	if o.SampleRate == 0 {
		o.SampleRate = def.SampleRate
	}
	if o.Channels == 0 {
		o.Channels = def.Channels
	}
	if o.BitDepth == 0 {
		o.BitDepth = o.Codec.BitDepth()
	}
	if o.Extension == "" {
		o.Extension = def.Extension
	}
	if !strings.HasPrefix(o.Extension, ".") {
		o.Extension = "." + o.Extension
	}
	return o
}

func (o CaptureOptions) Validate() error {
	var errs []error

	if o.Codec.BitDepth() == 0 {
		errs = append(errs, fmt.Errorf("codec %q is invalid; valid values: %s, %s, %s, %s", o.Codec, CodecPCM16, CodecPCM24, CodecPCM32, CodecFloat32))
	} else if o.BitDepth != o.Codec.BitDepth() {
		errs = append(errs, fmt.Errorf("bit depth %d does not match codec %s (%d)", o.BitDepth, o.Codec, o.Codec.BitDepth()))
	}
	if o.SampleRate < 8000 || o.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample rate %d is out of range [8000, 192000]", o.SampleRate))
	}
	if o.Channels < 1 || o.Channels > 2 {
		errs = append(errs, fmt.Errorf("channel count %d is invalid; valid values: 1, 2", o.Channels))
	}
	if !strings.EqualFold(o.Extension, ".wav") {
		errs = append(errs, fmt.Errorf("extension %q is not supported; only .wav is written", o.Extension))
	}

	return errors.Join(errs...)
}
