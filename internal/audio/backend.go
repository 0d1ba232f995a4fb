package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type command struct {
	name string
	args []string
}

type Backend interface {
	Name() string
	Available() bool
}

type CaptureBackend interface {
	Backend
	captureCommand(opts CaptureOptions, outPath string) (command, error)
	ListDevices(ctx context.Context) (string, error)
}

type PlaybackBackend interface {
	Backend
	playbackCommand(path string) command
}

// SelectBackend returns the preferred backend, or the first available one
// when preferred is empty or "auto".
func SelectBackend[B Backend](backends []B, preferred string) (B, error) {
	var zero B
	if len(backends) == 0 {
		return zero, errors.New("no backends configured")
	}

	if preferred != "" && preferred != "auto" {
		for _, backend := range backends {
			if backend.Name() == preferred {
				if !backend.Available() {
					return zero, fmt.Errorf("requested backend %q is not available", preferred)
				}
				return backend, nil
			}
		}
		return zero, fmt.Errorf("unknown backend %q", preferred)
	}

	for _, backend := range backends {
		if backend.Available() {
			return backend, nil
		}
	}

	return zero, ErrNoBackend
}

func DefaultCaptureBackends(goos string) []CaptureBackend {
	switch goos {
	case "linux":
		return []CaptureBackend{pipewireCapture{}, alsaCapture{}, ffmpegCapture{format: "pulse", input: "default"}}
	case "darwin":
		return []CaptureBackend{ffmpegCapture{format: "avfoundation", input: ":0"}}
	default:
		return nil
	}
}

func DefaultPlaybackBackends(goos string) []PlaybackBackend {
	switch goos {
	case "linux":
		return []PlaybackBackend{simplePlayer{name: "pw-play"}, simplePlayer{name: "aplay", flags: []string{"-q"}}, ffplayPlayer{}}
	case "darwin":
		return []PlaybackBackend{simplePlayer{name: "afplay"}, ffplayPlayer{}}
	default:
		return nil
	}
}

type pipewireCapture struct{}

func (pipewireCapture) Name() string    { return "pw-record" }
func (pipewireCapture) Available() bool { return commandAvailable("pw-record") }

func (pipewireCapture) captureCommand(opts CaptureOptions, outPath string) (command, error) {
	formats := map[Codec]string{CodecPCM16: "s16", CodecPCM24: "s24", CodecPCM32: "s32", CodecFloat32: "f32"}
	format, ok := formats[opts.Codec]
	if !ok {
		return command{}, fmt.Errorf("pw-record does not support codec %q", opts.Codec)
	}

	args := []string{"--rate", strconv.Itoa(opts.SampleRate), "--channels", strconv.Itoa(opts.Channels), "--format", format}
	if opts.Input != "" {
		args = append(args, "--target", opts.Input)
	}
	return command{name: "pw-record", args: append(args, outPath)}, nil
}

func (pipewireCapture) ListDevices(ctx context.Context) (string, error) {
	if commandAvailable("pw-cli") {
		return commandOutput(ctx, "pw-cli", "ls", "Node")
	}
	return commandOutput(ctx, "pw-record", "--list-targets")
}

type alsaCapture struct{}

func (alsaCapture) Name() string    { return "arecord" }
func (alsaCapture) Available() bool { return commandAvailable("arecord") }

func (alsaCapture) captureCommand(opts CaptureOptions, outPath string) (command, error) {
	formats := map[Codec]string{CodecPCM16: "S16_LE", CodecPCM24: "S24_3LE", CodecPCM32: "S32_LE", CodecFloat32: "FLOAT_LE"}
	format, ok := formats[opts.Codec]
	if !ok {
		return command{}, fmt.Errorf("arecord does not support codec %q", opts.Codec)
	}

	args := []string{"-q", "-t", "wav", "-f", format, "-r", strconv.Itoa(opts.SampleRate), "-c", strconv.Itoa(opts.Channels)}
	if opts.Input != "" {
		args = append(args, "-D", opts.Input)
	}
	return command{name: "arecord", args: append(args, outPath)}, nil
}

func (alsaCapture) ListDevices(ctx context.Context) (string, error) {
	return commandOutput(ctx, "arecord", "-L")
}

type ffmpegCapture struct {
	format string
	input  string
}

func (ffmpegCapture) Name() string    { return "ffmpeg" }
func (ffmpegCapture) Available() bool { return commandAvailable("ffmpeg") }

func (b ffmpegCapture) captureCommand(opts CaptureOptions, outPath string) (command, error) {
	format := b.format
	if opts.Format != "" {
		format = opts.Format
	}
	input := b.input
	if opts.Input != "" {
		input = opts.Input
	}

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-f", format, "-i", input,
		"-ac", strconv.Itoa(opts.Channels),
		"-ar", strconv.Itoa(opts.SampleRate),
		"-c:a", string(opts.Codec),
		outPath,
	}
	return command{name: "ffmpeg", args: args}, nil
}

func (b ffmpegCapture) ListDevices(ctx context.Context) (string, error) {
	if b.format == "avfoundation" {
		// ffmpeg exits non-zero after printing the device list.
		out, _ := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", "").CombinedOutput()
		return strings.TrimSpace(string(out)), nil
	}

	var sections []string
	if commandAvailable("pactl") {
		if out, err := commandOutput(ctx, "pactl", "list", "short", "sources"); err == nil {
			sections = append(sections, "PulseAudio/PipeWire sources:\n"+out)
		} else {
			sections = append(sections, "PulseAudio/PipeWire sources: "+err.Error())
		}
	}
	if len(sections) == 0 {
		return "", errors.New("no device listing command available")
	}
	return strings.Join(sections, "\n\n"), nil
}

type simplePlayer struct {
	name  string
	flags []string
}

func (p simplePlayer) Name() string    { return p.name }
func (p simplePlayer) Available() bool { return commandAvailable(p.name) }

func (p simplePlayer) playbackCommand(path string) command {
	args := append(append([]string{}, p.flags...), path)
	return command{name: p.name, args: args}
}

type ffplayPlayer struct{}

func (ffplayPlayer) Name() string    { return "ffplay" }
func (ffplayPlayer) Available() bool { return commandAvailable("ffplay") }

func (ffplayPlayer) playbackCommand(path string) command {
	return command{name: "ffplay", args: []string{"-nodisp", "-autoexit", "-hide_banner", "-loglevel", "error", path}}
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func commandOutput(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed != "" {
			return "", fmt.Errorf("%s %s failed: %w (%s)", name, strings.Join(args, " "), err, trimmed)
		}
		return "", fmt.Errorf("%s %s failed: %w", name, strings.Join(args, " "), err)
	}
	return trimmed, nil
}
