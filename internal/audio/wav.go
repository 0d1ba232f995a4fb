package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

type WAVInfo struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	// DataSize is the declared size of the data chunk. Recorders that are
	// interrupted can leave a placeholder here, so readers stop at EOF.
	DataSize uint32
}

func (i WAVInfo) Duration() time.Duration {
	bytesPerSecond := uint64(i.SampleRate) * uint64(i.Channels) * uint64(i.BitsPerSample/8)
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(uint64(i.DataSize) * uint64(time.Second) / bytesPerSecond)
}

type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

func InspectWAV(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	return readWAVHeader(bufio.NewReader(f))
}

// IsSilentWAV reports whether the RMS level stays at or below thresholdDBFS
// and no peak rises more than 6 dB above it.
func IsSilentWAV(path string, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, SilenceMetrics{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	info, err := readWAVHeader(r)
	if err != nil {
		return false, SilenceMetrics{}, err
	}

	metrics, err := measure(io.LimitReader(r, int64(info.DataSize)), info)
	if err != nil {
		return false, SilenceMetrics{}, err
	}

	if metrics.Samples == 0 || (math.IsInf(metrics.RMSdBFS, -1) && math.IsInf(metrics.PeakdBFS, -1)) {
		return true, metrics, nil
	}
	return metrics.RMSdBFS <= thresholdDBFS && metrics.PeakdBFS <= thresholdDBFS+6, metrics, nil
}

// readWAVHeader walks the RIFF chunks up to the data chunk and leaves r
// positioned at the first sample.
func readWAVHeader(r io.Reader) (WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVInfo{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if string(riff[:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, ErrInvalidWAV
	}

	var info WAVInfo
	hasFmt := false

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
		}
		id := string(chunk[:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		padded := int64(size) + int64(size%2)

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVInfo{}, ErrInvalidWAV
			}
			buf := make([]byte, padded)
			if _, err := io.ReadFull(r, buf); err != nil {
				return WAVInfo{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			info.AudioFormat = binary.LittleEndian.Uint16(buf[0:2])
			info.Channels = binary.LittleEndian.Uint16(buf[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(buf[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
			if info.AudioFormat == 0xFFFE && size >= 26 {
				// WAVE_FORMAT_EXTENSIBLE carries the real format in the sub-format GUID.
				info.AudioFormat = binary.LittleEndian.Uint16(buf[24:26])
			}
			hasFmt = true
		case "data":
			if !hasFmt {
				return WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			info.DataSize = size
			if err := validateFormat(info.AudioFormat, info.BitsPerSample); err != nil {
				return WAVInfo{}, err
			}
			return info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, padded); err != nil {
				return WAVInfo{}, fmt.Errorf("%w: truncated %q chunk", ErrInvalidWAV, id)
			}
		}
	}
}

func validateFormat(audioFormat, bitsPerSample uint16) error {
	switch audioFormat {
	case wavFormatPCM:
		switch bitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case wavFormatFloat:
		switch bitsPerSample {
		case 32, 64:
			return nil
		}
	}
	return ErrUnsupportedWAV
}

func measure(r io.Reader, info WAVInfo) (SilenceMetrics, error) {
	width := int(info.BitsPerSample / 8)
	buf := make([]byte, width*4096)

	var (
		peak       float64
		sumSquares float64
		samples    int64
		carry      int
	)

	for {
		n, err := r.Read(buf[carry:])
		n += carry
		whole := n - n%width

		for i := 0; i < whole; i += width {
			value := math.Abs(decodeSample(buf[i:i+width], info.AudioFormat))
			if value > peak {
				peak = value
			}
			sumSquares += value * value
			samples++
		}

		carry = copy(buf, buf[whole:n])

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return SilenceMetrics{}, fmt.Errorf("read wav data: %w", err)
		}
	}

	if samples == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}, nil
	}

	return SilenceMetrics{
		RMSdBFS:  toDBFS(math.Sqrt(sumSquares / float64(samples))),
		PeakdBFS: toDBFS(peak),
		Samples:  samples,
	}, nil
}

// decodeSample returns the sample scaled to [-1, 1].
func decodeSample(b []byte, audioFormat uint16) float64 {
	if audioFormat == wavFormatFloat {
		if len(b) == 8 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}

	switch len(b) {
	case 1:
		return (float64(b[0]) - 128) / 128
	case 2:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 3:
		v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / 8388608
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
}

func toDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(amplitude)
}
