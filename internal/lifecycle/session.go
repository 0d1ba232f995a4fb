package lifecycle

import (
	"github.com/fmueller/voxnote/internal/audio"
	"github.com/fmueller/voxnote/internal/catalog"
)

type CaptureState int

const (
	CaptureIdle CaptureState = iota
	CaptureRecording
	CaptureStopping
	CaptureTranscribing
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureRecording:
		return "recording"
	case CaptureStopping:
		return "stopping"
	case CaptureTranscribing:
		return "transcribing"
	default:
		return "unknown"
	}
}

type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackPlaying
)

func (s PlaybackState) String() string {
	if s == PlaybackPlaying {
		return "playing"
	}
	return "idle"
}

type TranscriptState int

const (
	TranscriptNone TranscriptState = iota
	TranscriptPending
	TranscriptDone
	TranscriptFailed
)

func (s TranscriptState) String() string {
	switch s {
	case TranscriptNone:
		return "none"
	case TranscriptPending:
		return "pending"
	case TranscriptDone:
		return "done"
	case TranscriptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// session holds every transient handle and flag of one interaction arc.
// It is only touched with Manager.mu held.
type session struct {
	// generation changes on every new capture and on Close; late
	// transcription results carrying an older generation are dropped.
	generation uint64
	closed     bool

	capture      audio.CaptureHandle
	captureState CaptureState

	playback *activePlayback

	latest          *catalog.Record
	transcript      string
	transcriptState TranscriptState
	pending         chan struct{}
}

// activePlayback is the single playback handle the session may hold.
type activePlayback struct {
	handle audio.PlaybackHandle
	id     string
	done   chan struct{}
	// err is written before done is closed.
	err error
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Capture         CaptureState
	Playback        PlaybackState
	PlayingID       string
	Latest          *catalog.Record
	Transcript      string
	TranscriptState TranscriptState
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		Capture:         s.captureState,
		Playback:        PlaybackIdle,
		Transcript:      s.transcript,
		TranscriptState: s.transcriptState,
	}
	if s.playback != nil {
		snap.Playback = PlaybackPlaying
		snap.PlayingID = s.playback.id
	}
	if s.latest != nil {
		rec := *s.latest
		snap.Latest = &rec
	}
	return snap
}
