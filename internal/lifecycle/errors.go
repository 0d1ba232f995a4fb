package lifecycle

import (
	"errors"

	"github.com/fmueller/voxnote/internal/catalog"
)

var (
	ErrPermissionDenied    = errors.New("microphone permission denied")
	ErrCapture             = errors.New("capture produced no recording")
	ErrAssetMissing        = errors.New("recording asset is missing")
	ErrDeleteInconsistency = errors.New("delete left catalog and assets inconsistent")
	ErrBusy                = errors.New("a capture is already in progress")
	ErrNotRecording        = errors.New("no capture in progress")
	ErrPlayback            = errors.New("playback failed")
	ErrClosed              = errors.New("session is closed")
	ErrNoTranscriber       = errors.New("transcription is disabled")

	// ErrPruned accompanies ErrAssetMissing once the stale record is gone.
	ErrPruned = errors.New("stale record removed from the catalog")

	ErrPersistence = catalog.ErrPersistence
	ErrNotFound    = catalog.ErrNotFound
)
