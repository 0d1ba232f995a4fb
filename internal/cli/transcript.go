package cli

import (
	"strings"

	"github.com/fmueller/voxnote/internal/lifecycle"
)

func isBlankTranscript(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	return trimmed == "" || strings.EqualFold(trimmed, lifecycle.BlankTranscript)
}

func noSpeechHint() string {
	return "No speech detected. Check mic mute and the selected input device; the recording was kept."
}
