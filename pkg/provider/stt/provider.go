// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber wraps a remote batch recognition service (e.g., a Wyoming ASR
// server running faster-whisper) and turns one complete utterance of PCM
// audio into text. Segmentation happens upstream, so a Transcriber never sees
// partial utterances.
//
// Implementations must be safe for concurrent use, although the pipeline
// calls Transcribe from a single worker goroutine.
package stt

import (
	"context"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
)

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe sends pcm, described by format, to the backend and blocks
	// until a result arrives, the backend's response timeout expires or ctx
	// is cancelled.
	//
	// A returned empty string with a nil error means the backend produced no
	// speech. When no result could be obtained the error says why; callers
	// classify it with [Classify].
	Transcribe(ctx context.Context, pcm []byte, format audio.Format) (string, error)

	// Close releases any connection held by the implementation. Calling Close
	// more than once is safe and returns nil.
	Close() error
}
