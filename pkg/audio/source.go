// Package audio defines the PCM frame types and the frame source interfaces
// used by the voice pipeline.
//
// The two primary abstractions are:
//
//   - [Source] opens a fresh subscription to an audio feed and returns a [Stream].
//   - [Stream] delivers fixed-size PCM frames until the feed ends or fails.
//
// Implementations live in adapter packages (e.g., internal/source for the
// ffmpeg-backed RTSP source). The interfaces are intentionally narrow so the
// pipeline driver stays decoupled from how audio is demuxed and decoded.
package audio

import (
	"context"
	"errors"
)

// ErrNoAudioTrack is returned by a [Source] or reported by [Stream.Err] when
// the upstream media has no audio stream to decode.
var ErrNoAudioTrack = errors.New("audio: source has no audio track")

// Stream is one live subscription to an audio feed.
//
// Every value received from Frames is exactly one frame of the size the
// source was configured with; partial frames are never delivered. The channel
// is closed when the feed ends, fails, or the stream is closed.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the read-only frame channel.
	Frames() <-chan []byte

	// Err returns the reason the Frames channel was closed. It returns nil
	// while the stream is live and after a clean Close.
	Err() error

	// Close stops the stream and releases its resources. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Source opens subscriptions to an audio feed. Each Open starts from scratch;
// the pipeline calls Open again after a stream failure.
type Source interface {
	// Open starts a new stream. ctx bounds the lifetime of the stream: when it
	// is cancelled the stream is torn down and its Frames channel closed.
	Open(ctx context.Context) (Stream, error)
}
