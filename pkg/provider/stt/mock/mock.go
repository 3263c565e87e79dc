// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber to script transcription results and inspect which utterances
// were submitted.
//
// Example:
//
//	tr := &mock.Transcriber{Texts: []string{"turn on the light"}}
//	text, err := tr.Transcribe(ctx, pcm, audio.Mono16(16000))
package mock

import (
	"context"
	"sync"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte
	// Format is the audio format passed to Transcribe.
	Format audio.Format
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Texts are returned by successive Transcribe calls. Once exhausted, Text
	// is returned.
	Texts []string

	// Text is the fallback result once Texts is exhausted.
	Text string

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Block, when non-nil, makes Transcribe wait until the channel is closed
	// or ctx is done.
	Block chan struct{}

	// OnTranscribe, if set, is called with the 1-based call number before the
	// result is returned.
	OnTranscribe func(n int)

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe records the call and returns the next scripted result.
func (m *Transcriber) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (string, error) {
	m.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{PCM: cp, Format: format})
	n := len(m.TranscribeCalls)
	text := m.Text
	if n <= len(m.Texts) {
		text = m.Texts[n-1]
	}
	err := m.Err
	block := m.Block
	onTranscribe := m.OnTranscribe
	m.mu.Unlock()

	if onTranscribe != nil {
		onTranscribe(n)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Calls returns a snapshot of the recorded Transcribe calls. Thread-safe.
func (m *Transcriber) Calls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranscribeCall, len(m.TranscribeCalls))
	copy(out, m.TranscribeCalls)
	return out
}

// Close records the call and returns CloseErr.
func (m *Transcriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return m.CloseErr
}

// Closes returns the number of Close calls. Thread-safe.
func (m *Transcriber) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseCallCount
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
