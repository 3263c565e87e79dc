// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(frames, io.ErrUnexpectedEOF)
//	src := &mock.Source{Streams: []audio.Stream{stream}}
//	got, err := src.Open(ctx)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream] that replays a fixed list
// of frames and then closes its channel, reporting EndErr from Err.
type Stream struct {
	mu sync.Mutex

	ch     chan []byte
	endErr error
	ended  bool
	done   chan struct{}
	once   sync.Once

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewStream returns a Stream that delivers frames in order and then ends with
// endErr. If hold is true the channel stays open after the last frame until
// Close is called, simulating a live feed that never ends on its own.
func NewStream(frames [][]byte, endErr error, hold ...bool) *Stream {
	s := &Stream{
		ch:     make(chan []byte),
		endErr: endErr,
		done:   make(chan struct{}),
	}
	keepOpen := len(hold) > 0 && hold[0]
	go func() {
		defer close(s.ch)
		for _, f := range frames {
			select {
			case s.ch <- f:
			case <-s.done:
				return
			}
		}
		if keepOpen {
			<-s.done
			return
		}
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
	}()
	return s
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan []byte { return s.ch }

// Err implements [audio.Stream]. It returns the configured end error once all
// frames have been delivered.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s.endErr
	}
	return nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

var _ audio.Stream = (*Stream)(nil)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Each Open call returns
// the next entry of Streams (or OpenErrors, when the entry at the same index
// is non-nil). Once both lists are exhausted Open returns ErrExhausted.
type Source struct {
	mu sync.Mutex

	// Streams are returned by successive Open calls.
	Streams []audio.Stream

	// OpenErrors, if the entry for a call index is non-nil, is returned
	// instead of the stream at that index.
	OpenErrors []error

	// OnOpen, if set, is invoked with the 1-based call number on every Open.
	OnOpen func(n int)

	// OpenCallCount records how many times Open was called.
	OpenCallCount int
}

// ErrExhausted is returned by Source.Open once no scripted streams remain.
var ErrExhausted = errors.New("mock: no more streams")

// Open implements [audio.Source].
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	s.mu.Lock()
	idx := s.OpenCallCount
	s.OpenCallCount++
	onOpen := s.OnOpen
	var (
		stream audio.Stream
		err    error
	)
	if idx < len(s.OpenErrors) && s.OpenErrors[idx] != nil {
		err = s.OpenErrors[idx]
	} else if idx < len(s.Streams) {
		stream = s.Streams[idx]
	} else {
		err = ErrExhausted
	}
	s.mu.Unlock()

	if onOpen != nil {
		onOpen(idx + 1)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return stream, err
}

// Opens returns the number of Open calls so far.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenCallCount
}

var _ audio.Source = (*Source)(nil)
