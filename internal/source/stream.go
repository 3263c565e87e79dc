// Package source implements [audio.Source] adapters that turn a byte feed of
// mono s16le PCM into fixed-size frames.
//
// [FFmpeg] decodes an RTSP camera stream (or any input ffmpeg understands) in
// a subprocess. [Reader] adapts an arbitrary [io.ReadCloser], which is how
// standard input is consumed when rtsp_url is "-".
package source

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
)

// Stream slices a PCM byte feed into frames. It implements [audio.Stream].
type Stream struct {
	r         io.ReadCloser
	frameSize int
	frames    chan []byte

	// finish is called once with the read error that ended the feed and
	// returns the error reported by Err.
	finish func(readErr error) error

	// stop interrupts a blocked read.
	stop func()

	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	cancel func() bool

	mu      sync.Mutex
	err     error
	stopErr error
	stopped bool
}

// newStream starts the frame reader goroutine. finish and stop may be nil.
func newStream(ctx context.Context, r io.ReadCloser, frameSize int, finish func(error) error, stop func()) *Stream {
	s := &Stream{
		r:         r,
		frameSize: frameSize,
		frames:    make(chan []byte, 4),
		finish:    finish,
		stop:      stop,
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	if s.finish == nil {
		s.finish = func(err error) error { return err }
	}
	s.cancel = context.AfterFunc(ctx, func() { s.shutdown(ctx.Err()) })
	go s.run()
	return s
}

// NewReaderStream returns a stream that reads frames of frameSize bytes from
// r until it fails. A trailing partial frame is discarded. When r reaches EOF
// Err reports [io.EOF]. Cancelling ctx or calling Close closes r.
func NewReaderStream(ctx context.Context, r io.ReadCloser, frameSize int) *Stream {
	return newStream(ctx, r, frameSize, nil, nil)
}

func (s *Stream) run() {
	defer close(s.exited)
	defer close(s.frames)

	for {
		buf := make([]byte, s.frameSize)
		_, err := io.ReadFull(s.r, buf)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			s.end(s.finish(err))
			return
		}
		select {
		case s.frames <- buf:
		case <-s.done:
			s.end(s.finish(io.EOF))
			return
		}
	}
}

// end records the terminal error unless the stream was stopped, in which
// case the stop reason wins.
func (s *Stream) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.err = s.stopErr
		return
	}
	s.err = err
}

func (s *Stream) shutdown(reason error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.stopErr = reason
		s.mu.Unlock()
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
		_ = s.r.Close()
	})
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan []byte { return s.frames }

// Err implements [audio.Stream]. After the context passed at open time is
// cancelled it returns the context's error.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Stream]. It blocks until the reader goroutine has
// exited.
func (s *Stream) Close() error {
	s.cancel()
	s.shutdown(nil)
	<-s.exited
	return nil
}

var _ audio.Stream = (*Stream)(nil)

// Reader is an [audio.Source] over a single [io.ReadCloser]. The first Open
// consumes it; later calls fail with [ErrConsumed].
type Reader struct {
	frameSize int

	mu sync.Mutex
	r  io.ReadCloser
}

// ErrConsumed is returned by [Reader.Open] once its reader has been handed
// out.
var ErrConsumed = errors.New("source: reader already consumed")

// NewReader returns a source that slices r into frames of frameSize bytes.
func NewReader(r io.ReadCloser, frameSize int) *Reader {
	return &Reader{r: r, frameSize: frameSize}
}

// Open implements [audio.Source].
func (s *Reader) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	r := s.r
	s.r = nil
	s.mu.Unlock()
	if r == nil {
		return nil, ErrConsumed
	}
	return NewReaderStream(ctx, r, s.frameSize), nil
}

var _ audio.Source = (*Reader)(nil)
