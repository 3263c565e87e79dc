// Package wyoming provides an STT provider that talks to a Wyoming ASR server
// (for example wyoming-faster-whisper) over TCP.
//
// Each call to Transcribe streams one utterance as
//
//	[transcribe] → audio-start → audio-chunk… → audio-stop
//
// and then waits for a transcript event. The TCP connection is kept open and
// reused across calls while it stays healthy. Any timeout, protocol error or
// close without result drops it, and the next call dials again.
//
// Usage:
//
//	c, err := wyoming.New("core-whisper:10300",
//	    wyoming.WithLanguage("pt"),
//	    wyoming.WithChunkSamples(1024),
//	)
//	text, err := c.Transcribe(ctx, pcm, audio.Mono16(16000))
//	defer c.Close()
package wyoming

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/stt"
	wire "github.com/JunioDutra/rtsp-to-wyoming/pkg/wyoming"
)

// Compile-time assertion that Client implements stt.Transcriber.
var _ stt.Transcriber = (*Client)(nil)

const (
	defaultChunkSamples = 1024
	defaultMinTimeout   = 30 * time.Second
	defaultMaxTimeout   = 60 * time.Second
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// ConnState is the state of the client's connection.
type ConnState int32

const (
	// Disconnected means no connection is open; the next call dials.
	Disconnected ConnState = iota

	// Connected means an idle connection is open and will be reused.
	Connected

	// AwaitingResult means audio has been sent and the client is waiting for
	// the transcript.
	AwaitingResult
)

// String returns the lower-case name of the state.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case AwaitingResult:
		return "awaiting_result"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// ResponseTimeout returns how long to wait for a transcript of audio lasting
// d: half the audio duration, clamped to [lo, hi].
func ResponseTimeout(d, lo, hi time.Duration) time.Duration {
	return min(max(d/2, lo), hi)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithChunkSamples sets the number of samples carried by each audio-chunk
// event. Defaults to 1024.
func WithChunkSamples(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSamples = n
		}
	}
}

// WithTimeoutBounds sets the lower and upper bound of the response timeout.
// Defaults to 30 s and 60 s.
func WithTimeoutBounds(lo, hi time.Duration) Option {
	return func(c *Client) {
		c.minTimeout = lo
		c.maxTimeout = hi
	}
}

// WithLanguage makes the client send a transcribe event carrying lang before
// each utterance. When empty (the default) no transcribe event is sent and
// the server uses its configured language.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithDialTimeout bounds how long establishing the TCP connection may take.
// Defaults to 5 s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// Client implements stt.Transcriber for a Wyoming ASR server. Calls to
// Transcribe are serialized; the connection is never used concurrently.
type Client struct {
	addr         string
	chunkSamples int
	minTimeout   time.Duration
	maxTimeout   time.Duration
	language     string
	dialTimeout  time.Duration

	mu   sync.Mutex // serializes Transcribe and guards conn/r
	conn net.Conn
	r    *bufio.Reader

	state atomic.Int32
}

// New creates a Client for the Wyoming server at addr ("host:port"). No
// connection is made until the first Transcribe call.
func New(addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("wyoming: address must not be empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("wyoming: invalid address %q: %w", addr, err)
	}
	c := &Client{
		addr:         addr,
		chunkSamples: defaultChunkSamples,
		minTimeout:   defaultMinTimeout,
		maxTimeout:   defaultMaxTimeout,
		dialTimeout:  defaultDialTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.minTimeout <= 0 || c.maxTimeout < c.minTimeout {
		return nil, fmt.Errorf("wyoming: invalid timeout bounds [%v, %v]", c.minTimeout, c.maxTimeout)
	}
	return c, nil
}

// Addr returns the server address.
func (c *Client) Addr() string { return c.addr }

// State returns the current connection state.
func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// Transcribe implements stt.Transcriber.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (string, error) {
	if len(pcm) == 0 {
		return "", errors.New("wyoming: transcribe: empty audio")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("wyoming: transcribe: %w", err)
	}

	if err := c.sendWithRedial(ctx, pcm, format); err != nil {
		c.dropLocked()
		return "", err
	}

	d := format.Duration(len(pcm))
	timeout := ResponseTimeout(d, c.minTimeout, c.maxTimeout)
	slog.Debug("wyoming: audio sent, waiting for transcript",
		"bytes", len(pcm),
		"duration", d,
		"timeout", timeout,
	)

	text, err := c.awaitTranscript(ctx, timeout)
	if err != nil {
		c.dropLocked()
		return "", err
	}
	c.state.Store(int32(Connected))
	return text, nil
}

// sendWithRedial writes the utterance. A write failure on a reused connection
// usually means the server closed it while idle, so the client dials once more
// and retries before giving up.
func (c *Client) sendWithRedial(ctx context.Context, pcm []byte, format audio.Format) error {
	reused := c.conn != nil
	if !reused {
		if err := c.dialLocked(ctx); err != nil {
			return err
		}
	}
	err := c.send(ctx, pcm, format)
	if err == nil || !reused || ctx.Err() != nil {
		return err
	}

	slog.Debug("wyoming: reused connection failed, redialing", "addr", c.addr, "err", err)
	c.dropLocked()
	if err := c.dialLocked(ctx); err != nil {
		return err
	}
	return c.send(ctx, pcm, format)
}

func (c *Client) dialLocked(ctx context.Context) error {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("wyoming: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	c.state.Store(int32(Connected))
	slog.Debug("wyoming: connected", "addr", c.addr)
	return nil
}

// send streams the event sequence for one utterance.
func (c *Client) send(ctx context.Context, pcm []byte, format audio.Format) error {
	conn := c.conn
	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("wyoming: set write deadline: %w", err)
	}
	// Registered after the deadline is set so a cancellation always wins.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	events := make([]wire.Event, 0, 3+len(pcm)/max(c.chunkSamples*format.SampleWidth*format.Channels, 1))
	if c.language != "" {
		events = append(events, wire.Transcribe(c.language))
	}
	events = append(events, wire.AudioStart(format))
	events = append(events, wire.ChunkPCM(format, pcm, c.chunkSamples)...)
	events = append(events, wire.AudioStop())

	for _, ev := range events {
		if err := wire.WriteEvent(conn, ev); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("wyoming: send: %w", ctxErr)
			}
			return fmt.Errorf("wyoming: send: %w", err)
		}
	}
	slog.Debug("wyoming: utterance sent", "chunks", len(events)-2, "bytes", len(pcm))
	return nil
}

// awaitTranscript reads events until a transcript arrives. Other event types
// are skipped.
func (c *Client) awaitTranscript(ctx context.Context, timeout time.Duration) (string, error) {
	c.state.Store(int32(AwaitingResult))
	conn := c.conn
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("wyoming: set read deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("wyoming: await transcript: %w", err)
	}

	for {
		ev, err := wire.ReadEvent(c.r)
		if err != nil {
			return "", c.readError(ctx, err, timeout)
		}
		text, ok := wire.TranscriptText(ev)
		if !ok {
			slog.Debug("wyoming: ignoring event", "type", ev.Type)
			continue
		}
		if err := conn.SetDeadline(time.Time{}); err != nil {
			return "", fmt.Errorf("wyoming: clear deadline: %w", err)
		}
		return text, nil
	}
}

func (c *Client) readError(ctx context.Context, err error, timeout time.Duration) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("wyoming: await transcript: %w", ctxErr)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		slog.Warn("wyoming: timed out waiting for transcript", "timeout", timeout)
		return fmt.Errorf("wyoming: after %v: %w", timeout, stt.ErrTimeout)
	}
	if errors.Is(err, wire.ErrClosed) {
		return fmt.Errorf("wyoming: await transcript: %w", stt.ErrNoResult)
	}
	return fmt.Errorf("wyoming: await transcript: %w", err)
}

// dropLocked closes the connection and returns the client to Disconnected.
func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.r = nil
	c.state.Store(int32(Disconnected))
}

// Close closes the connection, if any. The client remains usable; the next
// Transcribe call dials again.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}
