package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
)

// ffmpeg prints one of these when the input has no stream for -map 0:a:0.
var noAudioMarkers = []string{
	"matches no streams",
	"does not contain any stream",
}

// Option is a functional option for configuring an [FFmpeg] source.
type Option func(*FFmpeg)

// WithBinary sets the ffmpeg executable. Default: "ffmpeg".
func WithBinary(path string) Option {
	return func(f *FFmpeg) {
		if path != "" {
			f.binary = path
		}
	}
}

// WithSocketTimeout sets the RTSP socket I/O timeout. Default: 5s.
func WithSocketTimeout(d time.Duration) Option {
	return func(f *FFmpeg) {
		if d > 0 {
			f.socketTimeout = d
		}
	}
}

// WithStderrTail sets how many bytes of ffmpeg's stderr are kept for error
// reports. Default: 4096.
func WithStderrTail(n int) Option {
	return func(f *FFmpeg) {
		if n > 0 {
			f.stderrTail = n
		}
	}
}

// FFmpeg is an [audio.Source] that runs one ffmpeg process per stream,
// decoding the first audio track of the input to mono s16le on stdout.
type FFmpeg struct {
	input         string
	format        audio.Format
	frameSize     int
	binary        string
	socketTimeout time.Duration
	stderrTail    int
}

// NewFFmpeg returns a source for input (an RTSP URL or any ffmpeg input)
// producing frames of frameDuration at format's sample rate.
func NewFFmpeg(input string, format audio.Format, frameDuration time.Duration, opts ...Option) (*FFmpeg, error) {
	if input == "" {
		return nil, errors.New("source: input must not be empty")
	}
	if format.SampleRate <= 0 || format.Channels != 1 || format.SampleWidth != audio.SampleWidth {
		return nil, fmt.Errorf("source: unsupported format %s", format)
	}
	frameSize := audio.FrameSize(format.SampleRate, frameDuration)
	if frameSize <= 0 {
		return nil, fmt.Errorf("source: frame duration %v yields no samples at %d Hz", frameDuration, format.SampleRate)
	}
	f := &FFmpeg{
		input:         input,
		format:        format,
		frameSize:     frameSize,
		binary:        "ffmpeg",
		socketTimeout: 5 * time.Second,
		stderrTail:    4096,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// FrameSize returns the size in bytes of the frames this source delivers.
func (f *FFmpeg) FrameSize() int { return f.frameSize }

// Args returns the ffmpeg command line, without the binary.
func (f *FFmpeg) Args() []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if isRTSP(f.input) {
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", strconv.FormatInt(f.socketTimeout.Microseconds(), 10),
		)
	}
	return append(args,
		"-i", f.input,
		"-map", "0:a:0",
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(f.format.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	)
}

// Open implements [audio.Source]. It starts a new ffmpeg process; the process
// is killed when the stream is closed or ctx is cancelled.
func (f *FFmpeg) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(f.binary, f.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("source: stdout pipe: %w", err)
	}
	stderr := newTail(f.stderrTail)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("source: start %s: %w", f.binary, err)
	}
	started := time.Now()
	slog.Debug("ffmpeg started", "pid", cmd.Process.Pid, "input", RedactURL(f.input))

	finish := func(readErr error) error {
		waitErr := cmd.Wait()
		tail := stderr.String()
		slog.Debug("ffmpeg exited",
			"pid", cmd.Process.Pid,
			"uptime", time.Since(started).Round(time.Millisecond),
			"wait_err", waitErr,
		)
		return exitError(readErr, waitErr, tail)
	}
	stop := func() {
		_ = cmd.Process.Kill()
	}
	return newStream(ctx, stdout, f.frameSize, finish, stop), nil
}

var _ audio.Source = (*FFmpeg)(nil)

// exitError explains why ffmpeg's output ended.
func exitError(readErr, waitErr error, stderr string) error {
	for _, m := range noAudioMarkers {
		if strings.Contains(stderr, m) {
			return audio.ErrNoAudioTrack
		}
	}
	if waitErr != nil {
		if stderr != "" {
			return fmt.Errorf("source: ffmpeg: %w: %s", waitErr, stderr)
		}
		return fmt.Errorf("source: ffmpeg: %w", waitErr)
	}
	if errors.Is(readErr, io.EOF) {
		return fmt.Errorf("source: ffmpeg output ended: %w", io.EOF)
	}
	return fmt.Errorf("source: read ffmpeg output: %w", readErr)
}

func isRTSP(input string) bool {
	u, err := url.Parse(input)
	if err != nil {
		return false
	}
	return u.Scheme == "rtsp" || u.Scheme == "rtsps"
}

// RedactURL hides credentials embedded in a stream URL for logging.
func RedactURL(input string) string {
	u, err := url.Parse(input)
	if err != nil || u.User == nil {
		return input
	}
	return u.Redacted()
}

// tail keeps the last max bytes written to it.
type tail struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}
