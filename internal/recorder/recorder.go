// Package recorder writes utterances to WAV files for debugging segmentation
// and transcription quality.
//
// Files are named "<timestamp>-<seq>-<cause>.wav" so a directory listing sorts
// chronologically. When a retention limit is set, the oldest recordings are
// removed after each write.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
)

// wavFormatPCM is the WAVE format tag for uncompressed PCM.
const wavFormatPCM = 1

// Option is a functional option for configuring a [Recorder].
type Option func(*Recorder)

// WithMaxFiles keeps at most n recordings in the directory. 0 keeps all.
func WithMaxFiles(n int) Option {
	return func(r *Recorder) {
		if n >= 0 {
			r.maxFiles = n
		}
	}
}

// WithClock overrides the timestamp source used for file names.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// Recorder writes WAV files into a directory of an [afero.Fs]. It is safe for
// concurrent use.
type Recorder struct {
	fs       afero.Fs
	dir      string
	maxFiles int
	now      func() time.Time

	mu  sync.Mutex
	seq int
}

// New creates dir on fs if needed and returns a [Recorder] writing into it.
func New(fs afero.Fs, dir string, opts ...Option) (*Recorder, error) {
	if dir == "" {
		return nil, errors.New("recorder: directory must not be empty")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create %q: %w", dir, err)
	}
	r := &Recorder{
		fs:       fs,
		dir:      dir,
		maxFiles: 200,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Record writes pcm as a WAV file and returns its path. cause ends up in the
// file name.
func (r *Recorder) Record(pcm []byte, format audio.Format, cause string) (string, error) {
	if format.SampleWidth != audio.SampleWidth || format.Channels < 1 {
		return "", fmt.Errorf("recorder: unsupported format %s", format)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	name := fmt.Sprintf("%s-%04d-%s.wav", r.now().UTC().Format("20060102T150405.000"), r.seq, sanitize(cause))
	p := path.Join(r.dir, name)

	if err := r.write(p, pcm, format); err != nil {
		_ = r.fs.Remove(p)
		return "", err
	}
	if err := r.prune(); err != nil {
		slog.Warn("recorder: prune failed", "dir", r.dir, "err", err)
	}
	return p, nil
}

func (r *Recorder) write(p string, pcm []byte, format audio.Format) error {
	f, err := r.fs.Create(p)
	if err != nil {
		return fmt.Errorf("recorder: create %q: %w", p, err)
	}
	defer f.Close()

	bitDepth := format.SampleWidth * 8
	enc := wav.NewEncoder(f, format.SampleRate, bitDepth, format.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Data: audio.Samples(pcm),
		Format: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("recorder: encode %q: %w", p, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("recorder: finalize %q: %w", p, err)
	}
	return nil
}

// prune removes the oldest recordings beyond maxFiles. Must be called with
// r.mu held.
func (r *Recorder) prune() error {
	if r.maxFiles == 0 {
		return nil
	}
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".wav") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= r.maxFiles {
		return nil
	}
	slices.Sort(names)
	var errs []error
	for _, n := range names[:len(names)-r.maxFiles] {
		if err := r.fs.Remove(path.Join(r.dir, n)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, s)
	if s == "" {
		return "utterance"
	}
	return s
}
