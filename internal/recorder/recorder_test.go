package recorder_test

import (
	"encoding/binary"
	"path"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/recorder"
	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// steppingClock advances one second per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 10, 16, 8, 30, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestRecord_WritesReadableWAV(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	rec, err := recorder.New(fs, "/data/utterances", recorder.WithClock(steppingClock()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	samples := []int16{0, 1000, -1000, 32767, -32768, 42}
	p, err := rec.Record(pcmOf(samples...), audio.Mono16(16000), "silence")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if want := "/data/utterances/20261016T083001.000-0001-silence.wav"; p != want {
		t.Errorf("path = %q, want %q", p, want)
	}

	f, err := fs.Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("header: rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("samples = %d, want %d", len(buf.Data), len(samples))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], s)
		}
	}
}

func TestRecord_PrunesOldest(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	rec, err := recorder.New(fs, "/rec", recorder.WithMaxFiles(2), recorder.WithClock(steppingClock()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var paths []string
	for _, cause := range []string{"silence", "max_duration", "window"} {
		p, err := rec.Record(pcmOf(1, 2, 3), audio.Mono16(16000), cause)
		if err != nil {
			t.Fatalf("Record(%s): %v", cause, err)
		}
		paths = append(paths, p)
	}

	entries, err := afero.ReadDir(fs, "/rec")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{path.Base(paths[1]), path.Base(paths[2])}
	slices.Sort(names)
	if !slices.Equal(names, want) {
		t.Errorf("files = %v, want %v", names, want)
	}
}

func TestRecord_SanitizesCause(t *testing.T) {
	t.Parallel()

	rec, _ := recorder.New(afero.NewMemMapFs(), "/rec", recorder.WithClock(steppingClock()))
	p, err := rec.Record(pcmOf(1), audio.Mono16(8000), "../Max Duration")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !strings.HasPrefix(p, "/rec/") || strings.Contains(path.Base(p), "/") || strings.Contains(p, "..") {
		t.Errorf("unsafe path %q", p)
	}
	if !strings.HasSuffix(p, "-___max_duration.wav") {
		t.Errorf("path = %q", p)
	}
}

func TestRecord_RejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()

	rec, _ := recorder.New(afero.NewMemMapFs(), "/rec")
	if _, err := rec.Record(pcmOf(1), audio.Format{SampleRate: 16000, SampleWidth: 4, Channels: 1}, "x"); err == nil {
		t.Error("expected error for 32-bit samples")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := recorder.New(afero.NewMemMapFs(), ""); err == nil {
		t.Error("expected error for empty dir")
	}
	if _, err := recorder.New(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/rec"); err == nil {
		t.Error("expected error for read-only fs")
	}
}
