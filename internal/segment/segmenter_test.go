package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad"
	vadmock "github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad/mock"
)

const (
	testRate      = 16000
	testFrameDur  = 30 * time.Millisecond
	testFrameSize = 960
)

// frame returns a 30 ms frame at 16 kHz filled with a constant sample value,
// with the first sample set to tag so frames are distinguishable.
func frame(amp int16, tag int16) []byte {
	out := make([]byte, testFrameSize)
	for i := 0; i < testFrameSize/2; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amp))
	}
	binary.LittleEndian.PutUint16(out, uint16(tag))
	return out
}

// vadBySpeechMap returns a mock session that reports speech for the call
// indices in speech.
func vadBySpeechMap(speech func(i int) bool) *vadmock.Session {
	return &vadmock.Session{
		Script: func(i int, _ []byte) (vad.VADEvent, error) {
			if speech(i) {
				return vad.Speech, nil
			}
			return vad.Silence, nil
		},
	}
}

func newSegmenter(t *testing.T, sess vad.SessionHandle, cfg Config) *Segmenter {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = testRate
	}
	if cfg.FrameDuration == 0 {
		cfg.FrameDuration = testFrameDur
	}
	s, err := New(sess, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSegmenter_SpeechThenSilenceScenario(t *testing.T) {
	t.Parallel()

	// Frames 1–10 speech, 11–40 silence.
	sess := vadBySpeechMap(func(i int) bool { return i < 10 })
	var ends []EndCause
	s := newSegmenter(t, sess, Config{
		MinEnergy:        DefaultMinEnergy,
		MaxSilenceFrames: 30,
		OnEnd:            func(c EndCause, _ int, _ time.Duration) { ends = append(ends, c) },
	})

	var want []byte
	for n := 1; n <= 40; n++ {
		f := frame(2000, int16(n))
		want = append(want, f...)
		got, err := s.AddFrame(f)
		if err != nil {
			t.Fatalf("frame %d: %v", n, err)
		}
		if n < 40 && got != nil {
			t.Fatalf("utterance emitted early at frame %d", n)
		}
		if n == 40 {
			if got == nil {
				t.Fatal("no utterance after frame 40")
			}
			if len(got) != 40*testFrameSize {
				t.Fatalf("utterance length = %d, want %d", len(got), 40*testFrameSize)
			}
			if !bytes.Equal(got, want) {
				t.Fatal("utterance bytes differ from the concatenated frames")
			}
		}
	}

	if s.Speaking() || len(s.buffer) != 0 || s.silenceRun != 0 || s.speechRun != 0 {
		t.Error("segmenter not idle after finalization")
	}
	if len(ends) != 1 || ends[0] != CauseSilence {
		t.Errorf("end causes = %v, want [silence]", ends)
	}
}

func TestSegmenter_LengthMatchesSpeechPlusSilenceRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		speech     int
		maxSilence int
	}{
		{"single speech frame", 1, 3},
		{"short", 5, 5},
		{"long", 120, 30},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sess := vadBySpeechMap(func(i int) bool { return i >= 2 && i < 2+tc.speech })
			s := newSegmenter(t, sess, Config{MaxSilenceFrames: tc.maxSilence})

			var got [][]byte
			// Two leading idle frames, the speech run, then a long silence.
			total := 2 + tc.speech + tc.maxSilence + 20
			for i := 0; i < total; i++ {
				u, err := s.AddFrame(frame(2000, int16(i)))
				if err != nil {
					t.Fatalf("frame %d: %v", i, err)
				}
				if u != nil {
					got = append(got, u)
				}
			}
			if len(got) != 1 {
				t.Fatalf("utterances = %d, want 1", len(got))
			}
			if want := (tc.speech + tc.maxSilence) * testFrameSize; len(got[0]) != want {
				t.Errorf("length = %d, want %d", len(got[0]), want)
			}
		})
	}
}

func TestSegmenter_ForcedCutoff(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{EventResult: vad.Speech}
	var causes []EndCause
	s := newSegmenter(t, sess, Config{
		MaxRecordingFrames: 50,
		MaxSilenceFrames:   30,
		OnEnd:              func(c EndCause, _ int, _ time.Duration) { causes = append(causes, c) },
	})

	var utterances [][]byte
	for i := 0; i < 75; i++ {
		u, err := s.AddFrame(frame(3000, int16(i)))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if u != nil {
			if i != 49 {
				t.Errorf("utterance at frame index %d, want 49", i)
			}
			utterances = append(utterances, u)
		}
	}
	if len(utterances) != 1 {
		t.Fatalf("utterances = %d, want exactly 1", len(utterances))
	}
	if len(utterances[0]) != 50*testFrameSize {
		t.Errorf("length = %d, want %d", len(utterances[0]), 50*testFrameSize)
	}
	if len(causes) != 1 || causes[0] != CauseMaxDuration {
		t.Errorf("causes = %v, want [max_duration]", causes)
	}
	// The 25 frames after the cutoff started a new utterance.
	if !s.Speaking() {
		t.Error("expected a new utterance in progress after the cutoff")
	}
}

func TestSegmenter_SilenceInsideSpeechDoesNotCountTowardCap(t *testing.T) {
	t.Parallel()

	// speech, silence, speech, silence … ; MaxRecordingFrames counts speech only.
	sess := vadBySpeechMap(func(i int) bool { return i%2 == 0 })
	s := newSegmenter(t, sess, Config{MaxRecordingFrames: 10, MaxSilenceFrames: 5})

	for i := 0; i < 19; i++ {
		u, err := s.AddFrame(frame(2000, 0))
		if err != nil {
			t.Fatal(err)
		}
		if i < 18 && u != nil {
			t.Fatalf("premature utterance at %d", i)
		}
		if i == 18 {
			if u == nil {
				t.Fatal("expected cutoff at the 10th speech frame")
			}
			if len(u) != 19*testFrameSize {
				t.Errorf("length = %d, want %d", len(u), 19*testFrameSize)
			}
		}
	}
}

func TestSegmenter_EnergyGate(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{EventResult: vad.Speech}
	s := newSegmenter(t, sess, Config{MinEnergy: 500, MaxSilenceFrames: 3})

	for i := 0; i < 100; i++ {
		u, err := s.AddFrame(frame(200, 0))
		if err != nil {
			t.Fatal(err)
		}
		if u != nil {
			t.Fatal("quiet frames produced an utterance")
		}
		if s.Speaking() || len(s.buffer) != 0 {
			t.Fatal("quiet frame started an utterance")
		}
	}

	// Quiet frames after speech count as silence.
	if _, err := s.AddFrame(frame(1000, 0)); err != nil {
		t.Fatal(err)
	}
	if !s.Speaking() {
		t.Fatal("loud frame did not start an utterance")
	}
	var u []byte
	for i := 0; i < 3; i++ {
		var err error
		if u, err = s.AddFrame(frame(100, 0)); err != nil {
			t.Fatal(err)
		}
	}
	if len(u) != 4*testFrameSize {
		t.Errorf("utterance length = %d, want %d", len(u), 4*testFrameSize)
	}
}

func TestSegmenter_VADFailureIsSpeech(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{ProcessFrameErr: errors.New("detector exploded")}
	if !classify(sess, frame(0, 0)) {
		t.Fatal("classify should fail open")
	}

	s := newSegmenter(t, sess, Config{MinEnergy: 0, MaxRecordingFrames: 3})
	var u []byte
	for i := 0; i < 3; i++ {
		var err error
		if u, err = s.AddFrame(frame(0, 0)); err != nil {
			t.Fatal(err)
		}
	}
	if len(u) != 3*testFrameSize {
		t.Errorf("utterance length = %d, want %d", len(u), 3*testFrameSize)
	}
}

func TestSegmenter_RejectsWrongFrameSize(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{EventResult: vad.Speech}
	s := newSegmenter(t, sess, Config{})

	for _, n := range []int{0, 959, 961, 1920} {
		_, err := s.AddFrame(make([]byte, n))
		if !errors.Is(err, ErrFrameSize) {
			t.Errorf("len %d: err = %v, want ErrFrameSize", n, err)
		}
	}
	if len(sess.ProcessFrameCalls) != 0 {
		t.Error("mismatched frames must not reach the detector")
	}
	if s.Speaking() {
		t.Error("rejected frame changed state")
	}
}

func TestSegmenter_ResetAndClose(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{EventResult: vad.Speech}
	s := newSegmenter(t, sess, Config{})
	for i := 0; i < 5; i++ {
		if _, err := s.AddFrame(frame(2000, 0)); err != nil {
			t.Fatal(err)
		}
	}
	s.Reset()
	if s.Speaking() || s.buffer != nil || s.speechRun != 0 || s.silenceRun != 0 {
		t.Fatal("Reset did not clear state")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("vad Close calls = %d, want 1", sess.CloseCallCount)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{}
	if _, err := New(nil, Config{SampleRate: testRate, FrameDuration: testFrameDur}); err == nil {
		t.Error("expected error for nil session")
	}
	if _, err := New(sess, Config{SampleRate: 0, FrameDuration: testFrameDur}); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := New(sess, Config{SampleRate: testRate, FrameDuration: 25 * time.Millisecond}); err == nil {
		t.Error("expected error for 25 ms frames")
	}
	s, err := New(sess, Config{SampleRate: testRate, FrameDuration: testFrameDur})
	if err != nil {
		t.Fatal(err)
	}
	if s.maxSilence != DefaultMaxSilenceFrames || s.maxRecording != DefaultMaxRecordingFrames {
		t.Errorf("defaults not applied: silence=%d recording=%d", s.maxSilence, s.maxRecording)
	}
	if s.FrameSize() != testFrameSize {
		t.Errorf("FrameSize = %d, want %d", s.FrameSize(), testFrameSize)
	}
}
