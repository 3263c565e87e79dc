package energy

import (
	"encoding/binary"
	"testing"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/provider/vad"
)

func constantFrame(n int, amp int16) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amp))
	}
	return out
}

func TestSession_Classification(t *testing.T) {
	t.Parallel()

	sess, err := New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.5})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	tests := []struct {
		name   string
		amp    int16
		speech bool
	}{
		{"silence", 0, false},
		{"quiet", 1000, false},
		{"at threshold", 1639, true},
		{"loud", 8000, true},
	}
	for _, tc := range tests {
		ev, err := sess.ProcessFrame(constantFrame(320, tc.amp))
		if err != nil {
			t.Fatalf("%s: ProcessFrame: %v", tc.name, err)
		}
		if ev.IsSpeech() != tc.speech {
			t.Errorf("%s: speech = %v, want %v (p=%.3f)", tc.name, ev.IsSpeech(), tc.speech, ev.Probability)
		}
	}
}

func TestSession_Errors(t *testing.T) {
	t.Parallel()

	if _, err := New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 15}); err == nil {
		t.Error("expected error for 15 ms frames")
	}

	sess, err := New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 10})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("expected frame size error")
	}
	_ = sess.Close()
	if _, err := sess.ProcessFrame(make([]byte, 320)); err == nil {
		t.Error("expected error after close")
	}
}

func TestProbability(t *testing.T) {
	t.Parallel()

	if got := Probability(0); got != 0 {
		t.Errorf("Probability(0) = %v", got)
	}
	if got := Probability(FullScaleRMS * 4); got != 1 {
		t.Errorf("Probability clamps to 1, got %v", got)
	}
}
