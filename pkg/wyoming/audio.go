package wyoming

import (
	"fmt"
	"strings"

	"github.com/JunioDutra/rtsp-to-wyoming/pkg/audio"
)

// Event types used by the ASR exchange.
const (
	TypeAudioStart = "audio-start"
	TypeAudioChunk = "audio-chunk"
	TypeAudioStop  = "audio-stop"
	TypeTranscribe = "transcribe"
	TypeTranscript = "transcript"
)

func formatData(f audio.Format) map[string]any {
	return map[string]any{
		"rate":     f.SampleRate,
		"width":    f.SampleWidth,
		"channels": f.Channels,
	}
}

// AudioStart announces the format of the audio that follows.
func AudioStart(f audio.Format) Event {
	return Event{Type: TypeAudioStart, Data: formatData(f)}
}

// AudioChunk carries one slice of PCM. Every chunk repeats the format.
func AudioChunk(f audio.Format, pcm []byte) Event {
	return Event{Type: TypeAudioChunk, Data: formatData(f), Payload: pcm}
}

// AudioStop marks the end of the audio stream.
func AudioStop() Event {
	return Event{Type: TypeAudioStop}
}

// Transcribe asks the server to transcribe the next audio stream. language
// may be empty to let the server decide.
func Transcribe(language string) Event {
	ev := Event{Type: TypeTranscribe}
	if language != "" {
		ev.Data = map[string]any{"language": language}
	}
	return ev
}

// Transcript builds a transcript result event.
func Transcript(text string) Event {
	return Event{Type: TypeTranscript, Data: map[string]any{"text": text}}
}

// ParseFormat extracts rate, width and channels from an audio event.
func ParseFormat(ev Event) (audio.Format, error) {
	rate, ok1 := intField(ev.Data, "rate")
	width, ok2 := intField(ev.Data, "width")
	channels, ok3 := intField(ev.Data, "channels")
	if !ok1 || !ok2 || !ok3 {
		return audio.Format{}, fmt.Errorf("%w: %s without complete audio format", ErrMalformed, ev.Type)
	}
	return audio.Format{SampleRate: rate, SampleWidth: width, Channels: channels}, nil
}

// TranscriptText returns the text of a transcript event with surrounding
// whitespace removed. ok is false when ev is not a transcript.
func TranscriptText(ev Event) (text string, ok bool) {
	if ev.Type != TypeTranscript {
		return "", false
	}
	s, _ := ev.Data["text"].(string)
	return strings.TrimSpace(s), true
}

// ChunkPCM splits pcm into audio-chunk events of at most samples samples
// each. The final chunk may be shorter.
func ChunkPCM(f audio.Format, pcm []byte, samples int) []Event {
	if len(pcm) == 0 {
		return nil
	}
	size := samples * f.SampleWidth * f.Channels
	if size <= 0 {
		size = len(pcm)
	}
	events := make([]Event, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		events = append(events, AudioChunk(f, pcm[off:end]))
	}
	return events
}

// intField reads a JSON number as an int. encoding/json decodes numbers into
// float64 when the target is map[string]any.
func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
