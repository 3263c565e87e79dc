// Package wyoming implements the framing of the Wyoming peer-to-peer voice
// protocol.
//
// Every event on the wire is a single-line UTF-8 JSON header terminated by
// '\n', followed by exactly data_length bytes of JSON event data and then
// payload_length bytes of binary payload:
//
//	{"type":"audio-chunk","version":"1.5.2","data_length":42,"payload_length":2048}\n
//	{"rate":16000,"width":2,"channels":1}<2048 bytes of PCM>
//
// The package is transport-agnostic: [WriteEvent] and [ReadEvent] operate on
// any io.Writer / *bufio.Reader, so the same code serves TCP connections,
// net.Pipe pairs in tests and in-memory buffers.
package wyoming

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ProtocolVersion is written into the header of every outgoing event.
const ProtocolVersion = "1.5.2"

// MaxHeaderSize bounds the header line. Longer lines are rejected as
// malformed so a misbehaving peer cannot make the reader buffer without limit.
const MaxHeaderSize = 1 << 20

// Upper bounds for the peer-declared data and payload lengths. Larger
// sections are rejected as malformed before anything is allocated.
const (
	MaxDataSize    = 1 << 20
	MaxPayloadSize = 8 << 20
)

var (
	// ErrClosed is returned by ReadEvent when the peer closed the connection
	// at an event boundary or in the middle of an event.
	ErrClosed = errors.New("wyoming: connection closed")

	// ErrMalformed is returned by ReadEvent for headers or data sections that
	// cannot be decoded.
	ErrMalformed = errors.New("wyoming: malformed event")
)

// Event is one protocol message.
type Event struct {
	// Type is the event type, e.g. "audio-chunk" or "transcript".
	Type string

	// Data holds the decoded JSON data section. It is nil when the event has
	// no data.
	Data map[string]any

	// Payload is the binary payload. It is nil when the event has none.
	Payload []byte
}

// header is the JSON line that precedes every event.
type header struct {
	Type          string         `json:"type"`
	Version       string         `json:"version,omitempty"`
	DataLength    int            `json:"data_length,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// WriteEvent encodes ev onto w as header, data and payload. The three parts
// are assembled into a single buffer so that each event reaches the
// connection with one Write call.
func WriteEvent(w io.Writer, ev Event) error {
	if ev.Type == "" {
		return errors.New("wyoming: write event: empty type")
	}

	var data []byte
	if len(ev.Data) > 0 {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("wyoming: encode %s data: %w", ev.Type, err)
		}
	}

	hdr, err := json.Marshal(header{
		Type:          ev.Type,
		Version:       ProtocolVersion,
		DataLength:    len(data),
		PayloadLength: len(ev.Payload),
	})
	if err != nil {
		return fmt.Errorf("wyoming: encode %s header: %w", ev.Type, err)
	}

	buf := make([]byte, 0, len(hdr)+1+len(data)+len(ev.Payload))
	buf = append(buf, hdr...)
	buf = append(buf, '\n')
	buf = append(buf, data...)
	buf = append(buf, ev.Payload...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wyoming: write %s: %w", ev.Type, err)
	}
	return nil
}

// ReadEvent reads one complete event from r. It blocks until the header and
// every declared data and payload byte have arrived.
//
// End of stream, whether between events or inside one, yields [ErrClosed].
// Oversized or undecodable headers and data sections yield [ErrMalformed].
// Any other read error is returned wrapped.
func ReadEvent(r *bufio.Reader) (Event, error) {
	line, err := readLine(r)
	if err != nil {
		return Event{}, err
	}

	var hdr header
	if err := json.Unmarshal(line, &hdr); err != nil {
		return Event{}, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if hdr.Type == "" {
		return Event{}, fmt.Errorf("%w: header without type", ErrMalformed)
	}
	if hdr.DataLength < 0 || hdr.PayloadLength < 0 {
		return Event{}, fmt.Errorf("%w: negative length in %s header", ErrMalformed, hdr.Type)
	}
	if hdr.DataLength > MaxDataSize {
		return Event{}, fmt.Errorf("%w: %s data_length %d exceeds %d", ErrMalformed, hdr.Type, hdr.DataLength, MaxDataSize)
	}
	if hdr.PayloadLength > MaxPayloadSize {
		return Event{}, fmt.Errorf("%w: %s payload_length %d exceeds %d", ErrMalformed, hdr.Type, hdr.PayloadLength, MaxPayloadSize)
	}

	ev := Event{Type: hdr.Type, Data: hdr.Data}

	if hdr.DataLength > 0 {
		raw, err := readFull(r, hdr.DataLength)
		if err != nil {
			return Event{}, err
		}
		extra := make(map[string]any)
		if err := json.Unmarshal(raw, &extra); err != nil {
			return Event{}, fmt.Errorf("%w: %s data: %v", ErrMalformed, hdr.Type, err)
		}
		// Data declared in the header (older peers) is merged with the
		// separate data section; the section wins on conflicts.
		if ev.Data == nil {
			ev.Data = extra
		} else {
			for k, v := range extra {
				ev.Data[k] = v
			}
		}
	}

	if hdr.PayloadLength > 0 {
		payload, err := readFull(r, hdr.PayloadLength)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = payload
	}
	return ev, nil
}

// readLine reads the newline-terminated header line without the terminator.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > MaxHeaderSize+1 {
			return nil, fmt.Errorf("%w: header exceeds %d bytes", ErrMalformed, MaxHeaderSize)
		}
		line = append(line, chunk...)
		switch {
		case err == nil:
			line = bytes.TrimRight(line, "\r\n")
			if len(line) == 0 {
				return nil, fmt.Errorf("%w: empty header line", ErrMalformed)
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return nil, ErrClosed
		default:
			return nil, fmt.Errorf("wyoming: read header: %w", err)
		}
	}
}

// readFull reads exactly n bytes, looping over short reads.
func readFull(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("wyoming: read body: %w", err)
	}
	return buf, nil
}
