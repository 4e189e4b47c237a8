package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Magic is the fixed 4-byte tag that prefixes every binary-mode frame.
var Magic = [4]byte{'T', 'B', 'W', 'R'}

// Mode selects the frame encoding.
type Mode int

const (
	// ModeBinary frames are [4-byte magic][1-byte type][UTF-8 JSON payload].
	ModeBinary Mode = iota
	// ModeText frames are a JSON object {"t": <type>, "d": <payload>}.
	ModeText
)

// Codec encodes and decodes frames in one mode. It holds no other state and
// performs no I/O.
type Codec struct {
	mode Mode
}

// NewCodec returns a codec for the given mode.
func NewCodec(mode Mode) *Codec { return &Codec{mode: mode} }

// Mode reports the encoding mode chosen at construction.
func (c *Codec) Mode() Mode { return c.mode }

type textFrame struct {
	T FrameType       `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// Encode marshals payload and wraps it in a frame of the given type.
// A nil payload encodes an empty payload (used by ping/pong).
func (c *Codec) Encode(t FrameType, payload any) ([]byte, error) {
	if !t.valid() {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown frame type %d", t)}
	}
	var body json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, &ProtocolError{Reason: "unencodable payload", Err: err}
		}
		body = b
	}
	if c.mode == ModeText {
		return json.Marshal(textFrame{T: t, D: body})
	}
	buf := make([]byte, 0, len(Magic)+1+len(body))
	buf = append(buf, Magic[:]...)
	buf = append(buf, byte(t))
	buf = append(buf, body...)
	return buf, nil
}

// Decode parses a frame produced by Encode in the same mode.
func (c *Codec) Decode(data []byte) (Frame, error) {
	if c.mode == ModeText {
		var tf textFrame
		if err := json.Unmarshal(data, &tf); err != nil {
			return Frame{}, &ProtocolError{Reason: "malformed text frame", Err: err}
		}
		if !tf.T.valid() {
			return Frame{}, &ProtocolError{Reason: fmt.Sprintf("unknown frame type %d", tf.T)}
		}
		return Frame{Type: tf.T, Payload: tf.D}, nil
	}
	if len(data) < len(Magic)+1 {
		return Frame{}, &ProtocolError{Reason: "frame too short"}
	}
	if !bytes.Equal(data[:len(Magic)], Magic[:]) {
		return Frame{}, &ProtocolError{Reason: "magic mismatch"}
	}
	t := FrameType(data[len(Magic)])
	if !t.valid() {
		return Frame{}, &ProtocolError{Reason: fmt.Sprintf("unknown frame type %d", t)}
	}
	body := data[len(Magic)+1:]
	if len(body) > 0 && !json.Valid(body) {
		return Frame{}, &ProtocolError{Reason: "malformed payload"}
	}
	var payload json.RawMessage
	if len(body) > 0 {
		payload = json.RawMessage(bytes.Clone(body))
	}
	return Frame{Type: t, Payload: payload}, nil
}

// Convenience encoders. They carry no protocol logic beyond shape.

func (c *Codec) EncodeHandshake(h Handshake) ([]byte, error) {
	return c.Encode(TypeHandshake, h)
}

func (c *Codec) EncodeHandshakeResponse(hr HandshakeResponse) ([]byte, error) {
	return c.Encode(TypeHandshakeResponse, hr)
}

func (c *Codec) EncodeRequest(req Request) ([]byte, error) {
	return c.Encode(TypeRequest, req)
}

func (c *Codec) EncodeResponse(resp Response) ([]byte, error) {
	return c.Encode(TypeResponse, resp)
}

func (c *Codec) EncodeStream(payload json.RawMessage) ([]byte, error) {
	return c.Encode(TypeStream, payload)
}

func (c *Codec) EncodePing() ([]byte, error) { return c.Encode(TypePing, nil) }
func (c *Codec) EncodePong() ([]byte, error) { return c.Encode(TypePong, nil) }
