package wire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	payloads := []json.RawMessage{
		json.RawMessage(`{"id":"r1","method":"tools/list"}`),
		json.RawMessage(`{"nested":{"a":[1,2,3]},"s":"héllo"}`),
		json.RawMessage(`[]`),
		nil,
	}
	for _, mode := range []Mode{ModeBinary, ModeText} {
		c := NewCodec(mode)
		for ft := TypeHandshake; ft <= TypePong; ft++ {
			for _, p := range payloads {
				var in any
				if p != nil {
					in = p
				}
				b, err := c.Encode(ft, in)
				if err != nil {
					t.Fatalf("mode %d type %d encode: %v", mode, ft, err)
				}
				f, err := c.Decode(b)
				if err != nil {
					t.Fatalf("mode %d type %d decode: %v", mode, ft, err)
				}
				if f.Type != ft {
					t.Fatalf("type mismatch: got %d want %d", f.Type, ft)
				}
				if string(f.Payload) != string(p) {
					t.Fatalf("payload mismatch: got %q want %q", f.Payload, p)
				}
			}
		}
	}
}

func TestCodecBinaryLayout(t *testing.T) {
	c := NewCodec(ModeBinary)
	b, err := c.EncodeRequest(Request{ID: "r1", Method: "ping"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(b[:4]) != "TBWR" {
		t.Fatalf("bad magic: %q", b[:4])
	}
	if FrameType(b[4]) != TypeRequest {
		t.Fatalf("bad type byte: %d", b[4])
	}
	if !json.Valid(b[5:]) {
		t.Fatalf("payload not json: %q", b[5:])
	}
}

func TestCodecRejectsBadMagic(t *testing.T) {
	c := NewCodec(ModeBinary)
	b, _ := c.EncodeRequest(Request{ID: "r1", Method: "ping"})
	b[0] = 'X'
	_, err := c.Decode(b)
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError got %v", err)
	}
}

func TestCodecRejectsMalformed(t *testing.T) {
	cases := map[Mode][]byte{
		ModeBinary: append(append([]byte{}, Magic[:]...), byte(TypeRequest), '{', 'x'),
		ModeText:   []byte(`{"t":3,"d":`),
	}
	for mode, data := range cases {
		if _, err := NewCodec(mode).Decode(data); err == nil {
			t.Fatalf("mode %d: expected error", mode)
		}
	}
	if _, err := NewCodec(ModeBinary).Decode([]byte("TBW")); err == nil {
		t.Fatalf("expected error on short frame")
	}
	if _, err := NewCodec(ModeText).Decode([]byte(`{"t":99,"d":{}}`)); err == nil {
		t.Fatalf("expected error on unknown type")
	}
}

func TestCodecModesDiffer(t *testing.T) {
	req := Request{ID: "a", Method: "m"}
	bin, _ := NewCodec(ModeBinary).EncodeRequest(req)
	txt, _ := NewCodec(ModeText).EncodeRequest(req)
	if json.Valid(bin) {
		t.Fatalf("binary frame should not be bare json")
	}
	var tf struct {
		T int             `json:"t"`
		D json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(txt, &tf); err != nil {
		t.Fatalf("text frame: %v", err)
	}
	if tf.T != int(TypeRequest) {
		t.Fatalf("text frame type: %d", tf.T)
	}
}
