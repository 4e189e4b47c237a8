package wire

import "encoding/json"

// FrameType enumerates the protocol frame types.
type FrameType byte

const (
	TypeHandshake         FrameType = 1
	TypeHandshakeResponse FrameType = 2
	TypeRequest           FrameType = 3
	TypeResponse          FrameType = 4
	TypeStream            FrameType = 5
	TypePing              FrameType = 6
	TypePong              FrameType = 7
)

func (t FrameType) valid() bool {
	return t >= TypeHandshake && t <= TypePong
}

func (t FrameType) String() string {
	switch t {
	case TypeHandshake:
		return "handshake"
	case TypeHandshakeResponse:
		return "handshake_response"
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeStream:
		return "stream"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	}
	return "unknown"
}

// Frame is the logical envelope carried on the wire in either encoding mode.
type Frame struct {
	Type    FrameType
	Payload json.RawMessage
}

// ClientType identifies the role of a connecting peer.
type ClientType int

const (
	ClientMcpServer ClientType = 0
	ClientMcpClient ClientType = 1
	ClientExtension ClientType = 2
	ClientAgent     ClientType = 3
)

// Handshake is sent by the initiator immediately after the transport opens.
type Handshake struct {
	Version      string            `json:"version"`
	ClientType   ClientType        `json:"clientType"`
	ClientID     string            `json:"clientId"`
	Capabilities []string          `json:"capabilities"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HandshakeResponse gates whether the session becomes usable.
type HandshakeResponse struct {
	Accepted      bool     `json:"accepted"`
	ClientID      string   `json:"clientId"`
	ServerVersion string   `json:"serverVersion"`
	Capabilities  []string `json:"capabilities"`
	Error         string   `json:"error,omitempty"`
}

// Request carries a method call correlated by a caller-chosen id.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ErrorBody is the peer-assigned error shape inside a Response.
type ErrorBody struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response answers exactly one Request; exactly one of Result/Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}
