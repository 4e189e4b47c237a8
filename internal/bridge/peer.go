package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/tabwire/tabwire/internal/logx"
	"github.com/tabwire/tabwire/internal/metrics"
	"github.com/tabwire/tabwire/internal/wire"
)

// Error codes assigned by the bridge itself. Codes carried in an agent reply
// pass through untouched.
const (
	codeNoAgent       = -32000
	codeTimeout       = -32001
	codeInvalidParams = -32602
	codeInternal      = -32603
)

// PeerWSHandler accepts framed upstream connections (aggregators and other
// clients): handshake first, then request/response frames. The encoding mode
// is sniffed per connection from the handshake frame, so binary and text
// peers can coexist on one endpoint.
func PeerWSHandler(r *Router, serverVersion string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		c, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		ctx := req.Context()
		defer c.Close(websocket.StatusInternalError, "server error")

		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		codec, f, err := sniffFrame(data)
		if err != nil || f.Type != wire.TypeHandshake {
			c.Close(websocket.StatusPolicyViolation, "expected handshake")
			return
		}
		var hs wire.Handshake
		if err := json.Unmarshal(f.Payload, &hs); err != nil {
			c.Close(websocket.StatusPolicyViolation, "malformed handshake")
			return
		}

		msgType := websocket.MessageText
		if codec.Mode() == wire.ModeBinary {
			msgType = websocket.MessageBinary
		}
		send := make(chan []byte, 32)
		go func() {
			for {
				select {
				case msg := <-send:
					if err := c.Write(ctx, msgType, msg); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		hr := wire.HandshakeResponse{
			Accepted:      true,
			ClientID:      hs.ClientID,
			ServerVersion: serverVersion,
			Capabilities:  r.Status().Capabilities,
		}
		if b, err := codec.EncodeHandshakeResponse(hr); err == nil {
			send <- b
		}
		logx.Log.Info().Str("client_id", hs.ClientID).Int("client_type", int(hs.ClientType)).Msg("peer connected")

		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			f, err := codec.Decode(data)
			if err != nil {
				logx.Log.Warn().Str("client_id", hs.ClientID).Err(err).Msg("dropping malformed frame")
				continue
			}
			metrics.RecordFrame(f.Type.String(), "in")
			switch f.Type {
			case wire.TypePing:
				if b, err := codec.EncodePong(); err == nil {
					send <- b
				}
			case wire.TypeRequest:
				var req wire.Request
				if err := json.Unmarshal(f.Payload, &req); err != nil {
					continue
				}
				go func() {
					resp := r.servePeerRequest(ctx, req)
					if b, err := codec.EncodeResponse(resp); err == nil {
						metrics.RecordFrame(wire.TypeResponse.String(), "out")
						select {
						case send <- b:
						case <-ctx.Done():
						}
					}
				}()
			}
		}
	}
}

// sniffFrame decodes data with whichever codec accepts it, binary first.
func sniffFrame(data []byte) (*wire.Codec, wire.Frame, error) {
	if len(data) >= len(wire.Magic) && bytes.Equal(data[:len(wire.Magic)], wire.Magic[:]) {
		codec := wire.NewCodec(wire.ModeBinary)
		f, err := codec.Decode(data)
		return codec, f, err
	}
	codec := wire.NewCodec(wire.ModeText)
	f, err := codec.Decode(data)
	return codec, f, err
}

// servePeerRequest answers one upstream request. tools/list and tools/call
// are handled by the router; every other method is relayed to the agent
// unmodified.
func (r *Router) servePeerRequest(ctx context.Context, req wire.Request) wire.Response {
	var params map[string]any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return wire.Response{ID: req.ID, Error: &wire.ErrorBody{Code: codeInvalidParams, Message: "malformed params"}}
		}
	}

	switch req.Method {
	case "tools/list":
		tools := make([]map[string]string, 0, len(Actions()))
		for _, name := range Actions() {
			tools = append(tools, map[string]string{"name": name})
		}
		result, _ := json.Marshal(map[string]any{"tools": tools})
		return wire.Response{ID: req.ID, Result: result}
	case "tools/call":
		name, _ := params["name"].(string)
		args, _ := params["arguments"].(map[string]any)
		res, err := r.Browser(ctx, name, args)
		if err != nil {
			return wire.Response{ID: req.ID, Error: toErrorBody(err)}
		}
		result, err := json.Marshal(res)
		if err != nil {
			return wire.Response{ID: req.ID, Error: &wire.ErrorBody{Code: codeInternal, Message: err.Error()}}
		}
		return wire.Response{ID: req.ID, Result: result}
	}

	raw, err := r.SendRaw(ctx, req.Method, params)
	if err != nil {
		return wire.Response{ID: req.ID, Error: toErrorBody(err)}
	}
	return wire.Response{ID: req.ID, Result: raw}
}

// toErrorBody maps bridge errors onto the wire error shape. Remote errors
// keep the peer-assigned code and data verbatim.
func toErrorBody(err error) *wire.ErrorBody {
	var re *wire.RemoteError
	if errors.As(err, &re) {
		return &wire.ErrorBody{Code: re.Code, Message: re.Message, Data: re.Data}
	}
	var te *wire.TimeoutError
	if errors.As(err, &te) {
		return &wire.ErrorBody{Code: codeTimeout, Message: err.Error()}
	}
	return &wire.ErrorBody{Code: codeNoAgent, Message: err.Error()}
}
