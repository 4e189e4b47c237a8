package bridge

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tabwire/tabwire/internal/logx"
)

// RegisterMessage is the non-framed control message an agent must send before
// it can receive commands.
type RegisterMessage struct {
	Type         string   `json:"type"`
	Role         string   `json:"role"`
	Key          string   `json:"key,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// WSHandler accepts agent websocket connections. The first message must be a
// register control message; anything else closes the socket with a policy
// violation.
func WSHandler(r *Router, expectedKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		provided := ""
		if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
		if provided == "" {
			provided = req.URL.Query().Get("agent_key")
		}
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
		var rm RegisterMessage
		if err := json.Unmarshal(data, &rm); err != nil || rm.Type != "register" {
			c.Close(websocket.StatusPolicyViolation, "expected register")
			return
		}
		if rm.Key != "" {
			provided = rm.Key
		}
		if expectedKey != "" && provided != expectedKey {
			c.Close(websocket.StatusPolicyViolation, "unauthorized")
			return
		}

		agent := &agentConn{
			id:   uuid.NewString()[:8],
			role: rm.Role,
			caps: rm.Capabilities,
			send: make(chan []byte, 32),
		}
		r.attach(agent)
		defer r.detach(agent)

		go func() {
			for {
				select {
				case msg := <-agent.send:
					if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if c.Ping(ctx) != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			_, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			var rep reply
			if err := json.Unmarshal(msg, &rep); err != nil {
				logx.Log.Warn().Str("agent_id", agent.id).Msg("dropping malformed reply")
				continue
			}
			r.deliver(rep)
		}
	}
}
