package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tabwire/tabwire/internal/logx"
	"github.com/tabwire/tabwire/internal/metrics"
	"github.com/tabwire/tabwire/internal/wire"
)

// DefaultCommandTimeout bounds how long a dispatched command may wait for the
// agent's reply.
const DefaultCommandTimeout = 30 * time.Second

// agentConn is one live agent connection. Send is drained by a writer
// goroutine owned by the transport handler.
type agentConn struct {
	id   string
	role string
	caps []string
	send chan []byte
}

type cmdReply struct {
	result json.RawMessage
	err    *wire.ErrorBody
}

// Router relays high-level commands to the attached browser-side agent.
//
// Registration is a single-slot policy: the most recently registered
// connection's capability list is kept for status reporting, but commands are
// always dispatched to the first connection in the live set. Exactly one agent
// is meaningfully controllable at a time; re-registration replaces the slot.
type Router struct {
	timeout       time.Duration
	screenshotDir string

	mu      sync.Mutex
	conns   []*agentConn // arrival order
	caps    []string     // most recent registration
	role    string
	nextID  uint64
	pending map[uint64]chan cmdReply
}

// NewRouter constructs a router with the given command timeout and screenshot
// output directory. A zero timeout takes DefaultCommandTimeout.
func NewRouter(timeout time.Duration, screenshotDir string) *Router {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Router{
		timeout:       timeout,
		screenshotDir: screenshotDir,
		pending:       map[uint64]chan cmdReply{},
	}
}

// command is the non-framed JSON object sent to the agent.
type command struct {
	ID     uint64         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// reply is the agent's answer to a dispatched command.
type reply struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wire.ErrorBody `json:"error,omitempty"`
}

func (r *Router) attach(c *agentConn) {
	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.caps = c.caps
	r.role = c.role
	n := len(r.conns)
	r.mu.Unlock()
	metrics.SetAgentConnections(n)
	logx.Log.Info().Str("agent_id", c.id).Str("role", c.role).Strs("capabilities", c.caps).Msg("agent registered")
}

func (r *Router) detach(c *agentConn) {
	r.mu.Lock()
	for i, cc := range r.conns {
		if cc == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			break
		}
	}
	n := len(r.conns)
	r.mu.Unlock()
	metrics.SetAgentConnections(n)
	logx.Log.Info().Str("agent_id", c.id).Msg("agent disconnected")
}

// deliver resolves the pending command for a reply id. First arrival wins;
// replies for unknown ids are dropped.
func (r *Router) deliver(rep reply) {
	r.mu.Lock()
	ch := r.pending[rep.ID]
	delete(r.pending, rep.ID)
	r.mu.Unlock()
	if ch != nil {
		ch <- cmdReply{result: rep.Result, err: rep.Error}
	}
}

// SendRaw dispatches a command to the first live agent connection and waits
// for the matching reply.
func (r *Router) SendRaw(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	r.mu.Lock()
	if len(r.conns) == 0 {
		r.mu.Unlock()
		return nil, &wire.ConnectionError{Reason: "no agent connected"}
	}
	target := r.conns[0]
	r.nextID++
	id := r.nextID
	ch := make(chan cmdReply, 1)
	r.pending[id] = ch
	r.mu.Unlock()

	b, err := json.Marshal(command{ID: id, Method: method, Params: params})
	if err != nil {
		r.dropPending(id)
		return nil, err
	}
	select {
	case target.send <- b:
	default:
		r.dropPending(id)
		return nil, &wire.ConnectionError{Reason: "agent send queue full"}
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case rep := <-ch:
		if rep.err != nil {
			return nil, &wire.RemoteError{Code: rep.err.Code, Message: rep.err.Message, Data: rep.err.Data}
		}
		return rep.result, nil
	case <-timer.C:
		r.dropPending(id)
		return nil, &wire.TimeoutError{Op: "command " + method}
	case <-ctx.Done():
		r.dropPending(id)
		return nil, ctx.Err()
	}
}

func (r *Router) dropPending(id uint64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// StatusInfo reports agent attachment without an agent round trip.
type StatusInfo struct {
	AgentConnected bool     `json:"agentConnected"`
	Connections    int      `json:"connections"`
	Role           string   `json:"role,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
}

// Status reports whether an agent is attached and the live connection count.
func (r *Router) Status() StatusInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return StatusInfo{
		AgentConnected: len(r.conns) > 0,
		Connections:    len(r.conns),
		Role:           r.role,
		Capabilities:   r.caps,
	}
}
