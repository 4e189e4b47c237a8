package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tabwire/tabwire/internal/logx"
	"github.com/tabwire/tabwire/internal/metrics"
	"github.com/tabwire/tabwire/internal/wire"
)

// State is the connection lifecycle state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

var (
	// ErrAlreadyConnecting is returned by Connect when a connect attempt is
	// already in progress or the session is connected.
	ErrAlreadyConnecting = errors.New("session already connecting or connected")
	// ErrClosed is the rejection for pending requests when the session is
	// torn down.
	ErrClosed = errors.New("connection closed")
	// ErrReconnectCeiling fires exactly once when the reconnect attempt
	// ceiling is reached.
	ErrReconnectCeiling = errors.New("reconnect attempts exhausted")
)

// Options configures a Session. Zero values take the documented defaults.
type Options struct {
	ConnectTimeout time.Duration // default 30s
	RequestTimeout time.Duration // default 30s
	AutoReconnect  bool
	ReconnectBase  time.Duration // default 1s; attempt n waits base*2^(n-1)
	MaxReconnects  int           // default 5
	PingInterval   time.Duration // default 30s
	Mode           wire.Mode
	Handshake      wire.Handshake
	Dialer         Dialer // default DialWebSocket(Mode)
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 5
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = DialWebSocket(o.Mode)
	}
}

// Session manages exactly one transport connection's full lifecycle: dial,
// handshake, request correlation and reconnection with exponential backoff.
type Session struct {
	url   string
	opts  Options
	codec *wire.Codec

	mu         sync.Mutex
	state      State
	conn       Conn
	gen        uint64 // bumped on every teardown so stale read loops are no-ops
	pending    map[string]*pendingReq
	serverCaps []string
	attempt    int
	retry      *time.Timer
	closed     bool

	idPrefix string
	nextID   atomic.Uint64

	hmu      sync.Mutex
	handlers []Handler
}

type pendingReq struct {
	ch    chan wire.Response
	timer *time.Timer
}

// New constructs a session for one endpoint address.
func New(url string, opts Options) *Session {
	opts.withDefaults()
	return &Session{
		url:      url,
		opts:     opts,
		codec:    wire.NewCodec(opts.Mode),
		pending:  map[string]*pendingReq{},
		idPrefix: uuid.NewString()[:8],
	}
}

// URL returns the endpoint address the session dials.
func (s *Session) URL() string { return s.url }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ServerCapabilities returns the capability list recorded from the last
// accepted handshake.
func (s *Session) ServerCapabilities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	caps := make([]string, len(s.serverCaps))
	copy(caps, s.serverCaps)
	return caps
}

// Connect dials the endpoint, performs the handshake and transitions to
// Connected. It fails before any I/O if a connect is already in progress or
// the session is already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Connecting || s.state == Connected {
		s.mu.Unlock()
		return ErrAlreadyConnecting
	}
	s.state = Connecting
	s.closed = false
	s.mu.Unlock()

	err := s.connect(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		s.emitError(err)
	}
	return err
}

func (s *Session) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := s.opts.Dialer(dialCtx, s.url)
	if err != nil {
		if dialCtx.Err() != nil {
			return &wire.TimeoutError{Op: "connect " + s.url}
		}
		return &wire.ConnectionError{Reason: "dial " + s.url, Err: err}
	}

	hs, err := s.codec.EncodeHandshake(s.opts.Handshake)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.Write(dialCtx, hs); err != nil {
		_ = conn.Close()
		return &wire.ConnectionError{Reason: "handshake send", Err: err}
	}

	resp, err := s.awaitHandshakeResponse(dialCtx, conn)
	if err != nil {
		_ = conn.Close()
		if dialCtx.Err() != nil {
			return &wire.TimeoutError{Op: "connect " + s.url}
		}
		return err
	}
	if !resp.Accepted {
		_ = conn.Close()
		return &wire.ConnectionError{Reason: "handshake rejected: " + resp.Error}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return &wire.ConnectionError{Reason: "session closed", Err: ErrClosed}
	}
	s.conn = conn
	s.state = Connected
	s.serverCaps = resp.Capabilities
	s.attempt = 0
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go s.readLoop(conn, gen)
	go s.pingLoop(conn, gen)
	logx.Log.Info().Str("url", s.url).Str("server_version", resp.ServerVersion).Msg("session connected")
	s.emitConnect()
	return nil
}

func (s *Session) awaitHandshakeResponse(ctx context.Context, conn Conn) (wire.HandshakeResponse, error) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return wire.HandshakeResponse{}, &wire.ConnectionError{Reason: "handshake read", Err: err}
		}
		f, err := s.codec.Decode(data)
		if err != nil {
			return wire.HandshakeResponse{}, err
		}
		if f.Type != wire.TypeHandshakeResponse {
			// frames preceding the handshake response are not meaningful yet
			continue
		}
		var hr wire.HandshakeResponse
		if err := json.Unmarshal(f.Payload, &hr); err != nil {
			return wire.HandshakeResponse{}, &wire.ProtocolError{Reason: "malformed handshake response", Err: err}
		}
		return hr, nil
	}
}

// Request sends a method call and waits for the correlated response. The
// timeout defaults to Options.RequestTimeout; a late response after the
// timeout is dropped silently.
func (s *Session) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.RequestTimeout(ctx, method, params, s.opts.RequestTimeout)
}

// RequestTimeout is Request with an explicit per-call deadline.
func (s *Session) RequestTimeout(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return nil, &wire.ConnectionError{Reason: "session not connected"}
	}
	conn := s.conn
	id := fmt.Sprintf("%s-%d", s.idPrefix, s.nextID.Add(1))
	p := &pendingReq{ch: make(chan wire.Response, 1), timer: time.NewTimer(timeout)}
	s.pending[id] = p
	s.mu.Unlock()

	frame, err := s.codec.EncodeRequest(wire.Request{ID: id, Method: method, Params: raw})
	if err != nil {
		s.takePending(id)
		return nil, err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = conn.Write(writeCtx, frame)
	cancel()
	if err != nil {
		s.takePending(id)
		return nil, &wire.ConnectionError{Reason: "request send", Err: err}
	}

	select {
	case resp, ok := <-p.ch:
		if !ok {
			return nil, &wire.ConnectionError{Reason: "session closed", Err: ErrClosed}
		}
		if resp.Error != nil {
			return nil, &wire.RemoteError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
		}
		return resp.Result, nil
	case <-p.timer.C:
		s.takePending(id)
		return nil, &wire.TimeoutError{Op: method}
	case <-ctx.Done():
		s.takePending(id)
		return nil, ctx.Err()
	}
}

// takePending removes and returns the pending entry for id. Removal happens
// exactly once; every later caller sees nil.
func (s *Session) takePending(id string) *pendingReq {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending[id]
	if p != nil {
		delete(s.pending, id)
		p.timer.Stop()
	}
	return p
}

// Close tears the session down: it cancels any scheduled reconnect, closes
// the transport and rejects every outstanding request. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.gen++
	conn := s.conn
	s.conn = nil
	s.failPendingLocked()
	wasConnected := s.state == Connected
	s.state = Disconnected
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected {
		s.emitDisconnect(true)
	}
}

// failPendingLocked rejects all outstanding requests; callers hold s.mu.
func (s *Session) failPendingLocked() {
	for id, p := range s.pending {
		p.timer.Stop()
		close(p.ch)
		delete(s.pending, id)
	}
}

func (s *Session) readLoop(conn Conn, gen uint64) {
	ctx := context.Background()
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			s.handleConnLost(gen)
			return
		}
		f, err := s.codec.Decode(data)
		if err != nil {
			logx.Log.Warn().Str("url", s.url).Err(err).Msg("dropping malformed frame")
			continue
		}
		metrics.RecordFrame(f.Type.String(), "in")
		switch f.Type {
		case wire.TypeResponse:
			var resp wire.Response
			if json.Unmarshal(f.Payload, &resp) != nil {
				continue
			}
			if p := s.takePending(resp.ID); p != nil {
				p.ch <- resp
			}
		case wire.TypeStream:
			s.emitStream(f.Payload)
		case wire.TypePing:
			if pong, err := s.codec.EncodePong(); err == nil {
				wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				_ = conn.Write(wctx, pong)
				cancel()
			}
		}
	}
}

func (s *Session) pingLoop(conn Conn, gen uint64) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		stale := s.gen != gen
		s.mu.Unlock()
		if stale {
			return
		}
		ping, err := s.codec.EncodePing()
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = conn.Write(ctx, ping)
		cancel()
	}
}

// handleConnLost runs when the transport drops out from under a connected
// session. A user-initiated Close bumps gen first, making this a no-op.
func (s *Session) handleConnLost(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.gen++
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.failPendingLocked()
	reconnect := s.opts.AutoReconnect && !s.closed
	if reconnect {
		s.state = Reconnecting
	} else {
		s.state = Disconnected
	}
	s.mu.Unlock()

	logx.Log.Warn().Str("url", s.url).Bool("reconnect", reconnect).Msg("connection lost")
	s.emitDisconnect(true)
	if reconnect {
		s.scheduleReconnect()
	}
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.attempt++
	if s.attempt > s.opts.MaxReconnects {
		s.state = Disconnected
		s.mu.Unlock()
		s.emitError(ErrReconnectCeiling)
		return
	}
	delay := s.opts.ReconnectBase << (s.attempt - 1)
	attempt := s.attempt
	s.retry = time.AfterFunc(delay, func() { s.reconnect() })
	s.mu.Unlock()
	logx.Log.Info().Str("url", s.url).Int("attempt", attempt).Dur("backoff", delay).Msg("reconnect scheduled")
}

func (s *Session) reconnect() {
	s.mu.Lock()
	if s.closed || s.state != Reconnecting {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	metrics.RecordReconnect()
	if err := s.connect(context.Background()); err != nil {
		logx.Log.Warn().Str("url", s.url).Err(err).Msg("reconnect failed")
		s.emitError(err)
		s.scheduleReconnect()
		return
	}
	s.emitReconnect()
}
