package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabwire/tabwire/internal/logx"
	"github.com/tabwire/tabwire/internal/session"
	"github.com/tabwire/tabwire/internal/wire"
)

// DefaultCandidates is the fixed list of local addresses probed when no
// candidates are configured.
var DefaultCandidates = []string{
	"ws://127.0.0.1:8765/ws",
	"ws://127.0.0.1:8766/ws",
	"ws://127.0.0.1:8767/ws",
	"ws://127.0.0.1:8768/ws",
}

var (
	// ErrEndpointNotFound is returned for an unknown endpoint id.
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrToolNotFound is returned when no connected endpoint exposes the tool.
	ErrToolNotFound = errors.New("tool not found on any connected endpoint")
)

// ToolInfo is a snapshot of one remote tool's metadata.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Endpoint is the management record for one remote peer, keyed by URL.
// Tools is fetched once per successful connection and not kept live.
type Endpoint struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	Connected bool       `json:"connected"`
	Tools     []ToolInfo `json:"tools"`
}

// Options configures a Manager.
type Options struct {
	Session      session.Options // template for every endpoint session
	ProbeTimeout time.Duration   // default 2s
	Dialer       session.Dialer  // probe dialer; defaults to Session.Dialer
}

// Manager owns zero or more endpoint sessions keyed by a manager-assigned id
// with URL uniqueness. Iteration order is insertion order.
type Manager struct {
	opts Options

	mu       sync.Mutex
	order    []string
	byID     map[string]*entry
	inflight map[string]*connectCall

	hmu      sync.Mutex
	handlers []Handler
}

type entry struct {
	rec  Endpoint
	sess *session.Session
}

type connectCall struct {
	done chan struct{}
	rec  Endpoint
	err  error
}

// Handler observes manager-level endpoint events.
type Handler interface {
	OnEndpointConnected(Endpoint)
	OnEndpointDisconnected(Endpoint)
	OnEndpointReconnected(Endpoint)
}

// NewManager constructs an empty manager.
func NewManager(opts Options) *Manager {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	opts.Session.Handshake.ClientType = wire.ClientMcpClient
	if opts.Dialer == nil {
		if opts.Session.Dialer != nil {
			opts.Dialer = opts.Session.Dialer
		} else {
			opts.Dialer = session.DialWebSocket(opts.Session.Mode)
		}
	}
	return &Manager{
		opts:     opts,
		byID:     map[string]*entry{},
		inflight: map[string]*connectCall{},
	}
}

// Subscribe registers a handler for endpoint events.
func (m *Manager) Subscribe(h Handler) {
	m.hmu.Lock()
	m.handlers = append(m.handlers, h)
	m.hmu.Unlock()
}

func (m *Manager) emit(fn func(Handler)) {
	m.hmu.Lock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.hmu.Unlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logx.Log.Error().Interface("panic", r).Msg("endpoint handler panicked")
				}
			}()
			fn(h)
		}()
	}
}

// Discover probes every candidate address concurrently, waiting only for the
// transport to open. Reachable endpoints are recorded as disconnected; the
// probe socket is closed immediately either way.
func (m *Manager) Discover(ctx context.Context, candidates []string) []Endpoint {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	reachable := make([]bool, len(candidates))
	var wg sync.WaitGroup
	for i, url := range candidates {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
			defer cancel()
			reachable[i] = session.Probe(probeCtx, m.opts.Dialer, url)
		}(i, url)
	}
	wg.Wait()

	var found []Endpoint
	m.mu.Lock()
	for i, url := range candidates {
		if !reachable[i] {
			continue
		}
		rec := m.recordForURLLocked(url)
		found = append(found, rec)
	}
	m.mu.Unlock()
	return found
}

// recordForURLLocked returns the record for url, creating a disconnected one
// if the url is unknown. Callers hold m.mu.
func (m *Manager) recordForURLLocked(url string) Endpoint {
	for _, id := range m.order {
		if e := m.byID[id]; e != nil && e.rec.URL == url {
			return e.rec
		}
	}
	e := &entry{rec: Endpoint{ID: uuid.NewString(), Name: url, URL: url}}
	m.byID[e.rec.ID] = e
	m.order = append(m.order, e.rec.ID)
	return e.rec
}

// ConnectEndpoint connects the endpoint at url, fetches its tool list once
// and stores the record. It is idempotent per url, including for concurrent
// callers: exactly one session is created and every caller observes the same
// record.
func (m *Manager) ConnectEndpoint(ctx context.Context, url string) (Endpoint, error) {
	m.mu.Lock()
	for _, id := range m.order {
		if e := m.byID[id]; e != nil && e.rec.URL == url && e.rec.Connected {
			rec := e.rec
			m.mu.Unlock()
			return rec, nil
		}
	}
	if call := m.inflight[url]; call != nil {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.rec, call.err
		case <-ctx.Done():
			return Endpoint{}, ctx.Err()
		}
	}
	call := &connectCall{done: make(chan struct{})}
	m.inflight[url] = call
	m.mu.Unlock()

	rec, err := m.connect(ctx, url)
	call.rec, call.err = rec, err

	m.mu.Lock()
	delete(m.inflight, url)
	m.mu.Unlock()
	close(call.done)
	return rec, err
}

func (m *Manager) connect(ctx context.Context, url string) (Endpoint, error) {
	m.mu.Lock()
	id := m.recordForURLLocked(url).ID
	var old *session.Session
	if e := m.byID[id]; e != nil {
		old = e.sess
		e.sess = nil
	}
	m.mu.Unlock()
	// a prior session may still be backing off toward its own reconnect;
	// exactly one session per record may exist
	if old != nil {
		old.Close()
	}

	sess := session.New(url, m.opts.Session)
	sess.Subscribe(&endpointWatcher{m: m, id: id})
	if err := sess.Connect(ctx); err != nil {
		return Endpoint{}, fmt.Errorf("connect %s: %w", url, err)
	}

	tools, err := m.fetchTools(ctx, sess)
	if err != nil {
		logx.Log.Warn().Str("url", url).Err(err).Msg("tool listing failed")
	}

	m.mu.Lock()
	e := m.byID[id]
	if e == nil {
		// removed while connecting; do not resurrect it
		m.mu.Unlock()
		sess.Close()
		return Endpoint{}, fmt.Errorf("connect %s: %w", url, ErrEndpointNotFound)
	}
	e.sess = sess
	e.rec.Name = url
	e.rec.Connected = true
	e.rec.Tools = tools
	rec := e.rec
	m.mu.Unlock()

	logx.Log.Info().Str("url", url).Int("tools", len(tools)).Msg("endpoint connected")
	m.emit(func(h Handler) { h.OnEndpointConnected(rec) })
	return rec, nil
}

func (m *Manager) fetchTools(ctx context.Context, sess *session.Session) ([]ToolInfo, error) {
	raw, err := sess.Request(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// endpointWatcher flips the record's connected flag on session transitions
// and re-emits manager-level events.
type endpointWatcher struct {
	session.NopHandler
	m  *Manager
	id string
}

func (w *endpointWatcher) OnDisconnect(bool) {
	if rec, ok := w.m.setConnected(w.id, false); ok {
		w.m.emit(func(h Handler) { h.OnEndpointDisconnected(rec) })
	}
}

func (w *endpointWatcher) OnReconnect() {
	if rec, ok := w.m.setConnected(w.id, true); ok {
		w.m.emit(func(h Handler) { h.OnEndpointReconnected(rec) })
	}
}

func (m *Manager) setConnected(id string, connected bool) (Endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.byID[id]
	if e == nil {
		return Endpoint{}, false
	}
	e.rec.Connected = connected
	return e.rec, true
}

// DisconnectEndpoint closes the named session and removes it from the live set.
func (m *Manager) DisconnectEndpoint(id string) error {
	m.mu.Lock()
	e := m.byID[id]
	if e == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	delete(m.byID, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	sess := e.sess
	m.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
	return nil
}

// DisconnectAll closes every session concurrently and waits for completion.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		if e := m.byID[id]; e != nil {
			entries = append(entries, e)
		}
	}
	m.byID = map[string]*entry{}
	m.order = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		if e.sess == nil {
			continue
		}
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.Close()
		}(e.sess)
	}
	wg.Wait()
}

// ListEndpoints returns a snapshot of all records in manager iteration order.
func (m *Manager) ListEndpoints() []Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Endpoint, 0, len(m.order))
	for _, id := range m.order {
		if e := m.byID[id]; e != nil {
			out = append(out, e.rec)
		}
	}
	return out
}

// ListTools merges cached tool metadata across connected endpoints, keeping
// the first-seen entry per name in manager iteration order.
func (m *Manager) ListTools() []ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []ToolInfo
	for _, id := range m.order {
		e := m.byID[id]
		if e == nil || !e.rec.Connected {
			continue
		}
		for _, t := range e.rec.Tools {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			out = append(out, t)
		}
	}
	return out
}

// CallTool routes a tool call to the named endpoint, or to the first connected
// endpoint in manager iteration order whose cached tool list contains name.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any, endpointID string) (json.RawMessage, error) {
	m.mu.Lock()
	var target *session.Session
	if endpointID != "" {
		e := m.byID[endpointID]
		if e == nil || !e.rec.Connected || e.sess == nil {
			m.mu.Unlock()
			return nil, &wire.ConnectionError{Reason: "endpoint not connected: " + endpointID}
		}
		target = e.sess
	} else {
		for _, id := range m.order {
			e := m.byID[id]
			if e == nil || !e.rec.Connected || e.sess == nil {
				continue
			}
			for _, t := range e.rec.Tools {
				if t.Name == name {
					target = e.sess
					break
				}
			}
			if target != nil {
				break
			}
		}
	}
	m.mu.Unlock()
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return target.Request(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
}
