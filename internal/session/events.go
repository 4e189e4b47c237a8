package session

import (
	"encoding/json"

	"github.com/tabwire/tabwire/internal/logx"
)

// Handler observes session lifecycle events. Implementations must not assume
// any goroutine affinity; a panic in a handler is recovered and logged and
// never disturbs the session itself.
type Handler interface {
	OnConnect()
	OnDisconnect(wasConnected bool)
	OnReconnect()
	OnError(err error)
	OnStream(payload json.RawMessage)
}

// NopHandler implements Handler with no-ops; embed it to observe a subset.
type NopHandler struct{}

func (NopHandler) OnConnect()               {}
func (NopHandler) OnDisconnect(bool)        {}
func (NopHandler) OnReconnect()             {}
func (NopHandler) OnError(error)            {}
func (NopHandler) OnStream(json.RawMessage) {}

// Subscribe registers a handler for session events.
func (s *Session) Subscribe(h Handler) {
	s.hmu.Lock()
	s.handlers = append(s.handlers, h)
	s.hmu.Unlock()
}

func (s *Session) each(fn func(Handler)) {
	s.hmu.Lock()
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.hmu.Unlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logx.Log.Error().Str("url", s.url).Interface("panic", r).Msg("session handler panicked")
				}
			}()
			fn(h)
		}()
	}
}

func (s *Session) emitConnect()                 { s.each(func(h Handler) { h.OnConnect() }) }
func (s *Session) emitDisconnect(was bool)      { s.each(func(h Handler) { h.OnDisconnect(was) }) }
func (s *Session) emitReconnect()               { s.each(func(h Handler) { h.OnReconnect() }) }
func (s *Session) emitError(err error)          { s.each(func(h Handler) { h.OnError(err) }) }
func (s *Session) emitStream(p json.RawMessage) { s.each(func(h Handler) { h.OnStream(p) }) }
