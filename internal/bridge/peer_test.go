package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tabwire/tabwire/internal/session"
	"github.com/tabwire/tabwire/internal/wire"
)

// The peer endpoint speaks the framed protocol end to end: a session client
// handshakes, lists tools and relays a command through to the agent.
func TestPeerEndToEnd(t *testing.T) {
	r := NewRouter(time.Second, "")
	base := newTestBridge(t, r)
	stop := startAgent(t, base+"/ws/agent", func(method string, params map[string]any) (any, *wire.ErrorBody) {
		if method == "browser.navigate" {
			return map[string]any{"navigated": params["url"]}, nil
		}
		return nil, &wire.ErrorBody{Code: -32601, Message: "unknown method"}
	})
	defer stop()
	waitAttached(t, r)

	for _, mode := range []wire.Mode{wire.ModeText, wire.ModeBinary} {
		s := session.New(base+"/ws", session.Options{
			Mode:           mode,
			ConnectTimeout: 2 * time.Second,
			RequestTimeout: 2 * time.Second,
			Handshake:      wire.Handshake{Version: "1.0.0", ClientType: wire.ClientMcpClient, ClientID: "c1", Capabilities: []string{"tools"}},
		})
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("mode %d connect: %v", mode, err)
		}

		raw, err := s.Request(context.Background(), "tools/list", nil)
		if err != nil {
			t.Fatalf("mode %d tools/list: %v", mode, err)
		}
		var tl struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		}
		if err := json.Unmarshal(raw, &tl); err != nil {
			t.Fatalf("mode %d tools: %v", mode, err)
		}
		names := map[string]bool{}
		for _, tool := range tl.Tools {
			names[tool.Name] = true
		}
		if !names["navigate"] || !names["status"] {
			t.Fatalf("mode %d tools = %+v", mode, tl.Tools)
		}

		raw, err = s.Request(context.Background(), "browser.navigate", map[string]any{"url": "https://example.com"})
		if err != nil {
			t.Fatalf("mode %d navigate: %v", mode, err)
		}
		var nav struct {
			Navigated string `json:"navigated"`
		}
		if err := json.Unmarshal(raw, &nav); err != nil || nav.Navigated != "https://example.com" {
			t.Fatalf("mode %d navigate result = %s", mode, raw)
		}

		s.Close()
	}
}

func TestPeerRemoteErrorVerbatim(t *testing.T) {
	r := NewRouter(time.Second, "")
	base := newTestBridge(t, r)
	stop := startAgent(t, base+"/ws/agent", func(method string, params map[string]any) (any, *wire.ErrorBody) {
		return nil, &wire.ErrorBody{Code: 7, Message: "tab gone", Data: json.RawMessage(`{"tabId":3}`)}
	})
	defer stop()
	waitAttached(t, r)

	s := session.New(base+"/ws", session.Options{
		Mode:           wire.ModeText,
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 2 * time.Second,
		Handshake:      wire.Handshake{Version: "1.0.0", ClientID: "c1"},
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	_, err := s.Request(context.Background(), "browser.click", map[string]any{"selector": "#x"})
	var re *wire.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError got %v", err)
	}
	if re.Code != 7 || re.Message != "tab gone" || string(re.Data) != `{"tabId":3}` {
		t.Fatalf("remote error reinterpreted: %+v", re)
	}
}

func TestPeerMalformedParamsCode(t *testing.T) {
	r := NewRouter(time.Second, "")
	base := newTestBridge(t, r)
	stop := startAgent(t, base+"/ws/agent", func(method string, params map[string]any) (any, *wire.ErrorBody) {
		return map[string]any{}, nil
	})
	defer stop()
	waitAttached(t, r)

	s := session.New(base+"/ws", session.Options{
		Mode:           wire.ModeText,
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 2 * time.Second,
		Handshake:      wire.Handshake{Version: "1.0.0", ClientID: "c1"},
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	// params must be an object; an array is a caller fault, not a missing agent
	_, err := s.Request(context.Background(), "browser.click", []any{"#x"})
	var re *wire.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError got %v", err)
	}
	if re.Code != codeInvalidParams {
		t.Fatalf("code = %d, want %d", re.Code, codeInvalidParams)
	}
}

func TestPeerToolsCallTranslates(t *testing.T) {
	r := NewRouter(time.Second, "")
	base := newTestBridge(t, r)
	var got string
	done := make(chan struct{})
	stop := startAgent(t, base+"/ws/agent", func(method string, params map[string]any) (any, *wire.ErrorBody) {
		got = method
		close(done)
		return map[string]any{}, nil
	})
	defer stop()
	waitAttached(t, r)

	s := session.New(base+"/ws", session.Options{
		Mode:           wire.ModeText,
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 2 * time.Second,
		Handshake:      wire.Handshake{Version: "1.0.0", ClientID: "c1"},
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	if _, err := s.Request(context.Background(), "tools/call", map[string]any{"name": "navigate", "arguments": map[string]any{"url": "https://example.com"}}); err != nil {
		t.Fatalf("tools/call: %v", err)
	}
	<-done
	if got != "browser.navigate" {
		t.Fatalf("agent saw %q, want browser.navigate", got)
	}
}
