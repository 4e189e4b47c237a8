package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tabwire/tabwire/internal/wire"
)

// startAgent dials the agent endpoint, registers and answers commands with
// the given handler. It returns a stop func.
func startAgent(t *testing.T, wsURL string, handler func(method string, params map[string]any) (any, *wire.ErrorBody)) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		cancel()
		t.Fatalf("agent dial: %v", err)
	}
	reg, _ := json.Marshal(RegisterMessage{Type: "register", Role: "browser", Capabilities: []string{"navigate", "click", "screenshot"}})
	if err := c.Write(ctx, websocket.MessageText, reg); err != nil {
		cancel()
		t.Fatalf("agent register: %v", err)
	}
	go func() {
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var cmd command
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			var rep reply
			rep.ID = cmd.ID
			result, errBody := handler(cmd.Method, cmd.Params)
			if errBody != nil {
				rep.Error = errBody
			} else {
				b, _ := json.Marshal(result)
				rep.Result = b
			}
			out, _ := json.Marshal(rep)
			if c.Write(ctx, websocket.MessageText, out) != nil {
				return
			}
		}
	}()
	return func() {
		cancel()
		_ = c.Close(websocket.StatusNormalClosure, "done")
	}
}

func waitAttached(t *testing.T, r *Router) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Status().AgentConnected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("agent never attached")
}

func newTestBridge(t *testing.T, r *Router) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws/agent", WSHandler(r, ""))
	mux.Handle("/ws", PeerWSHandler(r, "1.0.0"))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendRawNoAgent(t *testing.T) {
	r := NewRouter(time.Second, "")
	_, err := r.SendRaw(context.Background(), "browser.navigate", nil)
	var ce *wire.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError got %v", err)
	}
	if !strings.Contains(err.Error(), "no agent connected") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestSendRawRoundTrip(t *testing.T) {
	r := NewRouter(time.Second, "")
	base := newTestBridge(t, r)

	var mu sync.Mutex
	var seen []command
	stop := startAgent(t, base+"/ws/agent", func(method string, params map[string]any) (any, *wire.ErrorBody) {
		mu.Lock()
		seen = append(seen, command{Method: method, Params: params})
		mu.Unlock()
		return map[string]any{"ok": true}, nil
	})
	defer stop()
	waitAttached(t, r)

	raw, err := r.SendRaw(context.Background(), "browser.navigate", map[string]any{"url": "https://example.com"})
	if err != nil {
		t.Fatalf("sendRaw: %v", err)
	}
	var res struct {
		OK bool `json:"ok"`
	}
	if json.Unmarshal(raw, &res) != nil || !res.OK {
		t.Fatalf("result = %s", raw)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].Method != "browser.navigate" || seen[0].Params["url"] != "https://example.com" {
		t.Fatalf("agent saw %+v", seen)
	}
}

func TestSendRawTimeout(t *testing.T) {
	r := NewRouter(50*time.Millisecond, "")
	base := newTestBridge(t, r)
	stop := startAgent(t, base+"/ws/agent", func(method string, params map[string]any) (any, *wire.ErrorBody) {
		time.Sleep(time.Second)
		return nil, nil
	})
	defer stop()
	waitAttached(t, r)

	_, err := r.SendRaw(context.Background(), "browser.click", nil)
	var te *wire.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError got %v", err)
	}
}

func TestBrowserPassThrough(t *testing.T) {
	r := NewRouter(time.Second, "")
	base := newTestBridge(t, r)
	var mu sync.Mutex
	var gotMethod string
	var gotParams map[string]any
	stop := startAgent(t, base+"/ws/agent", func(method string, params map[string]any) (any, *wire.ErrorBody) {
		mu.Lock()
		gotMethod, gotParams = method, params
		mu.Unlock()
		return map[string]any{}, nil
	})
	defer stop()
	waitAttached(t, r)

	if _, err := r.Browser(context.Background(), "experimental.futureAction", map[string]any{"foo": float64(1)}); err != nil {
		t.Fatalf("browser: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotMethod != "experimental.futureAction" {
		t.Fatalf("method = %q, want action name verbatim", gotMethod)
	}
	if len(gotParams) != 1 || gotParams["foo"] != float64(1) {
		t.Fatalf("params = %+v, want unchanged", gotParams)
	}
}

func TestBrowserAliases(t *testing.T) {
	r := NewRouter(time.Second, "")
	base := newTestBridge(t, r)
	var mu sync.Mutex
	methods := map[string]string{}
	stop := startAgent(t, base+"/ws/agent", func(method string, params map[string]any) (any, *wire.ErrorBody) {
		mu.Lock()
		methods[method] = method
		mu.Unlock()
		return map[string]any{}, nil
	})
	defer stop()
	waitAttached(t, r)

	for _, action := range []string{"reload", "refresh"} {
		if _, err := r.Browser(context.Background(), action, nil); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 1 {
		t.Fatalf("aliases mapped to %d methods: %v", len(methods), methods)
	}
	if _, ok := methods["browser.reload"]; !ok {
		t.Fatalf("methods = %v", methods)
	}
}

func TestBrowserScreenshotSavesFile(t *testing.T) {
	dir := t.TempDir()
	r := NewRouter(time.Second, dir)
	base := newTestBridge(t, r)
	img := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}
	stop := startAgent(t, base+"/ws/agent", func(method string, params map[string]any) (any, *wire.ErrorBody) {
		if method != "browser.screenshot" {
			return nil, &wire.ErrorBody{Code: 1, Message: "wrong method " + method}
		}
		if _, ok := params["filename"]; ok {
			return nil, &wire.ErrorBody{Code: 1, Message: "filename must not reach the agent"}
		}
		return map[string]any{"data": base64.StdEncoding.EncodeToString(img)}, nil
	})
	defer stop()
	waitAttached(t, r)

	res, err := r.Browser(context.Background(), "screenshot", map[string]any{"format": "png", "filename": "out.png"})
	if err != nil {
		t.Fatalf("screenshot: %v", err)
	}
	sr, ok := res.(*ScreenshotResult)
	if !ok {
		t.Fatalf("result type %T", res)
	}
	if sr.Bytes != len(img) {
		t.Fatalf("bytes = %d, want %d", sr.Bytes, len(img))
	}
	data, err := os.ReadFile(filepath.Join(dir, "out.png"))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != string(img) {
		t.Fatalf("saved file content mismatch")
	}
}

func TestBrowserStatusLocal(t *testing.T) {
	r := NewRouter(time.Second, "")
	res, err := r.Browser(context.Background(), "status", nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	st, ok := res.(StatusInfo)
	if !ok {
		t.Fatalf("result type %T", res)
	}
	if st.AgentConnected || st.Connections != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestRegisterRequired(t *testing.T) {
	r := NewRouter(time.Second, "")
	base := newTestBridge(t, r)
	ctx := context.Background()
	c, _, err := websocket.Dial(ctx, base+"/ws/agent", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"hello"}`))
	_, _, err = c.Read(ctx)
	if err == nil {
		t.Fatalf("expected close for missing register")
	}
	if r.Status().AgentConnected {
		t.Fatalf("unregistered connection attached")
	}
}

func TestAgentKeyRejected(t *testing.T) {
	r := NewRouter(time.Second, "")
	mux := http.NewServeMux()
	mux.Handle("/ws/agent", WSHandler(r, "secret"))
	srv := httptest.NewServer(mux)
	defer srv.Close()
	ctx := context.Background()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/agent", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	reg, _ := json.Marshal(RegisterMessage{Type: "register", Role: "browser", Key: "wrong"})
	_ = c.Write(ctx, websocket.MessageText, reg)
	if _, _, err = c.Read(ctx); err == nil {
		t.Fatalf("expected close for bad key")
	}
	if r.Status().AgentConnected {
		t.Fatalf("unauthorized agent attached")
	}
}
