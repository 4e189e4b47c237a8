package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tabwire/tabwire/internal/metrics"
)

// Kind tags the closed set of known browser commands plus the raw
// pass-through variant for everything else.
type Kind int

const (
	KindNavigate Kind = iota
	KindBack
	KindForward
	KindReload
	KindClick
	KindType
	KindPress
	KindScroll
	KindGetText
	KindEvaluate
	KindScreenshot
	KindStatus
	KindRaw
)

// Command is a normalized browser action: either one of the known variants
// mapped to its canonical underlying method, or a raw pass-through carrying
// the caller's action name and params verbatim.
type Command struct {
	Kind   Kind
	Action string
	Method string
	Params map[string]any
	SaveTo string // screenshot only: local file to persist the image to
}

// actionTable maps each known action name to its canonical underlying method.
// "refresh" and "fill" are deliberate aliases.
var actionTable = map[string]struct {
	kind   Kind
	method string
}{
	"navigate":   {KindNavigate, "browser.navigate"},
	"back":       {KindBack, "browser.goBack"},
	"forward":    {KindForward, "browser.goForward"},
	"reload":     {KindReload, "browser.reload"},
	"refresh":    {KindReload, "browser.reload"},
	"click":      {KindClick, "browser.click"},
	"type":       {KindType, "browser.type"},
	"fill":       {KindType, "browser.type"},
	"press":      {KindPress, "browser.press"},
	"scroll":     {KindScroll, "browser.scroll"},
	"getText":    {KindGetText, "browser.getText"},
	"evaluate":   {KindEvaluate, "browser.evaluate"},
	"screenshot": {KindScreenshot, "browser.screenshot"},
}

// Actions returns the known action names, for the status document.
func Actions() []string {
	names := make([]string, 0, len(actionTable)+1)
	for name := range actionTable {
		names = append(names, name)
	}
	names = append(names, "status")
	return names
}

// ParseCommand normalizes {action, ...params} into a Command. Unknown actions
// become the raw pass-through variant with method and params unmodified.
func ParseCommand(action string, params map[string]any) Command {
	if action == "status" {
		return Command{Kind: KindStatus, Action: action}
	}
	entry, ok := actionTable[action]
	if !ok {
		return Command{Kind: KindRaw, Action: action, Method: action, Params: params}
	}
	cmd := Command{Kind: entry.kind, Action: action, Method: entry.method, Params: params}
	switch entry.kind {
	case KindClick, KindType, KindGetText:
		cmd.Params = normalizeSelector(params)
	case KindScreenshot:
		cmd.Params = map[string]any{}
		for k, v := range params {
			if k == "filename" {
				cmd.SaveTo, _ = v.(string)
				continue
			}
			cmd.Params[k] = v
		}
	}
	return cmd
}

// normalizeSelector makes "selector" and "ref" interchangeable, preferring
// selector when both are present.
func normalizeSelector(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	if _, ok := out["selector"]; !ok {
		if ref, ok := out["ref"]; ok {
			out["selector"] = ref
		}
	}
	delete(out, "ref")
	return out
}

// ScreenshotResult describes a locally persisted screenshot.
type ScreenshotResult struct {
	Saved string `json:"saved"`
	Bytes int    `json:"bytes"`
}

// Browser accepts {action, ...params}, maps it onto the underlying agent call
// and returns the result. Status is answered locally; a screenshot with a
// filename persists the decoded image after a successful call and returns the
// local effect instead of the raw result.
func (r *Router) Browser(ctx context.Context, action string, params map[string]any) (any, error) {
	cmd := ParseCommand(action, params)
	if cmd.Kind == KindStatus {
		return r.Status(), nil
	}

	start := time.Now()
	raw, err := r.SendRaw(ctx, cmd.Method, cmd.Params)
	metrics.RecordCommand(cmd.Action, time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	if cmd.Kind == KindScreenshot && cmd.SaveTo != "" {
		return r.saveScreenshot(raw, cmd.SaveTo)
	}
	return raw, nil
}

func (r *Router) saveScreenshot(raw json.RawMessage, filename string) (*ScreenshotResult, error) {
	var res struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("screenshot result: %w", err)
	}
	img, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("screenshot data: %w", err)
	}
	path := filename
	if r.screenshotDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(r.screenshotDir, path)
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return nil, err
	}
	return &ScreenshotResult{Saved: path, Bytes: len(img)}, nil
}
