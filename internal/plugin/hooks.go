// Package plugin runs user Lua scripts in response to editor events.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Hook names invoked by the editor.
const (
	HookServerError = "lsp_server_error"
	HookServerReady = "lsp_server_ready"
)

// Hooks hosts one Lua state and dispatches named hook functions.
// Scripts declare hooks as global functions taking a single table
// argument. A failing hook is logged and contained, never fatal.
//
// Hooks is not safe for concurrent use; the UI loop owns it.
type Hooks struct {
	state *lua.LState
	log   zerolog.Logger
}

// NewHooks creates an empty hook registry.
func NewHooks(log zerolog.Logger) *Hooks {
	return &Hooks{
		state: lua.NewState(),
		log:   log,
	}
}

// Close releases the Lua state.
func (h *Hooks) Close() {
	h.state.Close()
}

// LoadDir executes every *.lua file in dir, in sorted order. A script
// that fails to load is skipped with a warning; the rest still load.
// A missing directory is not an error.
func (h *Hooks) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plugin dir: %w", err)
	}

	var scripts []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			scripts = append(scripts, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(scripts)

	for _, script := range scripts {
		if err := h.state.DoFile(script); err != nil {
			h.log.Warn().Err(err).Str("script", script).Msg("plugin script failed to load")
			continue
		}
		h.log.Info().Str("script", script).Msg("plugin script loaded")
	}
	return nil
}

// LoadFile executes a single script.
func (h *Hooks) LoadFile(path string) error {
	return h.state.DoFile(path)
}

// Run invokes the named hook with the given fields as a table. Missing
// hooks are a silent no-op.
func (h *Hooks) Run(name string, fields map[string]any) {
	fn := h.state.GetGlobal(name)
	if fn == lua.LNil {
		return
	}

	tbl := h.state.NewTable()
	for k, v := range fields {
		tbl.RawSetString(k, toLua(h.state, v))
	}

	if err := h.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl); err != nil {
		h.log.Warn().Err(err).Str("hook", name).Msg("plugin hook failed")
	}
}

// toLua converts the field values the editor passes to hooks.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []string:
		tbl := L.NewTable()
		for _, s := range val {
			tbl.Append(lua.LString(s))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
