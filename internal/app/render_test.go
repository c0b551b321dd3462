package app

import (
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"

	"github.com/dshills/vellum/internal/bridge"
	"github.com/dshills/vellum/internal/config"
	"github.com/dshills/vellum/internal/lsp"
	"github.com/dshills/vellum/internal/plugin"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	manager := lsp.NewManager()
	hooks := plugin.NewHooks(zerolog.Nop())
	t.Cleanup(hooks.Close)
	return New(tcell.NewSimulationScreen("UTF-8"), config.Default(), manager, bridge.New(), hooks, zerolog.Nop())
}

func TestExpandTabs(t *testing.T) {
	if got := expandTabs("\tx\ty"); got != "    x    y" {
		t.Errorf("expandTabs = %q", got)
	}
	if got := expandTabs("plain"); got != "plain" {
		t.Errorf("expandTabs = %q", got)
	}
}

func TestPadRight(t *testing.T) {
	if got := padRight("ab", 5); got != "ab   " {
		t.Errorf("padRight = %q", got)
	}
	if got := padRight("abcdef", 3); got != "abcdef" {
		t.Errorf("padRight should not truncate, got %q", got)
	}
	// Wide characters count by display width, not rune count.
	if got := padRight("日本", 6); got != "日本  " {
		t.Errorf("padRight wide = %q", got)
	}
}

func TestStatusLine(t *testing.T) {
	a := newTestApp(t)
	buf := &Buffer{Path: "/src/main.rs", Language: "rust", Lines: []string{""}}
	a.buffers = []*Buffer{buf}

	line := a.statusLine(buf)
	if !strings.Contains(line, "main.rs") {
		t.Errorf("status line missing filename: %q", line)
	}
	if !strings.Contains(line, "rust") {
		t.Errorf("status line missing language: %q", line)
	}
	if !strings.Contains(line, "lsp:off") {
		t.Errorf("status line should show lsp:off before any status: %q", line)
	}

	a.status = "LSP server for rust started"
	line = a.statusLine(buf)
	if !strings.Contains(line, "| LSP server for rust started") {
		t.Errorf("status line missing message: %q", line)
	}
}

func TestStatusLine_NoLanguage(t *testing.T) {
	a := newTestApp(t)
	buf := &Buffer{Path: "README.md", Lines: []string{""}}
	a.buffers = []*Buffer{buf}

	line := a.statusLine(buf)
	if strings.Contains(line, "lsp:") {
		t.Errorf("no-language buffer should not show server state: %q", line)
	}
}

func TestServerStateLabel(t *testing.T) {
	a := newTestApp(t)

	if got := a.serverStateLabel("rust"); got != "off" {
		t.Errorf("unseen language label = %q, want off", got)
	}

	a.serverStatus["rust"] = bridge.StatusRunning
	if got := a.serverStateLabel("rust"); got != "running" {
		t.Errorf("label = %q, want running", got)
	}

	// Supervisor policy state wins over the last bridge status.
	a.manager.RegisterServer("rust", lsp.ServerConfig{Enabled: true, Command: "rust-analyzer"})
	a.manager.HandleServerCrash("rust")
	if got := a.serverStateLabel("rust"); got != "restarting" {
		t.Errorf("label = %q, want restarting", got)
	}
}

func TestHandleStatusUpdate_DetectsCrash(t *testing.T) {
	a := newTestApp(t)
	a.manager.RegisterServer("rust", lsp.ServerConfig{Enabled: true, Command: "rust-analyzer", AutoStart: true})

	// Error while running is a crash: the supervisor schedules a restart.
	a.handleStatusUpdate(bridge.StatusUpdate{Language: "rust", Status: bridge.StatusRunning})
	a.handleStatusUpdate(bridge.StatusUpdate{Language: "rust", Status: bridge.StatusError})

	if !a.manager.HasPendingRestart("rust") {
		t.Error("crash should schedule a restart")
	}
	if !strings.Contains(a.status, "crashed") {
		t.Errorf("status = %q, want a crash message", a.status)
	}
}

func TestHandleStatusUpdate_ErrorAtStartupIsNotACrash(t *testing.T) {
	a := newTestApp(t)
	a.manager.RegisterServer("rust", lsp.ServerConfig{Enabled: true, Command: "rust-analyzer", AutoStart: true})

	// A server that errors before ever running (spawn or handshake
	// failure) is not restarted automatically.
	a.handleStatusUpdate(bridge.StatusUpdate{Language: "rust", Status: bridge.StatusStarting})
	a.handleStatusUpdate(bridge.StatusUpdate{Language: "rust", Status: bridge.StatusError})

	if a.manager.HasPendingRestart("rust") {
		t.Error("a startup failure must not schedule a restart")
	}
}
