// Package app is the editor shell: a tcell event loop that opens files,
// drives the language server supervisor and renders server status.
package app

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/dshills/vellum/internal/bridge"
	"github.com/dshills/vellum/internal/config"
	"github.com/dshills/vellum/internal/lsp"
	"github.com/dshills/vellum/internal/plugin"
)

// tickInterval paces async message draining and the restart poll. If
// the loop stops ticking, scheduled restarts stop firing; there is no
// hidden timer fallback.
const tickInterval = 50 * time.Millisecond

// Options configure the application.
type Options struct {
	ConfigPath string
	Workspace  string
	LogLevel   string
	Files      []string
}

// App wires the screen, the supervisor and the bridge together. All
// state is owned by the Run loop; nothing here needs locking.
type App struct {
	screen  tcell.Screen
	cfg     *config.Config
	manager *lsp.Manager
	bridge  *bridge.Bridge
	hooks   *plugin.Hooks
	log     zerolog.Logger

	buffers []*Buffer
	current int

	status       string
	serverStatus map[string]bridge.ServerStatus
	diagnostics  map[uri.URI][]protocol.Diagnostic

	// cfgCh delivers live-reloaded configs from the watcher goroutine
	// to the UI loop.
	cfgCh chan *config.Config

	quit bool
}

// New creates the application. The screen is initialized by Run.
func New(screen tcell.Screen, cfg *config.Config, manager *lsp.Manager, br *bridge.Bridge, hooks *plugin.Hooks, log zerolog.Logger) *App {
	return &App{
		screen:       screen,
		cfg:          cfg,
		manager:      manager,
		bridge:       br,
		hooks:        hooks,
		log:          log,
		serverStatus: make(map[string]bridge.ServerStatus),
		diagnostics:  make(map[uri.URI][]protocol.Diagnostic),
		cfgCh:        make(chan *config.Config, 1),
	}
}

// ReloadConfig hands a freshly loaded config to the UI loop. Safe to
// call from other goroutines; an undelivered older config is replaced.
func (a *App) ReloadConfig(cfg *config.Config) {
	select {
	case a.cfgCh <- cfg:
	default:
		select {
		case <-a.cfgCh:
		default:
		}
		a.cfgCh <- cfg
	}
}

// Run drives the event loop until the user quits.
func (a *App) Run(files []string) error {
	if err := a.screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer a.screen.Fini()

	for _, path := range files {
		if err := a.OpenFile(path); err != nil {
			a.log.Warn().Err(err).Str("path", path).Msg("failed to open file")
			a.status = fmt.Sprintf("Cannot open %s: %v", path, err)
		}
	}
	if len(a.buffers) == 0 {
		a.buffers = append(a.buffers, &Buffer{Path: "[no file]", Lines: []string{""}})
	}

	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := a.screen.PollEvent()
			if ev == nil {
				close(events)
				return
			}
			events <- ev
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	a.render()

	for !a.quit {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.handleEvent(ev)

		case <-ticker.C:
			a.tick()

		case cfg := <-a.cfgCh:
			a.applyConfig(cfg)
		}
		a.render()
	}

	a.manager.ShutdownAll()
	return nil
}

// tick is one poll cycle: drain the bridge, then fire due restarts.
func (a *App) tick() {
	a.drainBridge()
	for _, r := range a.manager.ProcessPendingRestarts() {
		a.status = r.Message
		if r.Success {
			// The restarted server re-announces capabilities; buffers
			// re-open when the Initialized message arrives.
			a.markUnopened(r.Language)
		}
	}
}

// applyConfig re-registers server entries after a live reload. Running
// servers keep their old config until their next (re)start.
func (a *App) applyConfig(cfg *config.Config) {
	a.cfg = cfg
	for language, sc := range cfg.LSP {
		a.manager.RegisterServer(language, sc)
	}
	a.status = "Configuration reloaded"
}

// handleEvent processes one tcell event.
func (a *App) handleEvent(ev tcell.Event) {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		a.screen.Sync()

	case *tcell.EventKey:
		a.handleKey(ev)
	}
}

func (a *App) handleKey(ev *tcell.EventKey) {
	buf := a.currentBuffer()
	_, height := a.screen.Size()
	page := height - 2 // minus status line and a context row

	switch ev.Key() {
	case tcell.KeyCtrlQ:
		a.quit = true

	case tcell.KeyCtrlL:
		a.manualRestart()

	case tcell.KeyCtrlK:
		a.shutdownServer()

	case tcell.KeyTab:
		if len(a.buffers) > 1 {
			a.current = (a.current + 1) % len(a.buffers)
		}

	case tcell.KeyUp:
		buf.scroll(-1, page)
	case tcell.KeyDown:
		buf.scroll(1, page)
	case tcell.KeyPgUp:
		buf.scroll(-page, page)
	case tcell.KeyPgDn:
		buf.scroll(page, page)
	}
}

// manualRestart restarts the current buffer's language server. This is
// the user's path back from both disabled and cooldown states.
func (a *App) manualRestart() {
	lang := a.currentBuffer().Language
	if lang == "" {
		a.status = "No language server configured for this file"
		return
	}
	_, msg := a.manager.ManualRestart(lang)
	a.status = msg
	a.markUnopened(lang)
}

// shutdownServer stops the current buffer's language server until the
// user manually restarts it.
func (a *App) shutdownServer() {
	lang := a.currentBuffer().Language
	if lang == "" {
		a.status = "No language server configured for this file"
		return
	}
	if a.manager.ShutdownServer(lang) {
		a.status = fmt.Sprintf("LSP server for %s stopped (Ctrl+L to restart)", lang)
	} else {
		a.status = fmt.Sprintf("No running LSP server for %s", lang)
	}
}

// OpenFile loads a file into a buffer and asks the supervisor for a
// server. A NotAutoStart answer becomes an affordance, not an error.
func (a *App) OpenFile(path string) error {
	buf, err := loadBuffer(path)
	if err != nil {
		return err
	}

	if lang, ok := lsp.DetectLanguage(path, a.cfg.LanguageMatchers()); ok {
		buf.Language = lang
	}

	a.buffers = append(a.buffers, buf)
	a.current = len(a.buffers) - 1

	if buf.Language == "" {
		return nil
	}

	switch a.manager.TrySpawn(buf.Language) {
	case lsp.SpawnResultSpawned:
		a.syncOpenBuffers(buf.Language)
	case lsp.SpawnResultNotAutoStart:
		a.status = fmt.Sprintf("Language server for %s available. Press Ctrl+L to start it.", buf.Language)
	case lsp.SpawnResultFailed:
		// Unconfigured or disabled; nothing to report on file open.
	}
	return nil
}

// drainBridge consumes everything the background goroutines produced
// since the last tick.
func (a *App) drainBridge() {
	for _, msg := range a.bridge.TryRecvAll() {
		switch m := msg.(type) {
		case bridge.StatusUpdate:
			a.handleStatusUpdate(m)

		case bridge.Initialized:
			a.manager.SetCompletionTriggerCharacters(m.Language, m.TriggerCharacters)
			a.manager.SetSemanticTokensCapabilities(m.Language, m.SemanticTokensLegend, m.SemanticTokensFull)
			a.syncOpenBuffers(m.Language)
			a.hooks.Run(plugin.HookServerReady, map[string]any{
				"language": m.Language,
			})

		case bridge.Diagnostics:
			a.diagnostics[m.URI] = m.Diagnostics

		case bridge.ServerError:
			a.hooks.Run(plugin.HookServerError, map[string]any{
				"language":   m.Language,
				"error":      m.Err.Error(),
				"stderr_log": m.StderrLogPath,
			})
		}
	}
}

// handleStatusUpdate tracks per-server status and detects crashes: an
// Error transition from a live state is a crash, reported to the
// supervisor which schedules the restart.
func (a *App) handleStatusUpdate(m bridge.StatusUpdate) {
	prev, seen := a.serverStatus[m.Language]
	a.serverStatus[m.Language] = m.Status

	if m.Status != bridge.StatusError {
		return
	}
	if seen && (prev == bridge.StatusRunning || prev == bridge.StatusInitializing) {
		a.status = a.manager.HandleServerCrash(m.Language)
		a.markUnopened(m.Language)
	}
}

// syncOpenBuffers announces unopened buffers of a language once its
// server can accept requests.
func (a *App) syncOpenBuffers(language string) {
	if !a.manager.IsServerReady(language) {
		return
	}
	handle, ok := a.manager.Handle(language)
	if !ok {
		return
	}
	for _, buf := range a.buffers {
		if buf.Language != language || buf.opened {
			continue
		}
		if err := handle.DidOpen(buf.Path, language, buf.Text()); err != nil {
			a.log.Warn().Err(err).Str("path", buf.Path).Msg("didOpen failed")
			continue
		}
		buf.opened = true
	}
}

// markUnopened flags a language's buffers for re-announcement after the
// server goes away or comes back.
func (a *App) markUnopened(language string) {
	for _, buf := range a.buffers {
		if buf.Language == language {
			buf.opened = false
		}
	}
}

func (a *App) currentBuffer() *Buffer {
	return a.buffers[a.current]
}
