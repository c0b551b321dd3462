package lsp

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Restart policy: at most maxRestartsInWindow automatic restarts may fire
// within the trailing restartWindow; each successive attempt doubles the
// backoff starting at restartBackoffBase (1s, 2s, 4s, 8s, 16s).
const (
	maxRestartsInWindow = 5
	restartWindow       = 180 * time.Second
	restartBackoffBase  = 1 * time.Second
)

// ServerConfig describes how to launch one language server.
// Entries are externally owned; the Manager only reads them.
type ServerConfig struct {
	// Enabled gates the language entirely. A disabled entry can never
	// be spawned, not even by ManualRestart.
	Enabled bool `json:"enabled"`

	// Command and Args form the server command line. Command must be
	// non-empty for an enabled entry to be usable.
	Command string   `json:"command"`
	Args    []string `json:"args"`

	// AutoStart allows the server to spawn when a matching file is
	// opened, without user confirmation.
	AutoStart bool `json:"auto_start"`

	// InitializationOptions is passed through to the server unmodified.
	InitializationOptions any `json:"initialization_options,omitempty"`

	// Limits bound the resources of the spawned process.
	Limits ProcessLimits `json:"process_limits"`
}

// SpawnResult is the outcome of TrySpawn.
type SpawnResult int

const (
	// SpawnResultSpawned means the server was spawned or already running.
	SpawnResultSpawned SpawnResult = iota

	// SpawnResultNotAutoStart means the server is configured but not for
	// auto-start; callers should offer a manual-start affordance rather
	// than show an error.
	SpawnResultNotAutoStart

	// SpawnResultFailed means the spawn failed or the language is
	// unconfigured or disabled.
	SpawnResultFailed
)

// String returns a human-readable result name.
func (r SpawnResult) String() string {
	switch r {
	case SpawnResultSpawned:
		return "spawned"
	case SpawnResultNotAutoStart:
		return "not-auto-start"
	case SpawnResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RestartResult reports one attempted automatic restart.
type RestartResult struct {
	Language string
	Success  bool
	Message  string
}

// semanticTokensCaps is one capability record; setters replace it whole.
type semanticTokensCaps struct {
	legend *protocol.SemanticTokensLegend
	full   bool
}

// Manager supervises one language server per language. It owns the
// handle table, the spawn policy sets and the crash-recovery schedule.
//
// Every public operation takes the manager mutex for its whole body, so
// each call is a single atomic check-act-update step. The Manager runs
// no goroutines and no timers of its own; the host's event loop drives
// restart timing by polling ProcessPendingRestarts.
type Manager struct {
	mu sync.Mutex

	handles map[string]Handle       // language -> live protocol client
	configs map[string]ServerConfig // language -> launch configuration

	rootURI  uri.URI
	launcher Launcher

	// Crash tracking. restartAttempts is pruned to the trailing window
	// on every read; pendingRestarts holds at most one scheduled time
	// per language, replaced rather than stacked.
	restartAttempts map[string][]time.Time
	pendingRestarts map[string]time.Time
	cooldown        map[string]struct{}

	// User policy. allowed bypasses auto_start=false; disabled blocks
	// every spawn path until ManualRestart clears it.
	allowed  map[string]struct{}
	disabled map[string]struct{}

	// Capability cache, populated after a server announces itself.
	// Absent means unknown, not unsupported.
	triggerChars   map[string][]string
	semanticTokens map[string]semanticTokensCaps

	now func() time.Time
	log zerolog.Logger
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithClock overrides the time source used for crash-window pruning and
// restart scheduling. Tests use this to avoid sleeping.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRootURI sets the initial workspace root sent to servers.
func WithRootURI(root uri.URI) ManagerOption {
	return func(m *Manager) {
		m.rootURI = root
	}
}

// NewManager creates a manager with no configured languages. It is inert
// until SetLauncher installs an execution context.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		handles:         make(map[string]Handle),
		configs:         make(map[string]ServerConfig),
		restartAttempts: make(map[string][]time.Time),
		pendingRestarts: make(map[string]time.Time),
		cooldown:        make(map[string]struct{}),
		allowed:         make(map[string]struct{}),
		disabled:        make(map[string]struct{}),
		triggerChars:    make(map[string][]string),
		semanticTokens:  make(map[string]semanticTokensCaps),
		now:             time.Now,
		log:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLauncher installs the execution context used to create server
// processes. Until this is called every spawn attempt fails.
func (m *Manager) SetLauncher(l Launcher) {
	m.mu.Lock()
	m.launcher = l
	m.mu.Unlock()
}

// SetRootURI replaces the workspace root sent to newly spawned servers.
func (m *Manager) SetRootURI(root uri.URI) {
	m.mu.Lock()
	m.rootURI = root
	m.mu.Unlock()
}

// RootURI returns the current workspace root.
func (m *Manager) RootURI() uri.URI {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rootURI
}

// RegisterServer registers or replaces the configuration for a language.
// Last write wins.
func (m *Manager) RegisterServer(language string, config ServerConfig) {
	m.mu.Lock()
	m.configs[language] = config
	m.mu.Unlock()
}

// Config returns the configuration for a language.
func (m *Manager) Config(language string) (ServerConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[language]
	return cfg, ok
}

// RegisteredLanguages returns the languages with a configuration entry,
// sorted.
func (m *Manager) RegisteredLanguages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	langs := make([]string, 0, len(m.configs))
	for lang := range m.configs {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// --- Spawning ---

// ForceSpawn is the sole handle-creation path. It is idempotent: an
// existing handle is returned unchanged. It refuses a language the user
// disabled, even when called from the restart poller; ManualRestart
// clears the disabled mark before calling it.
func (m *Manager) ForceSpawn(language string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forceSpawnLocked(language)
}

func (m *Manager) forceSpawnLocked(language string) (Handle, error) {
	if h, ok := m.handles[language]; ok {
		return h, nil
	}

	if _, off := m.disabled[language]; off {
		m.log.Debug().Str("language", language).
			Msg("language disabled by user, not spawning")
		return nil, &ServerError{Language: language, Err: ErrServerDisabled}
	}

	cfg, ok := m.configs[language]
	if !ok {
		return nil, &ServerError{Language: language, Err: ErrNotConfigured}
	}
	if !cfg.Enabled || cfg.Command == "" {
		return nil, &ServerError{Language: language, Err: ErrServerDisabled}
	}

	if m.launcher == nil {
		return nil, &ServerError{Language: language, Err: ErrLauncherNotSet}
	}

	m.log.Info().Str("language", language).Str("command", cfg.Command).
		Msg("spawning language server")

	h, err := m.launcher.Launch(cfg.Command, cfg.Args, language, cfg.Limits)
	if err != nil {
		m.log.Error().Err(err).Str("language", language).
			Msg("language server spawn failed")
		return nil, &ServerError{Language: language, Err: fmt.Errorf("%w: %v", ErrSpawnFailed, err)}
	}

	if err := h.Initialize(m.rootURI, cfg.InitializationOptions); err != nil {
		// The handle is half-alive at best; discard it rather than
		// inserting it into the table.
		_ = h.Shutdown()
		m.log.Error().Err(err).Str("language", language).
			Msg("failed to send initialize request")
		return nil, &ServerError{Language: language, Err: fmt.Errorf("%w: %v", ErrInitializeFailed, err)}
	}

	m.handles[language] = h
	return h, nil
}

// TrySpawn wraps ForceSpawn with auto-start policy. This is the entry
// point used when a matching file is opened.
func (m *Manager) TrySpawn(language string) SpawnResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handles[language]; ok {
		return SpawnResultSpawned
	}

	cfg, ok := m.configs[language]
	if !ok || !cfg.Enabled {
		return SpawnResultFailed
	}

	if m.launcher == nil {
		return SpawnResultFailed
	}

	if !cfg.AutoStart {
		if _, allowed := m.allowed[language]; !allowed {
			return SpawnResultNotAutoStart
		}
	}

	if _, err := m.forceSpawnLocked(language); err != nil {
		return SpawnResultFailed
	}
	return SpawnResultSpawned
}

// --- Handle table ---

// Handle returns the live handle for a language, if any. The reference
// is borrowed: crash handling or shutdown can invalidate it at the next
// mutating call.
func (m *Manager) Handle(language string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[language]
	return h, ok
}

// RunningServers returns the languages with a live handle, sorted.
// Having a handle does not imply the handle finished initializing; use
// IsServerReady for that.
func (m *Manager) RunningServers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	langs := make([]string, 0, len(m.handles))
	for lang := range m.handles {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// IsServerReady reports whether a live handle exists and can accept
// requests.
func (m *Manager) IsServerReady(language string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[language]
	return ok && h.CanSendRequests()
}

// --- Crash recovery ---

// HandleServerCrash records a crash and schedules a restart with
// exponential backoff. It returns a status message for the UI. The
// restart itself fires later, from ProcessPendingRestarts.
func (m *Manager) HandleServerCrash(language string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The process is already gone; shutdown is best effort.
	if h, ok := m.handles[language]; ok {
		delete(m.handles, language)
		_ = h.Shutdown()
	}

	if _, off := m.disabled[language]; off {
		return fmt.Sprintf("LSP server for %s stopped. Restart it manually to start it again.", language)
	}

	if _, cool := m.cooldown[language]; cool {
		return fmt.Sprintf("LSP server for %s crashed. Too many restarts - restart it manually to retry.", language)
	}

	now := m.now()
	attempts := m.pruneAttemptsLocked(language, now)

	if len(attempts) >= maxRestartsInWindow {
		m.cooldown[language] = struct{}{}
		m.log.Warn().Str("language", language).
			Int("restarts", maxRestartsInWindow).
			Dur("window", restartWindow).
			Msg("language server entered restart cooldown")
		return fmt.Sprintf("LSP server for %s has crashed too many times (%d in %d min). Restart it manually to retry.",
			language, maxRestartsInWindow, int(restartWindow.Minutes()))
	}

	attempt := len(attempts)
	delay := restartBackoffBase << attempt
	m.pendingRestarts[language] = now.Add(delay)

	m.log.Info().Str("language", language).
		Int("attempt", attempt+1).
		Int("max", maxRestartsInWindow).
		Dur("delay", delay).
		Msg("scheduled language server restart")

	return fmt.Sprintf("LSP server for %s crashed (attempt %d/%d), restarting in %ds...",
		language, attempt+1, maxRestartsInWindow, int(delay.Seconds()))
}

// ProcessPendingRestarts fires every scheduled restart that is due and
// returns one result per language attempted. This is the only place
// automatic spawning occurs; the host must poll it on its own cadence.
func (m *Manager) ProcessPendingRestarts() []RestartResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	var due []string
	for language, at := range m.pendingRestarts {
		if !at.After(now) {
			due = append(due, language)
		}
	}
	sort.Strings(due)

	var results []RestartResult
	for _, language := range due {
		delete(m.pendingRestarts, language)

		// Count the attempt even if the spawn fails, so repeated
		// failures still march toward cooldown.
		m.restartAttempts[language] = append(m.restartAttempts[language], now)

		if _, err := m.forceSpawnLocked(language); err != nil {
			m.log.Error().Err(err).Str("language", language).
				Msg("automatic restart failed")
			results = append(results, RestartResult{
				Language: language,
				Success:  false,
				Message:  fmt.Sprintf("Failed to restart LSP server for %s", language),
			})
			continue
		}

		m.log.Info().Str("language", language).Msg("language server restarted")
		results = append(results, RestartResult{
			Language: language,
			Success:  true,
			Message:  fmt.Sprintf("LSP server for %s restarted successfully", language),
		})
	}
	return results
}

// pruneAttemptsLocked drops attempts older than the trailing window and
// returns what remains.
func (m *Manager) pruneAttemptsLocked(language string, now time.Time) []time.Time {
	attempts := m.restartAttempts[language]
	kept := attempts[:0]
	for _, t := range attempts {
		if now.Sub(t) < restartWindow {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(m.restartAttempts, language)
		return nil
	}
	m.restartAttempts[language] = kept
	return kept
}

// ClearCooldown forgets all failure memory for a language: the cooldown
// flag, the crash history and any pending restart.
func (m *Manager) ClearCooldown(language string) {
	m.mu.Lock()
	m.clearCooldownLocked(language)
	m.mu.Unlock()
}

func (m *Manager) clearCooldownLocked(language string) {
	delete(m.cooldown, language)
	delete(m.restartAttempts, language)
	delete(m.pendingRestarts, language)
}

// IsInCooldown reports whether automatic restarts are suppressed for a
// language after repeated crashes.
func (m *Manager) IsInCooldown(language string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cooldown[language]
	return ok
}

// HasPendingRestart reports whether a restart is scheduled.
func (m *Manager) HasPendingRestart(language string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pendingRestarts[language]
	return ok
}

// RestartAttemptCount returns the number of automatic restarts fired
// within the trailing window.
func (m *Manager) RestartAttemptCount(language string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pruneAttemptsLocked(language, m.now()))
}

// --- Manual override ---

// ManualRestart starts or restarts a server at the user's request. It
// clears cooldown and disabled state, marks the language allowed so an
// auto_start=false server stays running across future crashes, and
// attempts exactly one spawn.
func (m *Manager) ManualRestart(language string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearCooldownLocked(language)
	delete(m.disabled, language)
	m.allowed[language] = struct{}{}

	if h, ok := m.handles[language]; ok {
		delete(m.handles, language)
		_ = h.Shutdown()
	}

	if _, err := m.forceSpawnLocked(language); err != nil {
		m.log.Error().Err(err).Str("language", language).Msg("manual restart failed")
		return false, fmt.Sprintf("Failed to start LSP server for %s", language)
	}

	m.log.Info().Str("language", language).Msg("language server manually restarted")
	return true, fmt.Sprintf("LSP server for %s started", language)
}

// ShutdownServer stops a server at the user's request and marks the
// language disabled so nothing restarts it automatically. The allowed
// mark is removed too: starting it again is a fresh decision. Returns
// false when no handle exists.
func (m *Manager) ShutdownServer(language string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handles[language]
	if !ok {
		m.log.Warn().Str("language", language).Msg("no running language server to shut down")
		return false
	}

	m.log.Info().Str("language", language).
		Msg("shutting down language server (disabled until manual restart)")

	delete(m.handles, language)
	_ = h.Shutdown()

	m.disabled[language] = struct{}{}
	delete(m.pendingRestarts, language)
	delete(m.cooldown, language)
	delete(m.allowed, language)
	return true
}

// AllowLanguage unlocks a language with auto_start=false so TrySpawn
// will start it without further confirmation.
func (m *Manager) AllowLanguage(language string) {
	m.mu.Lock()
	m.allowed[language] = struct{}{}
	m.mu.Unlock()
	m.log.Info().Str("language", language).Msg("language manually enabled")
}

// IsLanguageAllowed reports whether the user unlocked the language.
func (m *Manager) IsLanguageAllowed(language string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.allowed[language]
	return ok
}

// AllowedLanguages returns the manually unlocked languages, sorted.
func (m *Manager) AllowedLanguages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	langs := make([]string, 0, len(m.allowed))
	for lang := range m.allowed {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// ResetForNewProject shuts down every server, replaces the workspace
// root and clears all crash-tracking state. User intent (allowed and
// disabled sets) and the configuration store survive the switch.
func (m *Manager) ResetForNewProject(root uri.URI) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for language, h := range m.handles {
		m.log.Info().Str("language", language).Msg("shutting down language server for project switch")
		_ = h.Shutdown()
	}
	m.handles = make(map[string]Handle)

	m.rootURI = root
	m.restartAttempts = make(map[string][]time.Time)
	m.pendingRestarts = make(map[string]time.Time)
	m.cooldown = make(map[string]struct{})
}

// ShutdownAll shuts down every running server. Used on editor exit.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for language, h := range m.handles {
		m.log.Info().Str("language", language).Msg("shutting down language server")
		_ = h.Shutdown()
	}
	m.handles = make(map[string]Handle)
}

// --- Capability cache ---

// SetCompletionTriggerCharacters replaces the cached completion trigger
// characters for a language.
func (m *Manager) SetCompletionTriggerCharacters(language string, chars []string) {
	m.mu.Lock()
	m.triggerChars[language] = chars
	m.mu.Unlock()
}

// CompletionTriggerCharacters returns the cached trigger characters, or
// nil when the server has not announced any.
func (m *Manager) CompletionTriggerCharacters(language string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggerChars[language]
}

// SetSemanticTokensCapabilities replaces the cached semantic-token
// record for a language. A server re-announcing after a restart fully
// replaces the stale record.
func (m *Manager) SetSemanticTokensCapabilities(language string, legend *protocol.SemanticTokensLegend, full bool) {
	m.mu.Lock()
	m.semanticTokens[language] = semanticTokensCaps{legend: legend, full: full}
	m.mu.Unlock()
}

// SemanticTokensLegend returns the cached legend, or nil when unknown.
func (m *Manager) SemanticTokensLegend(language string) *protocol.SemanticTokensLegend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.semanticTokens[language].legend
}

// SupportsSemanticTokensFull reports whether the server announced full
// document semantic tokens. False when unknown.
func (m *Manager) SupportsSemanticTokensFull(language string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.semanticTokens[language].full
}
