package lsp

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/dshills/vellum/internal/bridge"
)

// Launcher is the execution context that creates protocol client
// handles. The Manager is handed one at startup and never forks a
// process itself.
type Launcher interface {
	Launch(command string, args []string, language string, limits ProcessLimits) (Handle, error)
}

// ProcessLauncher launches real server processes over stdio. Stderr is
// redirected to a per-session temp file so a crashing server leaves
// something to inspect.
type ProcessLauncher struct {
	bridge *bridge.Bridge
	log    zerolog.Logger
}

// NewProcessLauncher creates a launcher reporting through the given
// bridge.
func NewProcessLauncher(b *bridge.Bridge, log zerolog.Logger) *ProcessLauncher {
	return &ProcessLauncher{bridge: b, log: log}
}

// Launch starts the server process and returns its handle. The handle
// is in StateStarting; callers follow up with Initialize.
func (l *ProcessLauncher) Launch(command string, args []string, language string, limits ProcessLimits) (Handle, error) {
	stderrFile, err := os.CreateTemp("", "vellum-lsp-"+language+"-*.log")
	if err != nil {
		return nil, fmt.Errorf("create stderr log: %w", err)
	}
	stderrLogPath := stderrFile.Name()

	cmd := exec.Command(command, args...)
	cmd.Stderr = stderrFile

	stdin, err := cmd.StdinPipe()
	if err != nil {
		stderrFile.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stderrFile.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stderrFile.Close()
		os.Remove(stderrLogPath)
		return nil, fmt.Errorf("start %s: %w", command, err)
	}
	// The child holds its own descriptor now.
	stderrFile.Close()

	if !limits.IsUnlimited() {
		if err := limits.apply(cmd.Process.Pid); err != nil {
			l.log.Warn().Err(err).Str("language", language).
				Msg("failed to apply process limits")
		}
	}

	l.log.Info().Str("language", language).Str("command", command).
		Int("pid", cmd.Process.Pid).
		Str("stderr_log", stderrLogPath).
		Msg("language server process started")

	c := &Client{
		language:      language,
		cmd:           cmd,
		bridge:        l.bridge,
		log:           l.log,
		stderrLogPath: stderrLogPath,
		exited:        make(chan struct{}),
		versions:      make(map[uri.URI]int32),
	}
	c.state.Store(int32(StateStarting))

	c.transport = NewTransport(stdout, stdin, stdin, l.log)
	c.transport.OnNotification(protocol.MethodTextDocumentPublishDiagnostics, c.handleDiagnostics)
	c.transport.Start(context.Background())

	go c.monitorProcess()

	l.bridge.Send(bridge.StatusUpdate{Language: language, Status: bridge.StatusStarting})
	return c, nil
}
