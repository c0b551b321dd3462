package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/dshills/vellum/internal/bridge"
)

// Timeouts for the asynchronous parts of the client lifecycle.
const (
	initializeTimeout = 10 * time.Second
	shutdownTimeout   = 3 * time.Second
	exitGracePeriod   = 2 * time.Second
)

// ClientState tracks a protocol client's lifecycle.
type ClientState int32

const (
	// StateStarting means the process exists but initialize has not
	// been submitted.
	StateStarting ClientState = iota
	// StateInitializing means the initialize handshake is in flight.
	StateInitializing
	// StateRunning means the handshake completed and requests may be
	// sent.
	StateRunning
	// StateStopping means a shutdown is in progress.
	StateStopping
	// StateStopped means the client has been shut down.
	StateStopped
	// StateError means the handshake failed or the process died.
	StateError
)

// String returns a human-readable state name.
func (s ClientState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// CanSendRequests reports whether requests may be sent in this state.
func (s ClientState) CanSendRequests() bool {
	return s == StateRunning
}

// Handle is the capability surface the supervisor holds per running
// language server. The Manager uses Initialize, Shutdown, Language and
// CanSendRequests; the host borrows handles for document sync.
type Handle interface {
	// Initialize submits the initialize request. It returns as soon as
	// the request has been submitted; the handshake completes
	// asynchronously and readiness is observed via CanSendRequests.
	Initialize(root uri.URI, options any) error

	// Shutdown stops the server. Best effort and non-blocking.
	Shutdown() error

	// Language returns the language this handle serves.
	Language() string

	// State returns the current lifecycle state.
	State() ClientState

	// CanSendRequests reports whether the handle finished initializing.
	CanSendRequests() bool

	// Document synchronization notifications.
	DidOpen(path, languageID, text string) error
	DidChange(path, text string) error
	DidClose(path string) error
	DidSave(path, text string) error
}

// Client is the process-backed Handle implementation. One Client wraps
// one child process and its JSON-RPC transport. Lifecycle changes are
// reported through the bridge, never delivered synchronously.
type Client struct {
	language      string
	cmd           *exec.Cmd
	transport     *Transport
	bridge        *bridge.Bridge
	log           zerolog.Logger
	stderrLogPath string

	state  atomic.Int32
	exited chan struct{} // closed when the process has been reaped

	mu       sync.Mutex
	versions map[uri.URI]int32 // didChange version counters
}

// Language returns the language this client serves.
func (c *Client) Language() string {
	return c.language
}

// State returns the current lifecycle state.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// CanSendRequests reports whether the handshake has completed.
func (c *Client) CanSendRequests() bool {
	return c.State().CanSendRequests()
}

// StderrLogPath returns the file the server's stderr is captured to.
func (c *Client) StderrLogPath() string {
	return c.stderrLogPath
}

// Initialize submits the initialize request. The handshake itself runs
// on a goroutine with a deadline; its outcome arrives via the bridge as
// an Initialized message or a ServerError.
func (c *Client) Initialize(root uri.URI, options any) error {
	if !c.state.CompareAndSwap(int32(StateStarting), int32(StateInitializing)) {
		return fmt.Errorf("%w: cannot initialize while %s", ErrInvalidTransition, c.State())
	}
	c.bridge.Send(bridge.StatusUpdate{Language: c.language, Status: bridge.StatusInitializing})
	go c.runHandshake(root, options)
	return nil
}

// initializeResult holds the slice of the server's initialize response
// this editor consumes.
type initializeResult struct {
	Capabilities struct {
		CompletionProvider *struct {
			TriggerCharacters []string `json:"triggerCharacters"`
		} `json:"completionProvider"`
		SemanticTokensProvider json.RawMessage `json:"semanticTokensProvider"`
	} `json:"capabilities"`
}

func (c *Client) runHandshake(root uri.URI, options any) {
	ctx, cancel := context.WithTimeout(context.Background(), initializeTimeout)
	defer cancel()

	params := protocol.InitializeParams{
		ProcessID:             int32(os.Getpid()),
		Capabilities:          protocol.ClientCapabilities{},
		InitializationOptions: options,
	}
	if root != "" {
		params.RootURI = root
	}

	var result initializeResult
	if err := c.transport.Call(ctx, protocol.MethodInitialize, &params, &result); err != nil {
		c.failHandshake(fmt.Errorf("initialize: %w", err))
		return
	}

	if err := c.transport.Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		c.failHandshake(fmt.Errorf("initialized notification: %w", err))
		return
	}

	// A shutdown may have raced the handshake; don't resurrect.
	if !c.state.CompareAndSwap(int32(StateInitializing), int32(StateRunning)) {
		return
	}

	var trigger []string
	if cp := result.Capabilities.CompletionProvider; cp != nil {
		trigger = cp.TriggerCharacters
	}
	legend, full := parseSemanticTokensProvider(result.Capabilities.SemanticTokensProvider)

	c.log.Info().Str("language", c.language).Msg("language server initialized")
	c.bridge.Send(bridge.Initialized{
		Language:             c.language,
		TriggerCharacters:    trigger,
		SemanticTokensLegend: legend,
		SemanticTokensFull:   full,
	})
	c.bridge.Send(bridge.StatusUpdate{Language: c.language, Status: bridge.StatusRunning})
}

func (c *Client) failHandshake(err error) {
	c.state.Store(int32(StateError))
	c.log.Error().Err(err).Str("language", c.language).Msg("lsp handshake failed")
	c.bridge.Send(bridge.ServerError{Language: c.language, Err: err, StderrLogPath: c.stderrLogPath})
	c.bridge.Send(bridge.StatusUpdate{Language: c.language, Status: bridge.StatusError})
}

// parseSemanticTokensProvider extracts the legend and full-document
// support flag. The "full" field may be a bool or an options object;
// anything but false counts as support.
func parseSemanticTokensProvider(raw json.RawMessage) (*protocol.SemanticTokensLegend, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var opts struct {
		Legend protocol.SemanticTokensLegend `json:"legend"`
		Full   json.RawMessage               `json:"full"`
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, false
	}
	full := len(opts.Full) > 0 && string(opts.Full) != "false" && string(opts.Full) != "null"
	if len(opts.Legend.TokenTypes) == 0 {
		return nil, full
	}
	legend := opts.Legend
	return &legend, full
}

// Shutdown stops the server: polite shutdown/exit over the wire, then a
// kill if the process lingers. Non-blocking; safe to call repeatedly.
func (c *Client) Shutdown() error {
	for {
		prev := c.State()
		if prev == StateStopping || prev == StateStopped {
			return nil
		}
		if c.state.CompareAndSwap(int32(prev), int32(StateStopping)) {
			break
		}
	}

	c.bridge.Send(bridge.StatusUpdate{Language: c.language, Status: bridge.StatusShutdown})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = c.transport.Call(ctx, protocol.MethodShutdown, nil, nil)
		_ = c.transport.Notify(ctx, protocol.MethodExit, nil)
		_ = c.transport.Close()

		select {
		case <-c.exited:
		case <-time.After(exitGracePeriod):
			if c.cmd.Process != nil {
				_ = c.cmd.Process.Kill()
			}
		}
		c.state.Store(int32(StateStopped))
	}()

	return nil
}

// monitorProcess reaps the child and reports unexpected exits.
func (c *Client) monitorProcess() {
	err := c.cmd.Wait()
	close(c.exited)

	prev := c.State()
	if prev == StateStopping || prev == StateStopped {
		c.state.Store(int32(StateStopped))
		return
	}

	c.state.Store(int32(StateError))
	if err == nil {
		err = errors.New("process exited")
	}
	c.log.Error().Err(err).Str("language", c.language).
		Str("stderr_log", c.stderrLogPath).
		Msg("language server process died")

	_ = c.transport.Close()
	c.bridge.Send(bridge.ServerError{Language: c.language, Err: err, StderrLogPath: c.stderrLogPath})
	c.bridge.Send(bridge.StatusUpdate{Language: c.language, Status: bridge.StatusError})
}

// handleDiagnostics forwards textDocument/publishDiagnostics to the UI.
func (c *Client) handleDiagnostics(method string, params json.RawMessage) {
	var p protocol.PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		c.log.Debug().Err(err).Str("language", c.language).Msg("bad diagnostics payload")
		return
	}
	c.bridge.Send(bridge.Diagnostics{URI: p.URI, Diagnostics: p.Diagnostics})
}

// --- Document synchronization ---

// DidOpen announces an opened document.
func (c *Client) DidOpen(path, languageID, text string) error {
	if !c.CanSendRequests() {
		return ErrNotRunning
	}
	docURI := uri.File(path)

	c.mu.Lock()
	c.versions[docURI] = 1
	c.mu.Unlock()

	return c.transport.Notify(context.Background(), protocol.MethodTextDocumentDidOpen,
		&protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        docURI,
				LanguageID: protocol.LanguageIdentifier(languageID),
				Version:    1,
				Text:       text,
			},
		})
}

// DidChange sends the full new text of a document.
func (c *Client) DidChange(path, text string) error {
	if !c.CanSendRequests() {
		return ErrNotRunning
	}
	docURI := uri.File(path)

	c.mu.Lock()
	version := c.versions[docURI] + 1
	c.versions[docURI] = version
	c.mu.Unlock()

	return c.transport.Notify(context.Background(), protocol.MethodTextDocumentDidChange,
		&protocol.DidChangeTextDocumentParams{
			TextDocument: protocol.VersionedTextDocumentIdentifier{
				TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: docURI},
				Version:                version,
			},
			ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: text}},
		})
}

// DidClose announces a closed document.
func (c *Client) DidClose(path string) error {
	if !c.CanSendRequests() {
		return ErrNotRunning
	}
	docURI := uri.File(path)

	c.mu.Lock()
	delete(c.versions, docURI)
	c.mu.Unlock()

	return c.transport.Notify(context.Background(), protocol.MethodTextDocumentDidClose,
		&protocol.DidCloseTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
		})
}

// DidSave announces a saved document, including its text.
func (c *Client) DidSave(path, text string) error {
	if !c.CanSendRequests() {
		return ErrNotRunning
	}
	return c.transport.Notify(context.Background(), protocol.MethodTextDocumentDidSave,
		&protocol.DidSaveTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri.File(path)},
			Text:         text,
		})
}
