// Package bridge carries messages from background goroutines to the
// synchronous UI loop.
//
// I/O (language servers, file watching) runs on its own goroutines; the
// main loop stays synchronous. A single buffered channel joins the two
// worlds: producers use non-blocking Send, the UI drains TryRecvAll once
// per tick.
package bridge

import (
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// ServerStatus tracks a language server's lifecycle as observed through
// status updates.
type ServerStatus int

const (
	// StatusStarting means the process has been created.
	StatusStarting ServerStatus = iota
	// StatusInitializing means the initialize handshake is in flight.
	StatusInitializing
	// StatusRunning means the server accepted the handshake and serves
	// requests.
	StatusRunning
	// StatusError means the server failed or its process died.
	StatusError
	// StatusShutdown means the server was stopped deliberately.
	StatusShutdown
)

// String returns a human-readable status name.
func (s ServerStatus) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusInitializing:
		return "initializing"
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	case StatusShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Message is one value delivered to the UI loop. Concrete types:
// StatusUpdate, Initialized, Diagnostics, ServerError.
type Message any

// StatusUpdate reports a lifecycle change for one language server.
type StatusUpdate struct {
	Language string
	Status   ServerStatus
}

// Initialized reports a completed handshake along with the capabilities
// the server announced.
type Initialized struct {
	Language             string
	TriggerCharacters    []string
	SemanticTokensLegend *protocol.SemanticTokensLegend
	SemanticTokensFull   bool
}

// Diagnostics carries published diagnostics for one document.
type Diagnostics struct {
	URI         uri.URI
	Diagnostics []protocol.Diagnostic
}

// ServerError reports a server failure, with a pointer to the stderr
// log captured for that session.
type ServerError struct {
	Language      string
	Err           error
	StderrLogPath string
}

// defaultCapacity is sized for bursts of diagnostics between UI ticks.
const defaultCapacity = 256

// Bridge is a buffered, drop-on-full channel of messages.
type Bridge struct {
	ch chan Message
}

// New creates a bridge with the default capacity.
func New() *Bridge {
	return NewWithCapacity(defaultCapacity)
}

// NewWithCapacity creates a bridge holding at most n undelivered
// messages.
func NewWithCapacity(n int) *Bridge {
	return &Bridge{ch: make(chan Message, n)}
}

// Send delivers a message without blocking. When the buffer is full the
// message is dropped and Send returns false; a stalled UI must never
// back-pressure a server's read loop.
func (b *Bridge) Send(msg Message) bool {
	select {
	case b.ch <- msg:
		return true
	default:
		return false
	}
}

// TryRecvAll drains every message currently buffered, without blocking.
func (b *Bridge) TryRecvAll() []Message {
	var msgs []Message
	for {
		select {
		case msg := <-b.ch:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}
