package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the spawn and client paths.
var (
	// ErrNotConfigured indicates no server entry exists for the language.
	ErrNotConfigured = errors.New("no server configured for language")

	// ErrServerDisabled indicates the server is disabled, either by
	// configuration or by an explicit user stop.
	ErrServerDisabled = errors.New("server disabled for language")

	// ErrLauncherNotSet indicates no launcher has been installed yet.
	ErrLauncherNotSet = errors.New("launcher not set")

	// ErrSpawnFailed indicates the launcher could not create the process.
	ErrSpawnFailed = errors.New("failed to spawn server process")

	// ErrInitializeFailed indicates the initialize request could not be
	// submitted on a freshly launched handle.
	ErrInitializeFailed = errors.New("failed to send initialize request")

	// ErrNotRunning indicates the client cannot accept requests in its
	// current state.
	ErrNotRunning = errors.New("server not running")

	// ErrInvalidTransition indicates a client state change that is not
	// permitted from the current state.
	ErrInvalidTransition = errors.New("invalid client state transition")

	// ErrShutdown indicates the transport has been closed.
	ErrShutdown = errors.New("transport shut down")
)

// RPCError represents a JSON-RPC error from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
)

// ServerError wraps an error with the language it occurred for.
type ServerError struct {
	Language string
	Err      error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %v", e.Language, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}
