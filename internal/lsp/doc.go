// Package lsp manages external language server processes.
//
// # Architecture
//
// The package is built around three layers:
//
//   - Manager: owns at most one protocol client handle per language and
//     enforces spawn policy (auto-start, user disable, crash cooldown).
//     All restart timing is poll-driven; the host must call
//     ProcessPendingRestarts on its own cadence or scheduled restarts
//     never fire.
//   - Client: a process-backed protocol client. It pumps JSON-RPC over
//     the child's stdio and reports lifecycle changes through the async
//     bridge. Initialization is non-blocking; readiness is observed via
//     CanSendRequests.
//   - Transport: Content-Length framed JSON-RPC 2.0 over a reader/writer
//     pair, with a pending-response table and a notification registry.
//
// # Crash Recovery
//
// When the host reports a crash via HandleServerCrash, the Manager
// schedules a restart with exponential backoff (1s, 2s, 4s, 8s, 16s).
// Restart attempts are tracked in a trailing 180 second window; once
// five automatic restarts have fired inside the window the language
// enters cooldown and stays down until ManualRestart or ClearCooldown.
//
// A language the user stopped with ShutdownServer is marked disabled
// and is refused by every spawn path, including the restart poller.
// ManualRestart is the only operation that clears the disabled mark.
package lsp
