package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// safeBuffer is a goroutine-safe write sink.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// frame wraps a JSON body in Content-Length framing.
func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

// readFrame consumes one framed message, as a server would.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var length int
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if rest, ok := strings.CutPrefix(strings.ToLower(line), "content-length:"); ok {
			length, _ = strconv.Atoi(strings.TrimSpace(rest))
		}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// newSinkTransport builds a transport whose writes land in a buffer and
// whose reads come from the returned pipe. For tests where nothing
// needs to answer requests.
func newSinkTransport(t *testing.T) (*Transport, *io.PipeWriter, *safeBuffer) {
	t.Helper()
	serverOut, serverIn := io.Pipe()
	sink := &safeBuffer{}
	tr := NewTransport(serverOut, sink, serverOut, zerolog.Nop())
	tr.Start(context.Background())
	t.Cleanup(func() { _ = tr.Close() })
	return tr, serverIn, sink
}

// newServerTransport builds a transport wired to a fake server: respond
// receives each request body and returns the raw body to send back, or
// "" for no reply.
func newServerTransport(t *testing.T, respond func(req []byte) string) *Transport {
	t.Helper()
	serverOut, serverIn := io.Pipe() // server -> client
	clientOut, clientIn := io.Pipe() // client -> server

	tr := NewTransport(serverOut, clientIn, serverOut, zerolog.Nop())
	tr.Start(context.Background())
	t.Cleanup(func() {
		_ = tr.Close()
		_ = clientOut.Close()
	})

	go func() {
		r := bufio.NewReader(clientOut)
		for {
			req, err := readFrame(r)
			if err != nil {
				return
			}
			if reply := respond(req); reply != "" {
				if _, err := serverIn.Write([]byte(frame(reply))); err != nil {
					return
				}
			}
		}
	}()

	return tr
}

// echoID builds a responder that answers every request with the given
// body template, substituting the request's id for %d.
func echoID(template string) func([]byte) string {
	return func(req []byte) string {
		var probe struct {
			ID int64 `json:"id"`
		}
		_ = json.Unmarshal(req, &probe)
		return fmt.Sprintf(template, probe.ID)
	}
}

func TestTransportCall_Result(t *testing.T) {
	tr := newServerTransport(t, echoID(`{"jsonrpc":"2.0","id":%d,"result":{"value":42}}`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result struct {
		Value int `json:"value"`
	}
	if err := tr.Call(ctx, "test/echo", map[string]int{"value": 42}, &result); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.Value != 42 {
		t.Errorf("result.Value = %d, want 42", result.Value)
	}
}

func TestTransportCall_ServerError(t *testing.T) {
	tr := newServerTransport(t, echoID(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := tr.Call(ctx, "test/missing", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestTransportCall_SequentialIDs(t *testing.T) {
	tr := newServerTransport(t, func(req []byte) string {
		var probe struct {
			ID int64 `json:"id"`
		}
		_ = json.Unmarshal(req, &probe)
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%d}`, probe.ID, probe.ID)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Each call's result echoes its request id; ids must count up.
	for want := int64(1); want <= 3; want++ {
		var got int64
		if err := tr.Call(ctx, "test/seq", nil, &got); err != nil {
			t.Fatalf("call %d failed: %v", want, err)
		}
		if got != want {
			t.Errorf("request id = %d, want %d", got, want)
		}
	}
}

func TestTransportCall_ContextTimeout(t *testing.T) {
	tr, _, _ := newSinkTransport(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tr.Call(ctx, "test/never", nil, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTransportCall_AfterClose(t *testing.T) {
	tr, _, _ := newSinkTransport(t)
	_ = tr.Close()

	if err := tr.Call(context.Background(), "test/echo", nil, nil); !errors.Is(err, ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", err)
	}
	if err := tr.Notify(context.Background(), "test/note", nil); !errors.Is(err, ErrShutdown) {
		t.Errorf("Notify after close: expected ErrShutdown, got %v", err)
	}
}

func TestTransportCall_UnblockedByClose(t *testing.T) {
	tr, _, _ := newSinkTransport(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- tr.Call(context.Background(), "test/never", nil, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	_ = tr.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrShutdown) {
			t.Errorf("expected ErrShutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not unblock after Close")
	}
}

func TestTransportClose_Idempotent(t *testing.T) {
	tr, _, _ := newSinkTransport(t)
	if err := tr.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if !tr.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}

func TestTransportNotify_Framing(t *testing.T) {
	tr, _, sink := newSinkTransport(t)

	if err := tr.Notify(context.Background(), "test/note", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	out := sink.String()
	if !strings.HasPrefix(out, "Content-Length: ") {
		t.Fatalf("missing Content-Length header: %q", out)
	}
	body := out[strings.Index(out, "\r\n\r\n")+4:]
	var msg Request
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if msg.Method != "test/note" || msg.JSONRPC != "2.0" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.ID != 0 {
		t.Errorf("notification carried an id: %d", msg.ID)
	}
}

func TestTransportNotificationHandler(t *testing.T) {
	tr, serverIn, _ := newSinkTransport(t)

	got := make(chan json.RawMessage, 1)
	tr.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		got <- params
	})

	go func() {
		_, _ = serverIn.Write([]byte(frame(`{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3,"message":"hi"}}`)))
	}()

	select {
	case params := <-got:
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.Message != "hi" {
			t.Errorf("bad params: %s (%v)", params, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never fired")
	}
}

func TestTransportNotificationHandler_Wildcard(t *testing.T) {
	tr, serverIn, _ := newSinkTransport(t)

	got := make(chan string, 1)
	tr.OnNotification("*", func(method string, params json.RawMessage) {
		got <- method
	})

	go func() {
		_, _ = serverIn.Write([]byte(frame(`{"jsonrpc":"2.0","method":"some/unknown","params":{}}`)))
	}()

	select {
	case method := <-got:
		if method != "some/unknown" {
			t.Errorf("method = %q, want some/unknown", method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wildcard handler never fired")
	}
}

func TestTransportReadLoop_SkipsGarbage(t *testing.T) {
	tr, serverIn, _ := newSinkTransport(t)

	got := make(chan string, 1)
	tr.OnNotification("after/garbage", func(method string, params json.RawMessage) {
		got <- method
	})

	go func() {
		// Unparseable body, then a valid notification. The loop must
		// survive the first and deliver the second.
		_, _ = serverIn.Write([]byte(frame(`{not json`)))
		_, _ = serverIn.Write([]byte(frame(`{"jsonrpc":"2.0","method":"after/garbage"}`)))
	}()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not recover from a bad message")
	}
}
