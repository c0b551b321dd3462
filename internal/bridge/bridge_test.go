package bridge

import (
	"errors"
	"testing"
)

func TestBridgeOrdering(t *testing.T) {
	b := New()

	b.Send(StatusUpdate{Language: "rust", Status: StatusStarting})
	b.Send(StatusUpdate{Language: "rust", Status: StatusInitializing})
	b.Send(StatusUpdate{Language: "rust", Status: StatusRunning})

	msgs := b.TryRecvAll()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}

	want := []ServerStatus{StatusStarting, StatusInitializing, StatusRunning}
	for i, msg := range msgs {
		update, ok := msg.(StatusUpdate)
		if !ok {
			t.Fatalf("message %d is %T, want StatusUpdate", i, msg)
		}
		if update.Status != want[i] {
			t.Errorf("message %d status = %v, want %v", i, update.Status, want[i])
		}
	}
}

func TestBridgeDropOnFull(t *testing.T) {
	b := NewWithCapacity(2)

	if !b.Send(StatusUpdate{Language: "a"}) {
		t.Fatal("first send should succeed")
	}
	if !b.Send(StatusUpdate{Language: "b"}) {
		t.Fatal("second send should succeed")
	}
	if b.Send(StatusUpdate{Language: "c"}) {
		t.Error("send to a full bridge should drop and return false")
	}

	msgs := b.TryRecvAll()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].(StatusUpdate).Language != "a" || msgs[1].(StatusUpdate).Language != "b" {
		t.Errorf("buffered messages = %v", msgs)
	}
}

func TestBridgeEmptyDrain(t *testing.T) {
	b := New()
	if msgs := b.TryRecvAll(); msgs != nil {
		t.Errorf("TryRecvAll on empty bridge = %v, want nil", msgs)
	}
}

func TestBridgeMixedMessageTypes(t *testing.T) {
	b := New()

	b.Send(StatusUpdate{Language: "go", Status: StatusRunning})
	b.Send(Initialized{Language: "go", TriggerCharacters: []string{"."}})
	b.Send(ServerError{Language: "go", Err: errors.New("boom"), StderrLogPath: "/tmp/x.log"})

	msgs := b.TryRecvAll()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if _, ok := msgs[0].(StatusUpdate); !ok {
		t.Errorf("message 0 is %T", msgs[0])
	}
	if init, ok := msgs[1].(Initialized); !ok || init.TriggerCharacters[0] != "." {
		t.Errorf("message 1 = %v", msgs[1])
	}
	if se, ok := msgs[2].(ServerError); !ok || se.StderrLogPath != "/tmp/x.log" {
		t.Errorf("message 2 = %v", msgs[2])
	}
}

func TestServerStatusString(t *testing.T) {
	tests := []struct {
		status ServerStatus
		want   string
	}{
		{StatusStarting, "starting"},
		{StatusInitializing, "initializing"},
		{StatusRunning, "running"},
		{StatusError, "error"},
		{StatusShutdown, "shutdown"},
		{ServerStatus(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("ServerStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
