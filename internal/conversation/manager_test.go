package conversation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/pagasa/internal/conversation"
	"github.com/MrWong99/pagasa/internal/notice"
	"github.com/MrWong99/pagasa/pkg/provider/live"
	lmock "github.com/MrWong99/pagasa/pkg/provider/live/mock"
)

func TestManager_ToggleRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness()
	m := conversation.NewManager(h.config())
	t.Cleanup(func() { _ = m.Close() })

	active, err := m.Toggle(context.Background())
	if err != nil || !active {
		t.Fatalf("Toggle on: active=%v err=%v", active, err)
	}
	s := m.Active()
	if s == nil {
		t.Fatal("no active session")
	}

	h.conn.Emit(live.Event{Kind: live.EventOpened})
	h.conn.Emit(live.Event{Kind: live.EventInputTranscript, Text: "Signal?"})
	h.conn.Emit(live.Event{Kind: live.EventOutputTranscript, Text: "Signal No. 2."})
	h.conn.Emit(live.Event{Kind: live.EventTurnComplete})
	waitFor(t, "turn", func() bool { return len(s.TurnLog()) == 1 })

	active, err = m.Toggle(context.Background())
	if err != nil || active {
		t.Fatalf("Toggle off: active=%v err=%v", active, err)
	}
	if m.Active() != nil {
		t.Error("session still active after stop")
	}

	snap := m.Snapshot()
	if snap.Active || snap.State != conversation.Closed {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Turns) != 1 || snap.Turns[0].Output != "Signal No. 2." {
		t.Errorf("turns = %+v", snap.Turns)
	}
	if snap.SessionID != s.ID() {
		t.Errorf("SessionID = %q, want %q", snap.SessionID, s.ID())
	}
}

func TestManager_SingleActiveSession(t *testing.T) {
	t.Parallel()
	h := newHarness()
	m := conversation.NewManager(h.config())
	t.Cleanup(func() { _ = m.Close() })

	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, conversation.ErrActive) {
		t.Errorf("second Start: err = %v, want ErrActive", err)
	}
}

func TestManager_RestartAfterRemoteClose(t *testing.T) {
	t.Parallel()
	h := newHarness()
	m := conversation.NewManager(h.config())
	t.Cleanup(func() { _ = m.Close() })

	first, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.conn.Emit(live.Event{Kind: live.EventClosed})
	<-first.Done()

	if m.Active() != nil {
		t.Error("closed session reported as active")
	}

	h.dialer.ConnectResult = lmock.NewConn(4)
	second, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if second.ID() == first.ID() {
		t.Error("restart reused the session")
	}
}

func TestManager_StartFailurePublishesNotice(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.dialer.ConnectErr = errors.New("handshake rejected")
	m := conversation.NewManager(h.config())

	if _, err := m.Start(context.Background()); !errors.Is(err, live.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	if m.Active() != nil {
		t.Error("failed session reported as active")
	}
	n, ok := h.notices.Latest()
	if !ok || n.Level != notice.Error {
		t.Errorf("notice = %+v, %v", n, ok)
	}
	if snap := m.Snapshot(); snap.Error == "" {
		t.Error("snapshot has no error")
	}
}

func TestManager_SnapshotBeforeStart(t *testing.T) {
	t.Parallel()
	m := conversation.NewManager(newHarness().config())
	snap := m.Snapshot()
	if snap.Active || snap.State != conversation.Idle || snap.Turns == nil {
		t.Errorf("snapshot = %+v", snap)
	}
}
