package websocket

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cohortlive/internal/fixtures"
	"cohortlive/internal/joincode"
	"cohortlive/internal/presence"
	"cohortlive/internal/session"
	"cohortlive/pkg/types"
)

type stubVerifier map[string]types.Identity

func (v stubVerifier) Verify(token string) (*types.Identity, error) {
	id, ok := v[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &id, nil
}

type handlerHarness struct {
	server   *httptest.Server
	handler  *Handler
	registry *Registry
	sessions *session.Registry
	tracker  *presence.Tracker
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()
	store := fixtures.NewStore()
	store.AddUnit("unit-3", "Unit 3")
	store.AddUser("p1", "Grace", types.RoleParticipant)
	notifier := &fixtures.Notifier{}

	sessions := session.NewRegistry(store, store, store,
		joincode.NewGeneratorFrom(joincode.NewSequence("K4QD7M")), notifier)
	tracker := presence.NewTracker(sessions, store, store, notifier)
	if _, err := sessions.Create(context.Background(), "instructor-1", "unit-3"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	registry := NewRegistry()
	verifier := stubVerifier{
		"tok-p1":  {UserID: "p1", Role: types.RoleParticipant},
		"tok-ins": {UserID: "instructor-1", Role: types.RoleInstructor},
	}
	handler := NewHandler(registry, verifier, sessions, tracker, Options{PingInterval: time.Second})

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return &handlerHarness{server: server, handler: handler, registry: registry, sessions: sessions, tracker: tracker}
}

func (h *handlerHarness) url(query string) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?" + query
}

func (h *handlerHarness) dial(t *testing.T, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.url(query), header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn) types.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event types.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return event
}

func TestHandler_SnapshotOnConnect(t *testing.T) {
	h := newHandlerHarness(t)
	if _, err := h.tracker.Join(context.Background(), "K4QD7M", "p1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	header := http.Header{"Authorization": []string{"Bearer tok-p1"}}
	conn, _, err := h.dial(t, "join_code=k4qd7m", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	event := readEvent(t, conn)
	if event.Type != types.EventSnapshot || event.Snapshot == nil {
		t.Fatalf("expected snapshot, got %+v", event)
	}
	snap := event.Snapshot
	if snap.Position.CurrentStep != 1 || snap.Position.CurrentSection != types.SectionBriefing || !snap.IsActive {
		t.Errorf("unexpected snapshot state %+v", snap)
	}
	if len(snap.Roster) != 1 || snap.Roster[0].DisplayName != "Grace" {
		t.Errorf("unexpected roster %+v", snap.Roster)
	}

	deadline := time.Now().Add(time.Second)
	for h.registry.GetStats()["total_connections"] != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.registry.GetStats()["total_connections"] != 1 {
		t.Errorf("connection not registered: %v", h.registry.GetStats())
	}
}

func TestHandler_AcceptsQueryToken(t *testing.T) {
	h := newHandlerHarness(t)

	conn, _, err := h.dial(t, "join_code=K4QD7M&access_token=tok-ins", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if event := readEvent(t, conn); event.Type != types.EventSnapshot {
		t.Errorf("expected snapshot, got %s", event.Type)
	}
}

func TestHandler_UnregistersOnDisconnect(t *testing.T) {
	h := newHandlerHarness(t)

	conn, _, err := h.dial(t, "join_code=K4QD7M&access_token=tok-p1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEvent(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.registry.GetStats()["total_connections"] != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.registry.GetStats()["total_connections"] != 0 {
		t.Errorf("connection still registered after disconnect: %v", h.registry.GetStats())
	}
}

func TestHandler_RejectsBeforeUpgrade(t *testing.T) {
	h := newHandlerHarness(t)

	cases := []struct {
		name   string
		query  string
		status int
	}{
		{"missing token", "join_code=K4QD7M", http.StatusUnauthorized},
		{"bad token", "join_code=K4QD7M&access_token=nope", http.StatusUnauthorized},
		{"missing code", "access_token=tok-p1", http.StatusBadRequest},
		{"unknown code", "join_code=ZZZZZZ&access_token=tok-p1", http.StatusNotFound},
	}
	for _, tc := range cases {
		_, resp, err := h.dial(t, tc.query, nil)
		if err == nil {
			t.Errorf("%s: expected dial failure", tc.name)
			continue
		}
		if resp == nil || resp.StatusCode != tc.status {
			t.Errorf("%s: expected status %d, got %v", tc.name, tc.status, resp)
		}
	}
}

func TestHandler_MissingTokenMessage(t *testing.T) {
	h := newHandlerHarness(t)

	_, resp, err := h.dial(t, "join_code=K4QD7M", nil)
	if err == nil {
		t.Fatal("expected dial failure without a token")
	}
	if resp == nil {
		t.Fatal("expected an HTTP response")
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), ErrMissingToken.Error()) {
		t.Errorf("expected body to mention %q, got %q", ErrMissingToken, body)
	}
}

// An observer whose session ends after the upgrade but before its snapshot
// is read would otherwise miss SessionEnded and stay attached.
func TestHandler_SnapshotAfterEndClosesConnection(t *testing.T) {
	h := newHandlerHarness(t)
	ctx := context.Background()

	attached, err := h.sessions.Resolve(ctx, "K4QD7M")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := h.sessions.End(ctx, "K4QD7M", "instructor-1"); err != nil {
		t.Fatalf("End: %v", err)
	}

	raw, p := newPeer(t)
	conn := NewConnection(raw)
	defer conn.Close()
	if err := conn.SetCredentials("p1", attached.ID); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}

	h.handler.sendSnapshot(conn, attached)

	frame := p.next(t)
	if frame["type"] != types.EventSnapshot {
		t.Fatalf("expected snapshot, got %v", frame)
	}
	snap, _ := frame["snapshot"].(map[string]interface{})
	if snap == nil || snap["is_active"] != false {
		t.Errorf("expected inactive snapshot, got %v", frame["snapshot"])
	}
	p.waitClosed(t)
}

func TestHandler_SnapshotForActiveSessionKeepsConnection(t *testing.T) {
	h := newHandlerHarness(t)

	attached, err := h.sessions.Resolve(context.Background(), "K4QD7M")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	raw, p := newPeer(t)
	conn := NewConnection(raw)
	defer conn.Close()
	if err := conn.SetCredentials("p1", attached.ID); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}

	h.handler.sendSnapshot(conn, attached)

	if frame := p.next(t); frame["type"] != types.EventSnapshot {
		t.Fatalf("expected snapshot, got %v", frame)
	}
	select {
	case <-p.closed:
		t.Error("connection closed for an active session")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandler_EndedSessionRejected(t *testing.T) {
	h := newHandlerHarness(t)
	if _, err := h.sessions.End(context.Background(), "K4QD7M", "instructor-1"); err != nil {
		t.Fatalf("End: %v", err)
	}

	_, resp, err := h.dial(t, "join_code=K4QD7M&access_token=tok-p1", nil)
	if err == nil {
		t.Fatal("expected dial failure for ended session")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %v", resp)
	}
}
