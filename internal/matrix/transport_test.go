package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/klingon-exchange/swapbot/internal/bot"
)

type homeserver struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
}

func (h *homeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	h.mu.Lock()
	h.requests = append(h.requests, r.Method+" "+r.URL.Path)
	if text, ok := body["body"].(string); ok {
		h.bodies = append(h.bodies, text)
	}
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/versions"):
		_, _ = w.Write([]byte(`{"versions":["v1.11"]}`))
	case strings.HasSuffix(r.URL.Path, "/createRoom"):
		_, _ = w.Write([]byte(`{"room_id":"!dm:example.org"}`))
	case strings.Contains(r.URL.Path, "/send/"), strings.Contains(r.URL.Path, "/redact/"):
		_, _ = w.Write([]byte(`{"event_id":"$reply"}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (h *homeserver) count(fragment string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.requests {
		if strings.Contains(r, fragment) {
			n++
		}
	}
	return n
}

type recordingHandler struct {
	resp *bot.Response
	got  chan bot.Message
}

func (r *recordingHandler) Handle(ctx context.Context, msg bot.Message) *bot.Response {
	if r.got != nil {
		r.got <- msg
	}
	return r.resp
}

func newTestTransport(t *testing.T, handler Handler, allowed ...string) (*Transport, *homeserver) {
	t.Helper()
	hs := &homeserver{}
	srv := httptest.NewServer(hs)
	t.Cleanup(srv.Close)

	tr, err := New(&Config{
		Homeserver:   srv.URL,
		UserID:       "@swapbot:example.org",
		AccessToken:  "token",
		AllowedRooms: allowed,
		SendTimeout:  5 * time.Second,
	}, handler)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, hs
}

func textEvent(room, sender, body string) *event.Event {
	return &event.Event{
		ID:     id.EventID("$" + body),
		RoomID: id.RoomID(room),
		Sender: id.UserID(sender),
		Type:   event.EventMessage,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func TestNewRequiresHomeserver(t *testing.T) {
	if _, err := New(&Config{UserID: "@bot:example.org"}, &recordingHandler{}); err == nil {
		t.Fatal("New() should require a homeserver")
	}
}

func TestProcessRedactsAndReplies(t *testing.T) {
	handler := &recordingHandler{resp: &bot.Response{
		Replies: []bot.Reply{
			{Text: "Logged in."},
			{Text: "What next?", Options: []string{"Start swap", "My wallets"}},
		},
		RedactInput: true,
	}}
	tr, hs := newTestTransport(t, handler)

	tr.process(inbound{
		roomID:  "!room:example.org",
		eventID: "$login",
		sender:  "@alice:example.org",
		body:    "/login secret",
	})

	if got := hs.count("/redact/"); got != 1 {
		t.Errorf("redactions = %d, want 1", got)
	}
	if got := hs.count("/send/m.room.message/"); got != 2 {
		t.Fatalf("messages sent = %d, want 2", got)
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if len(hs.bodies) < 2 || hs.bodies[1] != "What next?\n\n1. Start swap\n2. My wallets" {
		t.Errorf("bodies = %q", hs.bodies)
	}
}

func TestSendOpensDirectRoomOnce(t *testing.T) {
	tr, hs := newTestTransport(t, &recordingHandler{})
	ctx := context.Background()

	if err := tr.Send(ctx, "@alice:example.org", "✅ Swap completed!"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := tr.Send(ctx, "@alice:example.org", "again"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got := hs.count("/createRoom"); got != 1 {
		t.Errorf("rooms created = %d, want 1", got)
	}
	if got := hs.count("/rooms/!dm:example.org/send/"); got != 2 {
		t.Errorf("messages to direct room = %d, want 2", got)
	}
}

func TestSendRejectsBadUserID(t *testing.T) {
	tr, _ := newTestTransport(t, &recordingHandler{})
	if err := tr.Send(context.Background(), "not-a-user", "hi"); err == nil {
		t.Fatal("Send() to a malformed user id should fail")
	}
}

func TestSendUsesKnownRoom(t *testing.T) {
	tr, hs := newTestTransport(t, &recordingHandler{})
	tr.setRoom("@alice:example.org", "!known:example.org")

	if err := tr.Send(context.Background(), "@alice:example.org", "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if hs.count("/createRoom") != 0 || hs.count("/rooms/!known:example.org/send/") != 1 {
		t.Errorf("requests = %v", hs.requests)
	}
}

func TestHandleMessageFilters(t *testing.T) {
	handler := &recordingHandler{got: make(chan bot.Message, 4)}
	tr, _ := newTestTransport(t, handler, "!ok:example.org")
	ctx := context.Background()

	tr.handleMessage(ctx, textEvent("!ok:example.org", "@swapbot:example.org", "own message"))
	tr.handleMessage(ctx, textEvent("!other:example.org", "@alice:example.org", "wrong room"))
	notice := textEvent("!ok:example.org", "@alice:example.org", "notice")
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
	tr.handleMessage(ctx, notice)
	tr.handleMessage(ctx, textEvent("!ok:example.org", "@alice:example.org", "  /help  "))

	select {
	case msg := <-handler.got:
		if msg.UserID != "@alice:example.org" || msg.Text != "/help" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}

	select {
	case msg := <-handler.got:
		t.Errorf("unexpected message delivered: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	if room, ok := tr.room("@alice:example.org"); !ok || room != "!ok:example.org" {
		t.Errorf("room = %s, %v, want !ok:example.org", room, ok)
	}
}

func TestMessagesKeepOrderPerUser(t *testing.T) {
	handler := &recordingHandler{got: make(chan bot.Message, 8)}
	tr, _ := newTestTransport(t, handler)
	ctx := context.Background()

	for _, body := range []string{"1", "2", "3"} {
		tr.handleMessage(ctx, textEvent("!room:example.org", "@alice:example.org", body))
	}
	for _, want := range []string{"1", "2", "3"} {
		select {
		case msg := <-handler.got:
			if msg.Text != want {
				t.Fatalf("got %q, want %q", msg.Text, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("message %q not delivered", want)
		}
	}
}

func TestIsCancel(t *testing.T) {
	tr, _ := newTestTransport(t, &recordingHandler{})
	tests := []struct {
		body string
		want bool
	}{
		{"/cancel", true},
		{"/CANCEL now", true},
		{"cancel", false},
		{"/cancelled", false},
		{"/", false},
	}
	for _, tt := range tests {
		if got := tr.isCancel(tt.body); got != tt.want {
			t.Errorf("isCancel(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}
