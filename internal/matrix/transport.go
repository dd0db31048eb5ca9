// Package matrix connects the bot to Matrix rooms. Each user talks to the
// bot in a direct room; messages are handed to the bot in order per user
// and replies are posted back as plain text.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/klingon-exchange/swapbot/internal/bot"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

// ErrNoRoom is returned when a user cannot be reached.
var ErrNoRoom = errors.New("no room for user")

// Handler processes one message.
type Handler interface {
	Handle(ctx context.Context, msg bot.Message) *bot.Response
}

// Config holds transport configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string

	// AllowedRooms restricts the bot to these rooms. Empty allows all.
	AllowedRooms []string
	// AutoJoin accepts invites.
	AutoJoin bool
	// CommandPrefix is used to spot /cancel, which bypasses the user's
	// queue.
	CommandPrefix string

	// SendTimeout bounds each Matrix API call.
	SendTimeout time.Duration
	// QueueSize is the per-user inbound buffer.
	QueueSize int
}

type inbound struct {
	roomID  id.RoomID
	eventID id.EventID
	sender  id.UserID
	body    string
}

// Transport is the Matrix side of the bot.
type Transport struct {
	cfg     *Config
	client  *mautrix.Client
	handler Handler
	log     *logging.Logger

	mu     sync.RWMutex
	rooms  map[id.UserID]id.RoomID
	queues map[id.UserID]chan inbound

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a transport. Nothing is contacted until Run.
func New(cfg *Config, handler Handler) (*Transport, error) {
	if cfg == nil || cfg.Homeserver == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("matrix homeserver and user id are required")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "/"
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:     cfg,
		client:  client,
		handler: handler,
		log:     logging.GetDefault().Component("matrix"),
		rooms:   make(map[id.UserID]id.RoomID),
		queues:  make(map[id.UserID]chan inbound),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Run syncs with the homeserver until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) error {
	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", t.client.Syncer)
	}
	// Messages sent while the daemon was down are not replayed.
	syncer.OnSync(t.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, t.handleMessage)
	syncer.OnEventType(event.StateMember, t.handleMember)

	t.log.Info("Connecting to homeserver", "homeserver", t.cfg.Homeserver, "user", t.cfg.UserID)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- t.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		t.client.StopSync()
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// Close stops the per-user workers and waits for turns in progress.
func (t *Transport) Close() error {
	t.cancel()
	t.wg.Wait()
	return nil
}

func (t *Transport) handleMember(ctx context.Context, evt *event.Event) {
	if !t.cfg.AutoJoin || evt.GetStateKey() != t.client.UserID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}
	if !t.roomAllowed(evt.RoomID) {
		t.log.Debug("Ignoring invite to room not allowed", "room", evt.RoomID)
		return
	}

	callCtx, cancel := context.WithTimeout(t.ctx, t.cfg.SendTimeout)
	defer cancel()
	if _, err := t.client.JoinRoomByID(callCtx, evt.RoomID); err != nil {
		t.log.Warn("Failed to join room", "room", evt.RoomID, "error", err)
		return
	}
	if member.IsDirect {
		t.setRoom(evt.Sender, evt.RoomID)
	}
	t.log.Info("Joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

func (t *Transport) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == t.client.UserID {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	if !t.roomAllowed(evt.RoomID) {
		t.log.Debug("Ignoring message from room not allowed", "room", evt.RoomID)
		return
	}
	body := strings.TrimSpace(content.Body)
	if body == "" {
		return
	}

	t.setRoom(evt.Sender, evt.RoomID)
	t.dispatch(inbound{roomID: evt.RoomID, eventID: evt.ID, sender: evt.Sender, body: body})
}

// dispatch queues msg behind the sender's earlier messages. A cancel
// command skips the queue so it lands while a turn is still running.
func (t *Transport) dispatch(msg inbound) {
	if t.isCancel(msg.body) {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.process(msg)
		}()
		return
	}

	q := t.queue(msg.sender)
	select {
	case q <- msg:
	default:
		t.log.Warn("Dropping message, user queue full", "user", msg.sender)
	}
}

func (t *Transport) isCancel(body string) bool {
	fields := strings.Fields(strings.TrimPrefix(body, t.cfg.CommandPrefix))
	return strings.HasPrefix(body, t.cfg.CommandPrefix) && len(fields) > 0 && strings.EqualFold(fields[0], "cancel")
}

func (t *Transport) queue(user id.UserID) chan inbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[user]
	if ok {
		return q
	}
	q = make(chan inbound, t.cfg.QueueSize)
	t.queues[user] = q
	t.wg.Add(1)
	go t.worker(q)
	return q
}

func (t *Transport) worker(q chan inbound) {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg := <-q:
			t.process(msg)
		}
	}
}

// process runs one turn and posts the replies.
func (t *Transport) process(msg inbound) {
	resp := t.handler.Handle(t.ctx, bot.Message{UserID: msg.sender.String(), Text: msg.body})
	if resp == nil {
		return
	}

	if resp.RedactInput {
		t.redact(msg.roomID, msg.eventID)
	}
	for _, reply := range resp.Replies {
		if err := t.sendText(msg.roomID, reply.Render()); err != nil {
			t.log.Error("Failed to send reply", "room", msg.roomID, "error", err)
			return
		}
	}
}

func (t *Transport) redact(roomID id.RoomID, eventID id.EventID) {
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.SendTimeout)
	defer cancel()
	_, err := t.client.RedactEvent(ctx, roomID, eventID, mautrix.ReqRedact{Reason: "contained a secret"})
	if err != nil {
		t.log.Warn("Failed to redact message", "room", roomID, "event", eventID, "error", err)
	}
}

func (t *Transport) sendText(roomID id.RoomID, text string) error {
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.SendTimeout)
	defer cancel()
	_, err := t.client.SendText(ctx, roomID, text)
	return err
}

// Send posts text to userID's room, opening a direct room when the user
// has not written since the daemon started.
func (t *Transport) Send(ctx context.Context, userID, text string) error {
	user := id.UserID(userID)
	roomID, ok := t.room(user)
	if !ok {
		var err error
		roomID, err = t.openDirect(ctx, user)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
	defer cancel()
	if _, err := t.client.SendText(ctx, roomID, text); err != nil {
		return fmt.Errorf("failed to send to %s: %w", userID, err)
	}
	return nil
}

func (t *Transport) openDirect(ctx context.Context, user id.UserID) (id.RoomID, error) {
	if _, _, err := user.Parse(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoRoom, user)
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
	defer cancel()
	resp, err := t.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Invite:   []id.UserID{user},
		IsDirect: true,
		Preset:   "trusted_private_chat",
	})
	if err != nil {
		return "", fmt.Errorf("failed to open direct room with %s: %w", user, err)
	}
	t.setRoom(user, resp.RoomID)
	t.log.Info("Opened direct room", "user", user, "room", resp.RoomID)
	return resp.RoomID, nil
}

func (t *Transport) room(user id.UserID) (id.RoomID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rooms[user]
	return r, ok
}

func (t *Transport) setRoom(user id.UserID, room id.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms[user] = room
}

func (t *Transport) roomAllowed(room id.RoomID) bool {
	if len(t.cfg.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range t.cfg.AllowedRooms {
		if allowed == room.String() {
			return true
		}
	}
	return false
}
