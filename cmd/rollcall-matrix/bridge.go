// ABOUTME: Matrix bridge core for rollcall-matrix
// ABOUTME: Relays room messages to the gateway as one conversation per sender and posts replies

package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const replyUnavailable = "⚠️ The attendance service is unavailable right now. Please try again in a moment."

// typingTimeout is how long the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout bounds Matrix API calls made outside the sync loop.
const networkTimeout = 10 * time.Second

// maxQueuedPerSender caps the messages waiting behind one sender's worker.
const maxQueuedPerSender = 32

// roomClient is the part of the Matrix client the bridge uses to act in rooms.
type roomClient interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
}

// messageGateway posts one message to the conversation engine.
type messageGateway interface {
	SendMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// Bridge connects Matrix rooms to rollcall-gateway.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	rooms   roomClient
	gateway messageGateway
	logger  *slog.Logger
	userID  id.UserID

	// Messages waiting per sender. A key is present while that sender's
	// worker runs, and the worker deletes it when the queue is empty.
	queuesMu sync.Mutex
	queues   map[id.UserID][]queuedMessage

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// queuedMessage is one relayed message waiting for its sender's worker.
type queuedMessage struct {
	roomID  id.RoomID
	eventID id.EventID
	text    string
}

// NewBridge creates a new Matrix bridge.
func NewBridge(cfg *Config, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Bridge{
		config:  cfg,
		matrix:  client,
		rooms:   client,
		gateway: NewGatewayClient(cfg.Gateway.URL, cfg.Gateway.Token),
		logger:  logger,
		userID:  id.UserID(cfg.Matrix.UserID),
		queues:  make(map[id.UserID][]queuedMessage),
	}, nil
}

// Connect checks the access token and records the device ID, which
// encryption setup needs.
func (b *Bridge) Connect(ctx context.Context) error {
	resp, err := b.matrix.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("whoami: %w", err)
	}
	if resp.UserID != b.userID {
		return fmt.Errorf("access token belongs to %s, not %s", resp.UserID, b.userID)
	}
	b.matrix.DeviceID = resp.DeviceID
	b.logger.Info("matrix session verified", "user_id", resp.UserID, "device_id", resp.DeviceID)
	return nil
}

// Run starts syncing and blocks until ctx is cancelled or sync fails.
// In-flight messages are finished before it returns.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.userID,
		"gateway", b.config.Gateway.URL,
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	// Skip the backlog delivered by the first sync.
	syncer.OnSync(b.matrix.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bridge running")

	var err error
	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge", "busy_senders", b.queued())
	case serr := <-syncErr:
		err = fmt.Errorf("matrix sync failed: %w", serr)
	}
	b.cancel()
	b.pending.Wait()
	return err
}

// handleMemberEvent joins rooms the bot is invited to, so teachers can DM it.
func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != b.userID.String() {
		return
	}
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Info("ignoring invite to non-allowed room", "room", evt.RoomID, "inviter", evt.Sender)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.rooms.JoinRoomByID(ctx, evt.RoomID); err != nil {
		b.logger.Warn("failed to join room", "room", evt.RoomID, "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

// handleMessageEvent filters incoming Matrix messages and hands text to the gateway.
func (b *Bridge) handleMessageEvent(_ context.Context, evt *event.Event) {
	if evt.Sender == b.userID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	body, ok := b.stripPrefix(content.Body)
	if !ok {
		return
	}

	b.logger.Info("received message",
		"room", roomID,
		"sender", evt.Sender.String(),
		"event_id", evt.ID.String(),
	)

	b.enqueue(evt.Sender, queuedMessage{roomID: evt.RoomID, eventID: evt.ID, text: body})
}

// enqueue appends msg to the sender's queue in sync order and starts a
// worker for the sender if none is running. Sync never waits on the gateway.
func (b *Bridge) enqueue(sender id.UserID, msg queuedMessage) {
	b.queuesMu.Lock()
	defer b.queuesMu.Unlock()

	if b.queues == nil {
		b.queues = make(map[id.UserID][]queuedMessage)
	}
	queue, running := b.queues[sender]
	if len(queue) >= maxQueuedPerSender {
		b.logger.Warn("sender queue full, dropping message", "sender", sender, "event_id", msg.eventID)
		return
	}
	b.queues[sender] = append(queue, msg)
	if !running {
		b.pending.Go(func() { b.drain(sender) })
	}
}

// drain relays the sender's queued messages one at a time and exits once
// the queue is empty.
func (b *Bridge) drain(sender id.UserID) {
	for {
		b.queuesMu.Lock()
		queue := b.queues[sender]
		if len(queue) == 0 {
			delete(b.queues, sender)
			b.queuesMu.Unlock()
			return
		}
		msg := queue[0]
		b.queues[sender] = queue[1:]
		b.queuesMu.Unlock()

		b.processMessage(b.ctx, msg.roomID, sender, msg.eventID, msg.text)
	}
}

// queued returns the number of senders with a running worker.
func (b *Bridge) queued() int {
	b.queuesMu.Lock()
	defer b.queuesMu.Unlock()
	return len(b.queues)
}

// stripPrefix applies the configured command prefix. Without a prefix every
// message is relayed, including an empty one.
func (b *Bridge) stripPrefix(body string) (string, bool) {
	prefix := b.config.Bridge.CommandPrefix
	if prefix == "" {
		return body, true
	}
	if !strings.HasPrefix(body, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(body, prefix)), true
}

// processMessage relays one message and posts the reply to the room.
// Only the sender's worker calls it, so a sender has one message in flight.
func (b *Bridge) processMessage(ctx context.Context, roomID id.RoomID, sender id.UserID, eventID id.EventID, text string) {
	if ctx.Err() != nil {
		return
	}

	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	resp, err := b.gateway.SendMessage(ctx, MessageRequest{
		UserID:    sender.String(),
		Text:      text,
		MessageID: eventID.String(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("gateway request failed", "room", roomID, "sender", sender, "error", err)
		b.sendMessage(roomID, replyUnavailable)
		return
	}

	if resp.Duplicate {
		b.logger.Debug("redelivered event, reply already sent", "event_id", eventID)
		return
	}
	if resp.ReplyText == "" {
		b.logger.Warn("empty reply from gateway", "room", roomID)
		return
	}

	b.logger.Info("sending reply",
		"room", roomID,
		"state", resp.State,
		"length", len(resp.ReplyText),
	)
	b.sendMessage(roomID, resp.ReplyText)
}

// isRoomAllowed checks if the room is in the allowed list. An empty list allows all.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Bridge.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.config.Bridge.AllowedRooms, roomID)
}

func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.rooms.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

func (b *Bridge) sendMessage(roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.rooms.SendText(ctx, roomID, text); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}
