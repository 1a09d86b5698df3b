package websocket

import (
	"context"
	"errors"
	"time"

	"foxchat/internal/auth"
	"foxchat/internal/database"
	"foxchat/internal/eventbus"
	"foxchat/internal/models"
	"foxchat/pkg/logger"

	"github.com/google/uuid"
)

// ReplyDispatcher triggers an automated-reply job without blocking the
// caller.
type ReplyDispatcher interface {
	Dispatch(roomID, triggerID uuid.UUID)
}

// Hub is the fanout server core: it authenticates connections, manages
// their room subscriptions, relays inbound publishes to the store and the
// event bus, and delivers bus events to subscribed connections.
type Hub struct {
	registry   *Registry
	store      database.Store
	bus        eventbus.Bus
	verifier   *auth.Verifier
	dispatcher ReplyDispatcher
}

func NewHub(store database.Store, bus eventbus.Bus, verifier *auth.Verifier, dispatcher ReplyDispatcher) *Hub {
	return &Hub{
		registry:   NewRegistry(),
		store:      store,
		bus:        bus,
		verifier:   verifier,
		dispatcher: dispatcher,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run consumes the event bus until ctx is cancelled. Events are processed
// sequentially, which preserves per-room delivery order across subscribers.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	logger.Info("Fanout dispatch loop started")
	for event := range events {
		h.dispatchEvent(event)
	}
	logger.Info("Fanout dispatch loop stopped")
	return nil
}

func (h *Hub) dispatchEvent(event *eventbus.Event) {
	switch event.Type {
	case eventbus.EventNewMessage:
		frame := &models.OutboundFrame{
			Type:      models.FrameTypeNewMessage,
			RoomID:    event.RoomID.String(),
			Message:   event.Message,
			Timestamp: event.Timestamp.Format(time.RFC3339),
		}
		h.deliverToRoom(event.RoomID, frame.Encode())

	case eventbus.EventGenerationFailed:
		frame := &models.OutboundFrame{
			Type:      models.FrameTypeGenerationFailed,
			RoomID:    event.RoomID.String(),
			Timestamp: event.Timestamp.Format(time.RFC3339),
		}
		h.deliverToRoom(event.RoomID, frame.Encode())

	case eventbus.EventNotification:
		h.deliverToUser(event.Notification.UserID, event)
	}
}

// deliverToRoom fans one encoded frame out to every live subscriber of the
// room. A failed delivery disconnects only that subscriber; the rest still
// receive the frame.
func (h *Hub) deliverToRoom(roomID uuid.UUID, frame []byte) {
	subscribers := h.registry.SubscribersOf(roomID)
	if len(subscribers) == 0 {
		logger.Debug("No subscribers for room %s", roomID)
		return
	}

	for _, client := range subscribers {
		if !client.enqueue(frame) {
			logger.Error("Delivery failed for connection %d on room %s, scheduling disconnect", client.id, roomID)
			go client.Disconnect()
		}
	}
}

func (h *Hub) deliverToUser(userID uuid.UUID, event *eventbus.Event) {
	client, ok := h.registry.ClientForUser(userID)
	if !ok {
		logger.Debug("User %s not connected, notification skipped", userID)
		return
	}

	frame := &models.OutboundFrame{
		Type:         models.FrameTypeNotification,
		Notification: event.Notification,
		Timestamp:    event.Timestamp.Format(time.RFC3339),
	}
	if !client.enqueue(frame.Encode()) {
		logger.Error("Notification delivery failed for user %s, scheduling disconnect", userID)
		go client.Disconnect()
	}
}

// handleAuth verifies the credential on a connecting session. Failure is
// handshake-fatal: the connection is closed with a policy violation code
// and never reaches the authenticated state.
func (h *Hub) handleAuth(c *Client, frame *models.InboundFrame) {
	if c.authenticated() {
		c.sendError(models.ErrCodeInvalidFrame, "already authenticated")
		return
	}

	identity, err := h.verifier.Verify(frame.Token)
	if err != nil {
		logger.Error("Authentication failed: %v", err)
		c.sendError(models.ErrCodeAuthFailed, "invalid credential")
		c.closeWithPolicyViolation(string(auth.ReasonOf(err)))
		return
	}

	c.identity = identity
	h.registry.Register(c, identity)
	c.state.Store(int32(stateAuthenticated))
	logger.Info("Connection %d authenticated as user %s", c.id, identity.UserID)

	// The auth frame may carry an initial room list to subscribe in one
	// round trip. Each room still goes through the membership check.
	for _, raw := range frame.Rooms {
		roomID, err := uuid.Parse(raw)
		if err != nil {
			c.sendError(models.ErrCodeInvalidFrame, "invalid room id "+raw)
			continue
		}
		h.subscribe(c, roomID)
	}

	ack := &models.OutboundFrame{
		Type:      models.FrameTypeAuthSuccess,
		UserID:    identity.UserID.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	c.enqueue(ack.Encode())
}

func (h *Hub) handleSubscribe(c *Client, frame *models.InboundFrame) {
	roomID := uuid.MustParse(frame.RoomID)
	if h.subscribe(c, roomID) {
		ack := &models.OutboundFrame{Type: models.FrameTypeSubscribeSuccess, RoomID: roomID.String()}
		c.enqueue(ack.Encode())
	}
}

// subscribe runs the membership check and registers the subscription. An
// authorization failure is reported on the connection but does not close
// it.
func (h *Hub) subscribe(c *Client, roomID uuid.UUID) bool {
	ctx := context.Background()

	member, err := h.store.IsParticipant(ctx, c.identity.UserID, roomID)
	if err != nil {
		logger.Error("Membership check failed for user %s room %s: %v", c.identity.UserID, roomID, err)
		c.sendError(models.ErrCodeStoreError, "could not verify room membership")
		return false
	}
	if !member {
		c.sendError(models.ErrCodeForbidden, "not a participant of this room")
		return false
	}

	h.registry.Subscribe(c.id, roomID)
	logger.Debug("Connection %d subscribed to room %s", c.id, roomID)
	return true
}

func (h *Hub) handleUnsubscribe(c *Client, frame *models.InboundFrame) {
	roomID := uuid.MustParse(frame.RoomID)
	h.registry.Unsubscribe(c.id, roomID)
	ack := &models.OutboundFrame{Type: models.FrameTypeUnsubscribeSuccess, RoomID: roomID.String()}
	c.enqueue(ack.Encode())
}

// handlePublish persists an inbound message, then announces it on the bus.
// The durable write happens first: if it fails the client gets an error
// frame and nothing is published, so other clients never see a message
// that is absent from history.
func (h *Hub) handlePublish(c *Client, frame *models.InboundFrame) {
	ctx := context.Background()
	roomID := uuid.MustParse(frame.RoomID)

	room, err := h.store.GetRoom(ctx, roomID)
	if errors.Is(err, database.ErrNotFound) {
		c.sendError(models.ErrCodeRoomNotFound, "room not found")
		return
	}
	if err != nil {
		logger.Error("Failed to load room %s: %v", roomID, err)
		c.sendError(models.ErrCodeStoreError, "could not load room")
		return
	}

	member, err := h.store.IsParticipant(ctx, c.identity.UserID, roomID)
	if err != nil {
		c.sendError(models.ErrCodeStoreError, "could not verify room membership")
		return
	}
	if !member {
		c.sendError(models.ErrCodeForbidden, "not a participant of this room")
		return
	}

	authorID := c.identity.UserID
	msg := &models.Message{
		UUID:       uuid.New(),
		RoomID:     roomID,
		AuthorID:   &authorID,
		Body:       frame.Body,
		Kind:       frame.MessageKindOrDefault(),
		AuthorName: c.identity.Name,
	}
	if frame.ReplyTo != "" {
		replyTo := uuid.MustParse(frame.ReplyTo)
		msg.ReplyTo = &replyTo
	}

	if err := h.store.InsertMessage(ctx, msg); err != nil {
		logger.Error("Failed to persist message for room %s: %v", roomID, err)
		c.sendError(models.ErrCodeStoreError, "message could not be saved")
		return
	}
	if err := h.store.TouchRoom(ctx, roomID); err != nil {
		logger.Warn("Failed to touch room %s: %v", roomID, err)
	}

	event := &eventbus.Event{
		Type:      eventbus.EventNewMessage,
		RoomID:    roomID,
		RoomTitle: room.Title,
		RoomKind:  room.Kind,
		Message:   models.PayloadFor(msg),
		Timestamp: time.Now().UTC(),
	}
	if err := h.bus.Publish(ctx, event); err != nil {
		// The message is durable; subscribers catch up on their next
		// history fetch.
		logger.Error("Failed to publish message %s: %v", msg.UUID, err)
	}

	// A user-authored text message in an assistant room triggers the reply
	// pipeline. Fire-and-forget: this handler never waits for it.
	if room.Kind == models.RoomKindAssistant && msg.Kind == models.MessageKindText {
		h.dispatcher.Dispatch(roomID, msg.UUID)
	}
}

// Shutdown tells every connected client the server is going away, then
// closes the connections.
func (h *Hub) Shutdown() {
	clients := h.registry.AllClients()
	frame := &models.OutboundFrame{
		Type:      models.FrameTypeServerShutdown,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	encoded := frame.Encode()

	for _, client := range clients {
		client.enqueue(encoded)
	}
	// Give the write pumps a moment to flush before tearing down.
	time.Sleep(500 * time.Millisecond)
	for _, client := range clients {
		client.Disconnect()
	}
	logger.Info("Notified %d clients about shutdown", len(clients))
}
