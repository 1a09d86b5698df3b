package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"foxchat/internal/auth"
	"foxchat/internal/database"
	"foxchat/internal/eventbus"
	"foxchat/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	rooms        map[uuid.UUID]*models.ChatRoom
	participants map[uuid.UUID]map[uuid.UUID]bool // roomID -> userID
	inserted     []*models.Message
	insertErr    error
	getRoomErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:        make(map[uuid.UUID]*models.ChatRoom),
		participants: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (s *fakeStore) addRoom(kind models.RoomKind, members ...uuid.UUID) *models.ChatRoom {
	room := &models.ChatRoom{ID: uuid.New(), Title: "room", Kind: kind}
	s.rooms[room.ID] = room
	s.participants[room.ID] = make(map[uuid.UUID]bool)
	for _, m := range members {
		s.participants[room.ID][m] = true
	}
	return room
}

func (s *fakeStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, msg)
	return nil
}

func (s *fakeStore) FetchRecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error) {
	return nil, nil
}

func (s *fakeStore) FetchPromptHistory(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error) {
	return nil, nil
}

func (s *fakeStore) GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	return nil, assert.AnError
}

func (s *fakeStore) SoftDeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	return nil
}

func (s *fakeStore) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.ChatRoom, error) {
	if s.getRoomErr != nil {
		return nil, s.getRoomErr
	}
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return room, nil
}

func (s *fakeStore) RoomExists(ctx context.Context, roomID uuid.UUID) (bool, error) {
	_, ok := s.rooms[roomID]
	return ok, nil
}

func (s *fakeStore) TouchRoom(ctx context.Context, roomID uuid.UUID) error { return nil }

func (s *fakeStore) IsParticipant(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	return s.participants[roomID][userID], nil
}

func (s *fakeStore) ParticipantIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id := range s.participants[roomID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeStore) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return nil, assert.AnError
}

func (s *fakeStore) Close() error { return nil }

type fakeBus struct {
	published []*eventbus.Event
}

func (b *fakeBus) Publish(ctx context.Context, event *eventbus.Event) error {
	b.published = append(b.published, event)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context) (<-chan *eventbus.Event, error) {
	ch := make(chan *eventbus.Event)
	close(ch)
	return ch, nil
}

func (b *fakeBus) Close() error { return nil }

type dispatchCall struct {
	roomID    uuid.UUID
	triggerID uuid.UUID
}

type fakeDispatcher struct {
	calls []dispatchCall
}

func (d *fakeDispatcher) Dispatch(roomID, triggerID uuid.UUID) {
	d.calls = append(d.calls, dispatchCall{roomID: roomID, triggerID: triggerID})
}

type hubFixture struct {
	hub        *Hub
	store      *fakeStore
	bus        *fakeBus
	dispatcher *fakeDispatcher
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	store := newFakeStore()
	bus := &fakeBus{}
	dispatcher := &fakeDispatcher{}
	return &hubFixture{
		hub:        NewHub(store, bus, nil, dispatcher),
		store:      store,
		bus:        bus,
		dispatcher: dispatcher,
	}
}

// authedClient builds a client that already passed the handshake, without a
// live transport underneath.
func (f *hubFixture) authedClient(identity models.Identity) *Client {
	c := &Client{
		hub:  f.hub,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	c.identity = identity
	f.hub.registry.Register(c, identity)
	c.state.Store(int32(stateAuthenticated))
	return c
}

func nextFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case raw := <-c.send:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		return decoded
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected frame queued: %s", raw)
	default:
	}
}

func TestHub_PublishPersistsThenAnnounces(t *testing.T) {
	f := newHubFixture(t)
	identity := models.Identity{UserID: uuid.New(), Name: "alice"}
	room := f.store.addRoom(models.RoomKindGroup, identity.UserID)
	client := f.authedClient(identity)

	f.hub.handlePublish(client, &models.InboundFrame{
		Type:   models.FrameTypePublish,
		RoomID: room.ID.String(),
		Body:   "hello",
	})

	require.Len(t, f.store.inserted, 1)
	msg := f.store.inserted[0]
	require.NotNil(t, msg.AuthorID)
	assert.Equal(t, identity.UserID, *msg.AuthorID)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, models.MessageKindText, msg.Kind)
	assert.Equal(t, "alice", msg.AuthorName)

	require.Len(t, f.bus.published, 1)
	event := f.bus.published[0]
	assert.Equal(t, eventbus.EventNewMessage, event.Type)
	assert.Equal(t, room.ID, event.RoomID)
	require.NotNil(t, event.Message)
	assert.Equal(t, msg.UUID, event.Message.UUID)

	// Group room: no automated reply.
	assert.Empty(t, f.dispatcher.calls)
}

func TestHub_PublishInAssistantRoomTriggersReplyJob(t *testing.T) {
	f := newHubFixture(t)
	identity := models.Identity{UserID: uuid.New(), Name: "alice"}
	room := f.store.addRoom(models.RoomKindAssistant, identity.UserID)
	client := f.authedClient(identity)

	f.hub.handlePublish(client, &models.InboundFrame{
		Type:   models.FrameTypePublish,
		RoomID: room.ID.String(),
		Body:   "hello assistant",
	})

	require.Len(t, f.store.inserted, 1)
	require.Len(t, f.dispatcher.calls, 1)
	assert.Equal(t, room.ID, f.dispatcher.calls[0].roomID)
	assert.Equal(t, f.store.inserted[0].UUID, f.dispatcher.calls[0].triggerID)
}

func TestHub_PublishNonTextDoesNotTriggerReplyJob(t *testing.T) {
	f := newHubFixture(t)
	identity := models.Identity{UserID: uuid.New()}
	room := f.store.addRoom(models.RoomKindAssistant, identity.UserID)
	client := f.authedClient(identity)

	f.hub.handlePublish(client, &models.InboundFrame{
		Type:   models.FrameTypePublish,
		RoomID: room.ID.String(),
		Body:   "cat.png",
		Kind:   string(models.MessageKindImage),
	})

	require.Len(t, f.store.inserted, 1)
	assert.Empty(t, f.dispatcher.calls)
}

func TestHub_PublishStoreFailureSendsErrorAndSkipsBus(t *testing.T) {
	f := newHubFixture(t)
	identity := models.Identity{UserID: uuid.New()}
	room := f.store.addRoom(models.RoomKindGroup, identity.UserID)
	f.store.insertErr = assert.AnError
	client := f.authedClient(identity)

	f.hub.handlePublish(client, &models.InboundFrame{
		Type:   models.FrameTypePublish,
		RoomID: room.ID.String(),
		Body:   "hello",
	})

	frame := nextFrame(t, client)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, models.ErrCodeStoreError, frame["code"])

	// A message that was never saved must never be announced.
	assert.Empty(t, f.bus.published)
	assert.Empty(t, f.dispatcher.calls)
}

func TestHub_PublishByNonParticipantIsForbidden(t *testing.T) {
	f := newHubFixture(t)
	room := f.store.addRoom(models.RoomKindGroup) // no members
	client := f.authedClient(models.Identity{UserID: uuid.New()})

	f.hub.handlePublish(client, &models.InboundFrame{
		Type:   models.FrameTypePublish,
		RoomID: room.ID.String(),
		Body:   "hello",
	})

	frame := nextFrame(t, client)
	assert.Equal(t, models.ErrCodeForbidden, frame["code"])
	assert.Empty(t, f.store.inserted)
	assert.Empty(t, f.bus.published)
}

func TestHub_PublishToUnknownRoom(t *testing.T) {
	f := newHubFixture(t)
	client := f.authedClient(models.Identity{UserID: uuid.New()})

	f.hub.handlePublish(client, &models.InboundFrame{
		Type:   models.FrameTypePublish,
		RoomID: uuid.New().String(),
		Body:   "hello",
	})

	frame := nextFrame(t, client)
	assert.Equal(t, models.ErrCodeRoomNotFound, frame["code"])
	assert.Empty(t, f.store.inserted)
}

// A store outage while loading the room is not the same as the room missing.
func TestHub_PublishRoomLookupOutageIsStoreError(t *testing.T) {
	f := newHubFixture(t)
	f.store.getRoomErr = assert.AnError
	client := f.authedClient(models.Identity{UserID: uuid.New()})

	f.hub.handlePublish(client, &models.InboundFrame{
		Type:   models.FrameTypePublish,
		RoomID: uuid.New().String(),
		Body:   "hello",
	})

	frame := nextFrame(t, client)
	assert.Equal(t, models.ErrCodeStoreError, frame["code"])
	assert.Empty(t, f.store.inserted)
	assert.Empty(t, f.bus.published)
}

func TestHub_SubscribeAcksAndRegisters(t *testing.T) {
	f := newHubFixture(t)
	identity := models.Identity{UserID: uuid.New()}
	room := f.store.addRoom(models.RoomKindGroup, identity.UserID)
	client := f.authedClient(identity)

	f.hub.handleSubscribe(client, &models.InboundFrame{
		Type:   models.FrameTypeSubscribe,
		RoomID: room.ID.String(),
	})

	frame := nextFrame(t, client)
	assert.Equal(t, "subscribe_success", frame["type"])
	assert.Equal(t, room.ID.String(), frame["room_id"])
	assert.True(t, f.hub.registry.IsSubscribed(client.id, room.ID))
}

func TestHub_SubscribeByNonParticipantIsForbidden(t *testing.T) {
	f := newHubFixture(t)
	room := f.store.addRoom(models.RoomKindGroup)
	client := f.authedClient(models.Identity{UserID: uuid.New()})

	f.hub.handleSubscribe(client, &models.InboundFrame{
		Type:   models.FrameTypeSubscribe,
		RoomID: room.ID.String(),
	})

	frame := nextFrame(t, client)
	assert.Equal(t, models.ErrCodeForbidden, frame["code"])
	assert.False(t, f.hub.registry.IsSubscribed(client.id, room.ID))
}

func TestHub_UnsubscribeAcks(t *testing.T) {
	f := newHubFixture(t)
	identity := models.Identity{UserID: uuid.New()}
	room := f.store.addRoom(models.RoomKindGroup, identity.UserID)
	client := f.authedClient(identity)
	f.hub.registry.Subscribe(client.id, room.ID)

	f.hub.handleUnsubscribe(client, &models.InboundFrame{
		Type:   models.FrameTypeUnsubscribe,
		RoomID: room.ID.String(),
	})

	frame := nextFrame(t, client)
	assert.Equal(t, "unsubscribe_success", frame["type"])
	assert.False(t, f.hub.registry.IsSubscribed(client.id, room.ID))
}

func TestHub_NewMessageEventFansOutToSubscribersOnly(t *testing.T) {
	f := newHubFixture(t)
	roomID := uuid.New()

	subscriberA := f.authedClient(models.Identity{UserID: uuid.New()})
	subscriberB := f.authedClient(models.Identity{UserID: uuid.New()})
	bystander := f.authedClient(models.Identity{UserID: uuid.New()})
	f.hub.registry.Subscribe(subscriberA.id, roomID)
	f.hub.registry.Subscribe(subscriberB.id, roomID)

	f.hub.dispatchEvent(&eventbus.Event{
		Type:      eventbus.EventNewMessage,
		RoomID:    roomID,
		Message:   &models.MessagePayload{UUID: uuid.New(), Content: "hi"},
		Timestamp: time.Now(),
	})

	for _, c := range []*Client{subscriberA, subscriberB} {
		frame := nextFrame(t, c)
		assert.Equal(t, "new_message", frame["type"])
		assert.Equal(t, roomID.String(), frame["room_id"])
	}
	assertNoFrame(t, bystander)
}

func TestHub_RoomEventsArriveInPublishOrder(t *testing.T) {
	f := newHubFixture(t)
	roomID := uuid.New()

	subscriberA := f.authedClient(models.Identity{UserID: uuid.New()})
	subscriberB := f.authedClient(models.Identity{UserID: uuid.New()})
	f.hub.registry.Subscribe(subscriberA.id, roomID)
	f.hub.registry.Subscribe(subscriberB.id, roomID)

	var sent []string
	for i := 0; i < 5; i++ {
		msg := &models.MessagePayload{UUID: uuid.New(), Content: "msg"}
		sent = append(sent, msg.UUID.String())
		f.hub.dispatchEvent(&eventbus.Event{
			Type:      eventbus.EventNewMessage,
			RoomID:    roomID,
			Message:   msg,
			Timestamp: time.Now(),
		})
	}

	// Every subscriber of the room sees the publishes in the same relative
	// order they went out.
	for _, c := range []*Client{subscriberA, subscriberB} {
		var got []string
		for range sent {
			frame := nextFrame(t, c)
			payload, ok := frame["message"].(map[string]any)
			require.True(t, ok)
			got = append(got, payload["uuid"].(string))
		}
		assert.Equal(t, sent, got)
		assertNoFrame(t, c)
	}
}

func TestHub_GenerationFailedEventReachesRoom(t *testing.T) {
	f := newHubFixture(t)
	roomID := uuid.New()
	subscriber := f.authedClient(models.Identity{UserID: uuid.New()})
	f.hub.registry.Subscribe(subscriber.id, roomID)

	f.hub.dispatchEvent(&eventbus.Event{
		Type:      eventbus.EventGenerationFailed,
		RoomID:    roomID,
		Timestamp: time.Now(),
	})

	frame := nextFrame(t, subscriber)
	assert.Equal(t, "generation_failed", frame["type"])
	assert.Equal(t, roomID.String(), frame["room_id"])
}

func TestHub_NotificationEventTargetsSingleUser(t *testing.T) {
	f := newHubFixture(t)
	target := models.Identity{UserID: uuid.New()}
	targetClient := f.authedClient(target)
	otherClient := f.authedClient(models.Identity{UserID: uuid.New()})

	f.hub.dispatchEvent(&eventbus.Event{
		Type: eventbus.EventNotification,
		Notification: &models.Notification{
			UserID: target.UserID,
			Title:  "mention",
		},
		Timestamp: time.Now(),
	})

	frame := nextFrame(t, targetClient)
	assert.Equal(t, "notification", frame["type"])
	assertNoFrame(t, otherClient)
}

// authFixture rebuilds the fixture's hub with a real verifier and returns a
// fresh unauthenticated client plus a credential the verifier accepts.
func authFixture(t *testing.T, f *hubFixture, identity models.Identity) (*Hub, *Client, string) {
	t.Helper()
	secret := []byte("hub-test-secret")
	hub := NewHub(f.store, f.bus, auth.NewVerifier(secret), f.dispatcher)

	claims := jwt.MapClaims{
		"user_id": identity.UserID.String(),
		"name":    identity.Name,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	client := &Client{
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	return hub, client, token
}

func TestHub_AuthAutoSubscribesInitialRooms(t *testing.T) {
	f := newHubFixture(t)
	identity := models.Identity{UserID: uuid.New(), Name: "alice"}
	room := f.store.addRoom(models.RoomKindGroup, identity.UserID)

	hub, client, token := authFixture(t, f, identity)

	hub.handleAuth(client, &models.InboundFrame{
		Type:  models.FrameTypeAuth,
		Token: token,
		Rooms: []string{room.ID.String()},
	})

	assert.True(t, client.authenticated())
	assert.True(t, hub.registry.IsSubscribed(client.id, room.ID))

	frame := nextFrame(t, client)
	assert.Equal(t, "auth_success", frame["type"])
	assert.Equal(t, identity.UserID.String(), frame["user_id"])
}
