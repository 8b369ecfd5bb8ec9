// Package hub is a small development backend that speaks the chat hub
// protocol: clients join conversation rooms, typing signals fan out to a
// room, and every posted message is broadcast to every connected client.
package hub

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pelusa-v/chatsession/internal/logging"
	"github.com/pelusa-v/chatsession/internal/protocol"
)

const (
	defaultFramesPerSecond  = 20
	defaultPingInterval     = 15 * time.Second
	defaultClientTimeout    = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	clientSendBuffer        = 64
)

var (
	ErrHubStopped   = errors.New("hub: stopped")
	ErrEmptyMessage = errors.New("hub: message content is empty")
)

type Config struct {
	// FramesPerSecond limits inbound frames per connection.
	FramesPerSecond float64
	// SigningKey verifies HMAC-signed bearer tokens. When empty, tokens are
	// read without verification and a non-JWT token is taken as the user id.
	SigningKey       string
	PingInterval     time.Duration
	ClientTimeout    time.Duration
	HandshakeTimeout time.Duration
	Logger           *zerolog.Logger
}

type delivery struct {
	data   []byte
	room   string // "" means every client
	except string // client id to skip
}

// Hub owns the connected clients. All sends to client channels happen on the
// Run goroutine.
type Hub struct {
	cfg Config
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   *rooms
	inbox   *inbox

	register   chan *Client
	unregister chan *Client
	outbound   chan delivery
	done       chan struct{}
	stopOnce   sync.Once
}

func New(cfg Config) *Hub {
	if cfg.FramesPerSecond <= 0 {
		cfg.FramesPerSecond = defaultFramesPerSecond
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = defaultClientTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	h := &Hub{
		cfg:        cfg,
		clients:    map[string]*Client{},
		rooms:      newRooms(),
		inbox:      newInbox(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan delivery, 256),
		done:       make(chan struct{}),
	}
	if cfg.Logger != nil {
		h.log = *cfg.Logger
	} else {
		h.log = logging.Component("hub")
	}
	return h
}

// Run serves registrations and deliveries until ctx is done. Clients still
// connected then receive a close record and are dropped.
func (h *Hub) Run(ctx context.Context) {
	defer h.stop()
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.ID] = c
			h.mu.Unlock()
			h.log.Info().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.ID]; ok {
				delete(h.clients, c.ID)
				h.rooms.leaveAll(c.ID)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Info().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client disconnected")

		case d := <-h.outbound:
			h.deliver(d)
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		defer h.mu.Unlock()
		for id, c := range h.clients {
			delete(h.clients, id)
			h.rooms.leaveAll(id)
			close(c.send)
		}
	})
}

func (h *Hub) deliver(d delivery) {
	h.mu.RLock()
	var targets []*Client
	if d.room == "" {
		targets = make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		for _, id := range h.rooms.members(d.room) {
			if c := h.clients[id]; c != nil {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.ID == d.except {
			continue
		}
		select {
		case c.send <- d.data:
		default:
			h.log.Warn().Str("client_id", c.ID).Msg("send buffer full, frame dropped")
		}
	}
}

func (h *Hub) enqueue(d delivery) error {
	select {
	case h.outbound <- d:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) invocation(target string, arg any) ([]byte, error) {
	f, err := protocol.NewInvocation(target, arg)
	if err != nil {
		return nil, err
	}
	return protocol.Encode(f)
}

// PostMessage persists a message and broadcasts ReceiveMessage to every
// connected client, the sender's own connections included.
func (h *Hub) PostMessage(sender Sender, conversationID, content string) (MessageRecord, error) {
	conversationID = normalizeRoom(conversationID)
	if conversationID == "" {
		return MessageRecord{}, errors.New("hub: conversation id is required")
	}
	if strings.TrimSpace(content) == "" {
		return MessageRecord{}, ErrEmptyMessage
	}
	msg := MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	data, err := h.invocation(protocol.EventReceiveMessage, msg)
	if err != nil {
		return MessageRecord{}, err
	}

	h.mu.Lock()
	h.inbox.record(msg)
	h.mu.Unlock()

	if err := h.enqueue(delivery{data: data}); err != nil {
		return MessageRecord{}, err
	}
	h.log.Debug().Str("conversation_id", conversationID).Str("message_id", msg.ID).Msg("message posted")
	return msg, nil
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	ok := h.rooms.join(c.ID, room)
	if ok {
		h.inbox.touch(normalizeRoom(room), c.UserID, c.Name)
	}
	h.mu.Unlock()
	if ok {
		c.log.Debug().Str("conversation_id", room).Msg("joined")
	}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	ok := h.rooms.leave(c.ID, room)
	h.mu.Unlock()
	if ok {
		c.log.Debug().Str("conversation_id", room).Msg("left")
	}
}

// typing relays a typing signal to the other members of the room.
func (h *Hub) typing(c *Client, room string, isTyping bool) error {
	room = normalizeRoom(room)
	if room == "" {
		return nil
	}
	data, err := h.invocation(protocol.EventUserTyping, TypingRecord{
		ConversationID: room,
		UserID:         c.UserID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return err
	}
	return h.enqueue(delivery{data: data, room: room, except: c.ID})
}

// ListClients returns the connected clients, optionally excluding one by
// connection id or user id.
func (h *Hub) ListClients(exclude string) []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ClientInfo, 0, len(h.clients))
	for id, c := range h.clients {
		if exclude != "" && (exclude == id || exclude == c.UserID) {
			continue
		}
		out = append(out, ClientInfo{ID: id, UserID: c.UserID, Name: c.Name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Members returns the user ids joined to a room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := h.rooms.members(room)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if c := h.clients[id]; c != nil {
			out = append(out, c.UserID)
		}
	}
	sort.Strings(out)
	return out
}

func (h *Hub) Conversations(userID string) []ThreadPreview {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inbox.list(userID)
}
