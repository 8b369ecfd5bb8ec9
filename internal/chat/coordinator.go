// Package chat holds the client-side state of a chat session: unread counts,
// typing indicators, the conversation on screen, and the Coordinator that
// derives them from the transport's event stream for any number of views.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pelusa-v/chatsession/internal/logging"
	"github.com/pelusa-v/chatsession/internal/protocol"
	"github.com/pelusa-v/chatsession/internal/transport"
)

var (
	ErrNoCredential = errors.New("chat: credential is required")
	ErrClosed       = errors.New("chat: session closed")
)

// Transport is the real-time link the Coordinator drives.
type Transport interface {
	Start(ctx context.Context, credential string) error
	Close()
	Invoke(method string, args ...any)
	On(event string, h transport.Handler)
	OnStateChange(fn func(transport.State))
	State() transport.State
	LastError() error
}

// MessageReceived is republished for every inbound message so mounted views
// can append it when it belongs to them.
type MessageReceived struct {
	Message  protocol.Message `json:"message"`
	FromSelf bool             `json:"fromSelf"`
	Active   bool             `json:"active"`
}

type TypingChanged struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type Status struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	LastError string `json:"lastError,omitempty"`
}

type Options struct {
	Transport Transport
	Notifier  Notifier
	// SelfID is the local user id. When empty it is read from the credential.
	SelfID string
	Typing ThrottleConfig
	Logger *zerolog.Logger
}

// Coordinator is the per-login chat session. It is created at login, shared
// by every view, and closed at logout.
type Coordinator struct {
	transport Transport
	notifier  Notifier
	typingCfg ThrottleConfig
	log       zerolog.Logger

	mu      sync.RWMutex
	selfID  string
	ledger  *UnreadLedger
	typing  *TypingState
	members *MembershipTracker
	closed  bool

	messages *Bus[MessageReceived]
	typingEv *Bus[TypingChanged]
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Transport == nil {
		return nil, errors.New("chat: transport must not be nil")
	}

	c := &Coordinator{
		transport: opts.Transport,
		notifier:  opts.Notifier,
		typingCfg: opts.Typing,
		selfID:    opts.SelfID,
		ledger:    NewUnreadLedger(),
		typing:    NewTypingState(),
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	} else {
		c.log = logging.Component("chat")
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Log: c.log}
	}
	c.members = NewMembershipTracker(opts.Transport)
	c.messages = NewBus[MessageReceived]("messages", c.log)
	c.typingEv = NewBus[TypingChanged]("typing", c.log)

	opts.Transport.On(protocol.EventReceiveMessage, c.onReceiveMessage)
	opts.Transport.On(protocol.EventUserTyping, c.onUserTyping)
	opts.Transport.OnStateChange(c.onStateChange)
	return c, nil
}

// Start connects the session with the bearer credential.
func (c *Coordinator) Start(ctx context.Context, credential string) error {
	if credential == "" {
		return ErrNoCredential
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.selfID == "" {
		id, err := UserIDFromToken(credential)
		if err != nil {
			c.log.Warn().Err(err).Msg("local user id unknown, own messages will count as unread")
		}
		c.selfID = id
	}
	c.mu.Unlock()

	return c.transport.Start(ctx, credential)
}

// Close ends the session: the connection is torn down and every subscriber
// channel is closed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.transport.Close()
	c.messages.Close()
	c.typingEv.Close()
}

func (c *Coordinator) SelfID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfID
}

func (c *Coordinator) IsConnected() bool {
	return c.transport.State() == transport.Connected
}

func (c *Coordinator) ConnectionState() transport.State {
	return c.transport.State()
}

func (c *Coordinator) LastError() error {
	return c.transport.LastError()
}

func (c *Coordinator) Status() Status {
	st := Status{State: c.transport.State().String()}
	st.Connected = st.State == transport.Connected.String()
	if err := c.transport.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// TypingUsers returns who is typing in a conversation.
func (c *Coordinator) TypingUsers(conversationID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.typing.Users(conversationID)
}

func (c *Coordinator) TypingState() map[string]map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.typing.Snapshot()
}

func (c *Coordinator) UnreadCounts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Snapshot()
}

func (c *Coordinator) UnreadCount(conversationID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Count(conversationID)
}

func (c *Coordinator) TotalUnread() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Total()
}

func (c *Coordinator) ActiveConversation() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members.Active()
}

// SetActiveConversation records the conversation on screen. Views call it
// with their id when mounted and with "" when unmounted.
func (c *Coordinator) SetActiveConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members.SetActive(conversationID)
}

func (c *Coordinator) MarkAsRead(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledger.MarkRead(conversationID)
}

func (c *Coordinator) SendTypingStatus(conversationID string, isTyping bool) {
	c.transport.Invoke(protocol.MethodSendTypingStatus, conversationID, isTyping)
}

// NewTypingThrottle returns a throttle for one conversation's input that
// sends through this session.
func (c *Coordinator) NewTypingThrottle(conversationID string) *TypingThrottle {
	return NewTypingThrottle(conversationID, c.SendTypingStatus, c.typingCfg)
}

func (c *Coordinator) SubscribeMessages(buffer int) (<-chan MessageReceived, func()) {
	return c.messages.Subscribe(buffer)
}

func (c *Coordinator) SubscribeTyping(buffer int) (<-chan TypingChanged, func()) {
	return c.typingEv.Subscribe(buffer)
}

func (c *Coordinator) onReceiveMessage(args []json.RawMessage) {
	msg, ok := protocol.NormalizeMessage(args)
	if !ok {
		c.log.Debug().Msg("message without conversation id ignored")
		return
	}

	c.mu.Lock()
	fromSelf := c.selfID != "" && msg.Sender.ID == c.selfID
	active := c.members.Active() == msg.ConversationID
	counted := c.ledger.RecordIncoming(msg.ConversationID, fromSelf, active)
	c.mu.Unlock()

	c.log.Debug().
		Str("conversation_id", msg.ConversationID).
		Str("message_id", msg.ID).
		Bool("from_self", fromSelf).
		Bool("active", active).
		Msg("message received")

	if counted {
		c.notifier.Notify(Toast{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			SenderID:       msg.Sender.ID,
			SenderName:     msg.Sender.DisplayName,
			SenderAvatar:   msg.Sender.Avatar,
			Content:        msg.Content,
		})
	}
	c.messages.Publish(MessageReceived{Message: msg, FromSelf: fromSelf, Active: active})
}

func (c *Coordinator) onUserTyping(args []json.RawMessage) {
	t, ok := protocol.NormalizeTyping(args)
	if !ok {
		c.log.Debug().Msg("typing event without ids ignored")
		return
	}

	c.mu.Lock()
	changed := c.typing.Set(t.ConversationID, t.UserID, t.IsTyping)
	c.mu.Unlock()

	if changed {
		c.typingEv.Publish(TypingChanged{ConversationID: t.ConversationID, UserID: t.UserID, IsTyping: t.IsTyping})
	}
}

func (c *Coordinator) onStateChange(state transport.State) {
	c.log.Debug().Str("state", state.String()).Msg("connection state changed")
	if state != transport.Connected {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members.Rejoin()
}
