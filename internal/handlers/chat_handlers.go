// Package handlers exposes a running chat session to local views over HTTP
// and a websocket event stream.
package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/pelusa-v/chatsession/internal/chat"
	"github.com/pelusa-v/chatsession/internal/logging"
	"github.com/pelusa-v/chatsession/internal/protocol"
	"github.com/pelusa-v/chatsession/internal/services"
)

const requestTimeout = 10 * time.Second

// MessageAPI is the REST side of the backend.
type MessageAPI interface {
	SendMessage(ctx context.Context, conversationID, content string) (protocol.Message, error)
	ListConversations(ctx context.Context) ([]services.Conversation, error)
}

// Gateway serves one Coordinator to any number of views. It owns a typing
// throttle per conversation input.
type Gateway struct {
	coord *chat.Coordinator
	api   MessageAPI
	log   zerolog.Logger

	mu        sync.Mutex
	throttles map[string]*chat.TypingThrottle
}

func NewGateway(coord *chat.Coordinator, api MessageAPI, logger *zerolog.Logger) (*Gateway, error) {
	if coord == nil {
		return nil, errors.New("handlers: coordinator must not be nil")
	}
	g := &Gateway{coord: coord, api: api, throttles: map[string]*chat.TypingThrottle{}}
	if logger != nil {
		g.log = *logger
	} else {
		g.log = logging.Component("gateway")
	}
	return g, nil
}

// NewApp mounts the gateway routes on a fiber app.
func (g *Gateway) NewApp() *fiber.App {
	// Conversation ids outlive the request as tracker state and throttle keys.
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
		Views:                 newViews(),
	})

	app.Get("/", g.StatusHandler)

	app.Use("/api/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/api/ws/events", websocket.New(g.EventsHandler))

	app.Get("/api/session", g.SessionHandler)
	app.Get("/api/unread", g.UnreadHandler)
	app.Get("/api/typing/:chat", g.TypingHandler)
	app.Post("/api/active", g.ActiveHandler) // ?chat=
	app.Post("/api/read", g.ReadHandler)     // ?chat=
	app.Post("/api/input", g.InputHandler)   // ?chat=
	app.Post("/api/messages", g.SendHandler) // ?chat=
	app.Get("/api/conversations", g.ConversationsHandler)
	return app
}

// Close stops every pending typing timer.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, t := range g.throttles {
		t.Close()
		delete(g.throttles, id)
	}
}

func (g *Gateway) throttle(conversationID string) *chat.TypingThrottle {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.throttles[conversationID]
	if !ok {
		t = g.coord.NewTypingThrottle(conversationID)
		g.throttles[conversationID] = t
	}
	return t
}

func (g *Gateway) dropThrottle(conversationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.throttles[conversationID]; ok {
		t.Close()
		delete(g.throttles, conversationID)
	}
}

func chatParam(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Query("chat"))
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// SessionHandler GET /api/session
func (g *Gateway) SessionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"selfId": g.coord.SelfID(),
		"active": g.coord.ActiveConversation(),
		"status": g.coord.Status(),
	})
}

// UnreadHandler GET /api/unread
func (g *Gateway) UnreadHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"counts": g.coord.UnreadCounts(),
		"total":  g.coord.TotalUnread(),
	})
}

// TypingHandler GET /api/typing/:chat
func (g *Gateway) TypingHandler(c *fiber.Ctx) error {
	id := c.Params("chat")
	return c.JSON(fiber.Map{"conversationId": id, "users": g.coord.TypingUsers(id)})
}

// ActiveHandler POST /api/active?chat= records the conversation on screen.
// An empty chat means no conversation is open.
func (g *Gateway) ActiveHandler(c *fiber.Ctx) error {
	id := chatParam(c)
	if prev := g.coord.ActiveConversation(); prev != "" && prev != id {
		g.dropThrottle(prev)
	}
	g.coord.SetActiveConversation(id)
	if id != "" {
		g.coord.MarkAsRead(id)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ReadHandler POST /api/read?chat=
func (g *Gateway) ReadHandler(c *fiber.Ctx) error {
	id := chatParam(c)
	if id == "" {
		return badRequest(c, "missing chat")
	}
	g.coord.MarkAsRead(id)
	return c.SendStatus(fiber.StatusNoContent)
}

type inputRequest struct {
	Text string `json:"text"`
}

// InputHandler POST /api/input?chat= reports the input text after an edit.
func (g *Gateway) InputHandler(c *fiber.Ctx) error {
	id := chatParam(c)
	if id == "" {
		return badRequest(c, "missing chat")
	}
	var req inputRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	g.throttle(id).InputChanged(req.Text)
	return c.SendStatus(fiber.StatusNoContent)
}

type sendRequest struct {
	Content string `json:"content"`
}

// SendHandler POST /api/messages?chat=
func (g *Gateway) SendHandler(c *fiber.Ctx) error {
	id := chatParam(c)
	if id == "" {
		return badRequest(c, "missing chat")
	}
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if g.api == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no message api configured"})
	}
	g.throttle(id).MessageSent()

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	msg, err := g.api.SendMessage(ctx, id, req.Content)
	if err != nil {
		return g.apiError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

type conversationView struct {
	services.Conversation
	Unread int  `json:"unread"`
	Active bool `json:"active"`
}

// ConversationsHandler GET /api/conversations lists conversations with the
// local unread counts.
func (g *Gateway) ConversationsHandler(c *fiber.Ctx) error {
	if g.api == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no message api configured"})
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()
	list, err := g.api.ListConversations(ctx)
	if err != nil {
		return g.apiError(c, err)
	}
	counts := g.coord.UnreadCounts()
	active := g.coord.ActiveConversation()
	out := make([]conversationView, 0, len(list))
	for _, conv := range list {
		out = append(out, conversationView{Conversation: conv, Unread: counts[conv.ID], Active: conv.ID == active})
	}
	return c.JSON(out)
}

func (g *Gateway) apiError(c *fiber.Ctx, err error) error {
	g.log.Warn().Err(err).Msg("backend call failed")
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrEmptyContent):
		return badRequest(c, err.Error())
	}
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
}
