package hub

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pelusa-v/chatsession/internal/chat"
)

const (
	localUserID   = "user_id"
	localUserName = "user_name"
)

var errNoToken = errors.New("hub: bearer token is required")

type identity struct {
	UserID string
	Name   string
}

func (h *Hub) identify(token string) (identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return identity{}, errNoToken
	}

	claims := jwt.MapClaims{}
	if h.cfg.SigningKey != "" {
		_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return []byte(h.cfg.SigningKey), nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil {
			return identity{}, fmt.Errorf("hub: invalid token: %w", err)
		}
	} else if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Development tokens may simply name the user.
		return identity{UserID: token, Name: token}, nil
	}

	id := chat.UserIDFromClaims(claims)
	if id == "" {
		return identity{}, errors.New("hub: token carries no user id claim")
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = id
	}
	return identity{UserID: id, Name: name}, nil
}

func (h *Hub) authenticate(c *fiber.Ctx) error {
	token := c.Get(fiber.HeaderAuthorization)
	if token == "" {
		token = c.Query("access_token")
	}
	who, err := h.identify(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	c.Locals(localUserID, who.UserID)
	c.Locals(localUserName, who.Name)
	return c.Next()
}

// NewApp mounts the hub endpoint and its REST API on a fiber app.
func NewApp(h *Hub) *fiber.App {
	// User ids taken from the request are kept by long-lived connections.
	app := fiber.New(fiber.Config{DisableStartupMessage: true, Immutable: true})

	app.Use("/hubs", h.authenticate, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/hubs/chat", websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(localUserID).(string)
		name, _ := conn.Locals(localUserName).(string)
		h.Serve(conn, userID, name)
	}))

	api := app.Group("/api", h.authenticate)
	api.Post("/chats/:id/messages", h.postMessageHandler)
	api.Get("/chats", h.listChatsHandler)
	api.Get("/clients", h.listClientsHandler) // ?exclude=idOrUserId
	return app
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// postMessageHandler POST /api/chats/:id/messages
func (h *Hub) postMessageHandler(c *fiber.Ctx) error {
	var req postMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	sender := Sender{
		ID:          c.Locals(localUserID).(string),
		DisplayName: c.Locals(localUserName).(string),
	}
	msg, err := h.PostMessage(sender, c.Params("id"), req.Content)
	switch {
	case errors.Is(err, ErrHubStopped):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// listChatsHandler GET /api/chats
func (h *Hub) listChatsHandler(c *fiber.Ctx) error {
	return c.JSON(h.Conversations(c.Locals(localUserID).(string)))
}

func (h *Hub) listClientsHandler(c *fiber.Ctx) error {
	return c.JSON(h.ListClients(c.Query("exclude")))
}
