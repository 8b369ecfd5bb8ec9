package services

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"
)

// serve runs app on an in-memory listener and returns a client wired to it.
func serve(t *testing.T, app *fiber.App, token string) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	logger := zerolog.Nop()
	c, err := NewClient(ClientConfig{
		BaseURL: "http://chat.test",
		Token:   token,
		Timeout: 2 * time.Second,
		Dial:    func(string) (net.Conn, error) { return ln.Dial() },
		Logger:  &logger,
	})
	require.NoError(t, err)
	return c
}

func newTestClient(t *testing.T, base, token string) *Client {
	t.Helper()
	logger := zerolog.Nop()
	c, err := NewClient(ClientConfig{BaseURL: base, Token: token, Timeout: 2 * time.Second, Logger: &logger})
	require.NoError(t, err)
	return c
}

func TestSendMessage(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	var gotAuth, gotContent string
	app.Post("/api/chats/:id/messages", func(c *fiber.Ctx) error {
		gotAuth = c.Get(fiber.HeaderAuthorization)
		var req sendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return err
		}
		gotContent = req.Content
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"Id":        "m-1",
			"ChatId":    c.Params("id"),
			"Content":   req.Content,
			"CreatedAt": "2024-05-01T12:00:00Z",
			"Sender":    fiber.Map{"Id": "u-1", "FullName": "Ana"},
		})
	})
	client := serve(t, app, "Bearer tok")

	msg, err := client.SendMessage(context.Background(), "c-9", "hello")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "hello", gotContent)
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, "c-9", msg.ConversationID)
	assert.Equal(t, "Ana", msg.Sender.DisplayName)
	assert.True(t, msg.CreatedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestSendMessageFillsMissingConversation(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/api/chats/:id/messages", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": 7, "content": "hi", "senderId": "u-1"})
	})
	client := serve(t, app, "tok")

	msg, err := client.SendMessage(context.Background(), "c-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "7", msg.ID)
	assert.Equal(t, "c-1", msg.ConversationID)
	assert.Equal(t, "u-1", msg.Sender.ID)
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", "tok")
	_, err := client.SendMessage(context.Background(), "c-1", "  ")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestUnauthorized(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/api/chats", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusUnauthorized)
	})
	client := serve(t, app, "")

	_, err := client.ListConversations(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, fiber.StatusUnauthorized, svcErr.Status)
	assert.Equal(t, "list conversations", svcErr.Op)
}

func TestListConversations(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/api/chats", func(c *fiber.Ctx) error {
		return c.JSON([]Conversation{
			{ID: "c-2", Title: "design", LastMessage: "ok"},
			{ID: "c-1", Title: "general"},
		})
	})
	client := serve(t, app, "tok")

	list, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c-2", list[0].ID)
	assert.Equal(t, "ok", list[0].LastMessage)
}

func TestServerError(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/api/chats", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusBadGateway).SendString("upstream down")
	})
	client := serve(t, app, "tok")

	_, err := client.ListConversations(context.Background())
	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, fiber.StatusBadGateway, svcErr.Status)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestCanceledContext(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", "tok")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ListConversations(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClientValidatesURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "ws://127.0.0.1:5000"})
	assert.Error(t, err)
	_, err = NewClient(ClientConfig{BaseURL: "http://127.0.0.1:5000/"})
	assert.NoError(t, err)
}
