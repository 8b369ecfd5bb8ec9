// Package services talks to the messaging backend's REST API: sending a
// message and listing the user's conversations.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"

	"github.com/pelusa-v/chatsession/internal/logging"
	"github.com/pelusa-v/chatsession/internal/protocol"
)

const defaultTimeout = 10 * time.Second

var (
	ErrUnauthorized = errors.New("services: unauthorized")
	ErrEmptyContent = errors.New("services: message content is empty")
)

// Error is returned for any failed backend call.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("services: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("services: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Conversation struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind,omitempty"`
	Title         string    `json:"title"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
}

type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Dial opens backend connections. The default honours HTTP_PROXY,
	// HTTPS_PROXY and NO_PROXY.
	Dial   fasthttp.DialFunc
	Logger *zerolog.Logger
}

type Client struct {
	base    string
	token   string
	timeout time.Duration
	http    *fiber.Client
	dial    fasthttp.DialFunc
	log     zerolog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("services: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("services: base url %q must be http or https", cfg.BaseURL)
	}
	c := &Client{
		base:    strings.TrimRight(u.String(), "/"),
		token:   strings.TrimPrefix(strings.TrimSpace(cfg.Token), "Bearer "),
		timeout: cfg.Timeout,
		http:    &fiber.Client{JSONEncoder: json.Marshal, JSONDecoder: json.Unmarshal},
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	c.dial = cfg.Dial
	if c.dial == nil {
		c.dial = fasthttpproxy.FasthttpProxyHTTPDialerTimeout(c.timeout)
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	} else {
		c.log = logging.Component("services")
	}
	return c, nil
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage posts a message and returns the record the backend persisted,
// with its server-assigned id and timestamp.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (protocol.Message, error) {
	const op = "send message"
	if strings.TrimSpace(content) == "" {
		return protocol.Message{}, &Error{Op: op, Err: ErrEmptyContent}
	}

	agent := c.http.Post(c.base + "/api/chats/" + url.PathEscape(conversationID) + "/messages").
		JSON(sendMessageRequest{Content: content})
	body, err := c.do(ctx, op, agent)
	if err != nil {
		return protocol.Message{}, err
	}

	msg, ok := protocol.NormalizeMessage([]json.RawMessage{body})
	if !ok {
		// Some backends omit the conversation id from the echo.
		var echo map[string]any
		if json.Unmarshal(body, &echo) != nil {
			return protocol.Message{}, &Error{Op: op, Err: errors.New("response is not a message")}
		}
		echo["conversationId"] = conversationID
		patched, _ := json.Marshal(echo)
		if msg, ok = protocol.NormalizeMessage([]json.RawMessage{patched}); !ok {
			return protocol.Message{}, &Error{Op: op, Err: errors.New("response is not a message")}
		}
	}
	c.log.Debug().Str("conversation_id", msg.ConversationID).Str("message_id", msg.ID).Msg("message sent")
	return msg, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	const op = "list conversations"
	body, err := c.do(ctx, op, c.http.Get(c.base+"/api/chats"))
	if err != nil {
		return nil, err
	}
	var out []Conversation
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op string, agent *fiber.Agent) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(agent)
		return nil, &Error{Op: op, Err: err}
	}
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if agent.HostClient != nil {
		agent.HostClient.Dial = c.dial
	}
	if c.token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)

	status, body, errs := agent.Timeout(timeout).Bytes()
	if len(errs) > 0 {
		return nil, &Error{Op: op, Err: errors.Join(errs...)}
	}
	switch {
	case status == fiber.StatusUnauthorized || status == fiber.StatusForbidden:
		return nil, &Error{Op: op, Status: status, Err: ErrUnauthorized}
	case status < 200 || status > 299:
		return nil, &Error{Op: op, Status: status, Err: errors.New(strings.TrimSpace(string(body)))}
	}
	return body, nil
}
