package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pelusa-v/chatsession/internal/protocol"
)

// Conn is the part of a websocket connection a Client uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetReadDeadline(time.Time) error
	Close() error
}

type Client struct {
	ID     string
	UserID string
	Name   string

	hub     *Hub
	conn    Conn
	send    chan []byte
	limiter *rate.Limiter
	log     zerolog.Logger
}

func (h *Hub) newClient(conn Conn, userID, name string) *Client {
	id := uuid.NewString()
	burst := int(h.cfg.FramesPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		ID:      id,
		UserID:  userID,
		Name:    name,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, clientSendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.FramesPerSecond), burst),
		log:     h.log.With().Str("client_id", id).Str("user_id", userID).Logger(),
	}
}

// Serve runs one connection: handshake, registration, then the read loop on
// the calling goroutine and the write loop beside it.
func (h *Hub) Serve(conn Conn, userID, name string) {
	c := h.newClient(conn, userID, name)
	pending, err := c.handshake()
	if err != nil {
		c.log.Debug().Err(err).Msg("handshake failed")
		return
	}

	select {
	case h.register <- c:
	case <-h.done:
		return
	}

	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump()
	}()

	c.readPump(pending)

	select {
	case h.unregister <- c:
	case <-h.done:
	}
	<-written
}

func (c *Client) handshake() ([][]byte, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.HandshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	records := protocol.Split(data)
	if len(records) == 0 {
		return nil, protocol.ErrEmptyRecord
	}
	hs, err := protocol.DecodeHandshake(records[0])
	if err == nil && (hs.Protocol != protocol.DefaultHandshake.Protocol || hs.Version != protocol.DefaultHandshake.Version) {
		err = fmt.Errorf("protocol %q version %d is not supported", hs.Protocol, hs.Version)
	}
	if err != nil {
		reply, _ := protocol.Encode(protocol.HandshakeResponse{Error: err.Error()})
		_ = c.conn.WriteMessage(websocket.TextMessage, reply)
		return nil, err
	}
	reply, _ := protocol.Encode(protocol.HandshakeResponse{})
	if err := c.conn.WriteMessage(websocket.TextMessage, reply); err != nil {
		return nil, err
	}
	return records[1:], nil
}

func (c *Client) readPump(pending [][]byte) {
	for _, rec := range pending {
		if !c.handleRecord(rec) {
			return
		}
	}
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.ClientTimeout))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if !c.limiter.Allow() {
			c.log.Warn().Msg("frame rate exceeded, frame dropped")
			continue
		}
		for _, rec := range protocol.Split(data) {
			if !c.handleRecord(rec) {
				return
			}
		}
	}
}

// handleRecord reports whether the connection should stay open.
func (c *Client) handleRecord(rec []byte) bool {
	f, err := protocol.DecodeFrame(rec)
	if err != nil {
		c.log.Debug().Err(err).Msg("bad record")
		return true
	}
	switch f.Type {
	case protocol.FrameInvocation:
		if err := c.invoke(f); err != nil {
			if errors.Is(err, ErrHubStopped) {
				return false
			}
			c.log.Debug().Err(err).Str("method", f.Target).Msg("invocation rejected")
		}
	case protocol.FrameClose:
		return false
	}
	return true
}

func (c *Client) invoke(f protocol.Frame) error {
	var room string
	if len(f.Arguments) > 0 {
		if err := json.Unmarshal(f.Arguments[0], &room); err != nil {
			return fmt.Errorf("conversation id: %w", err)
		}
	}
	switch f.Target {
	case protocol.MethodJoinChat:
		c.hub.join(c, room)
	case protocol.MethodLeaveChat:
		c.hub.leave(c, room)
	case protocol.MethodSendTypingStatus:
		if len(f.Arguments) < 2 {
			return errors.New("typing status is missing")
		}
		var isTyping bool
		if err := json.Unmarshal(f.Arguments[1], &isTyping); err != nil {
			return fmt.Errorf("typing status: %w", err)
		}
		return c.hub.typing(c, room, isTyping)
	default:
		return fmt.Errorf("unknown method %q", f.Target)
	}
	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	ping, _ := protocol.Encode(protocol.Frame{Type: protocol.FramePing})

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				bye, _ := protocol.Encode(protocol.Frame{Type: protocol.FrameClose, AllowReconnect: true})
				_ = c.conn.WriteMessage(websocket.TextMessage, bye)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}
