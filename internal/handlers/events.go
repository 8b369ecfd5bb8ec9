package handlers

import (
	"github.com/gofiber/contrib/websocket"

	"github.com/pelusa-v/chatsession/internal/chat"
)

const eventBuffer = 32

type event struct {
	Kind    string                `json:"kind"` // "message" or "typing"
	Message *chat.MessageReceived `json:"message,omitempty"`
	Typing  *chat.TypingChanged   `json:"typing,omitempty"`
}

// EventsHandler GET /api/ws/events streams inbound messages and typing
// changes to a view until either side closes. Redelivered messages are sent
// once per stream.
func (g *Gateway) EventsHandler(c *websocket.Conn) {
	messages, unsubscribeMessages := g.coord.SubscribeMessages(eventBuffer)
	defer unsubscribeMessages()
	typing, unsubscribeTyping := g.coord.SubscribeTyping(eventBuffer)
	defer unsubscribeTyping()

	// Views never send anything; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = c.Close()
		<-gone
	}()

	seen := chat.NewDeduper(chat.DefaultDedupeWindow)
	for {
		var ev event
		select {
		case m, ok := <-messages:
			if !ok {
				return
			}
			if seen.Seen(m.Message) {
				continue
			}
			ev = event{Kind: "message", Message: &m}
		case t, ok := <-typing:
			if !ok {
				return
			}
			ev = event{Kind: "typing", Typing: &t}
		case <-gone:
			return
		}
		if err := c.WriteJSON(ev); err != nil {
			g.log.Debug().Err(err).Msg("event stream closed")
			return
		}
	}
}
