package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pelusa-v/chatsession/internal/protocol"
)

func TestDeduperByID(t *testing.T) {
	d := NewDeduper(0)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m := protocol.Message{ID: "m1", ConversationID: "c1", Sender: protocol.Sender{ID: "u1"}, Content: "hi", CreatedAt: now}
	assert.False(t, d.Seen(m))
	assert.True(t, d.Seen(m))

	other := m
	other.ID = "m2"
	assert.False(t, d.Seen(other), "same content with a different id is a new message")
}

func TestDeduperOptimisticEcho(t *testing.T) {
	d := NewDeduper(5 * time.Second)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	local := protocol.Message{ConversationID: "c1", Sender: protocol.Sender{ID: "me"}, Content: "hello", CreatedAt: now}
	assert.False(t, d.Seen(local))

	echo := local
	echo.ID = "srv-1"
	echo.CreatedAt = now.Add(800 * time.Millisecond)
	assert.True(t, d.Seen(echo))
	assert.True(t, d.Seen(echo), "id recorded after heuristic match")

	late := local
	late.CreatedAt = now.Add(time.Minute)
	assert.False(t, d.Seen(late))
}

func TestDeduperDifferentSender(t *testing.T) {
	d := NewDeduper(0)
	now := time.Now()

	assert.False(t, d.Seen(protocol.Message{Sender: protocol.Sender{ID: "a"}, Content: "ok", CreatedAt: now}))
	assert.False(t, d.Seen(protocol.Message{Sender: protocol.Sender{ID: "b"}, Content: "ok", CreatedAt: now}))
}

func TestDeduperBoundsMemory(t *testing.T) {
	d := NewDeduper(time.Hour)
	for i := 0; i < 1000; i++ {
		d.Seen(protocol.Message{Sender: protocol.Sender{ID: "a"}, Content: string(rune('a' + i%26)) + time.Duration(i).String()})
	}
	assert.LessOrEqual(t, len(d.recent), maxRecent)
}

func TestDeduperKeepsConversationsApart(t *testing.T) {
	d := NewDeduper(0)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, d.Seen(protocol.Message{ConversationID: "A", Sender: protocol.Sender{ID: "u1"}, Content: "ok", CreatedAt: now}))
	assert.False(t, d.Seen(protocol.Message{ConversationID: "B", Sender: protocol.Sender{ID: "u1"}, Content: "ok", CreatedAt: now}))
	assert.True(t, d.Seen(protocol.Message{ConversationID: "B", Sender: protocol.Sender{ID: "u1"}, Content: "ok", CreatedAt: now}))
}

func TestDeduperUsesArrivalTimeWithoutTimestamps(t *testing.T) {
	clock := newFakeClock()
	d := NewDeduper(5 * time.Second)
	d.now = clock.Now

	msg := protocol.Message{ConversationID: "A", Sender: protocol.Sender{ID: "u1"}, Content: "ok"}
	assert.False(t, d.Seen(msg))

	clock.Advance(time.Second)
	assert.True(t, d.Seen(msg), "redelivery within the window")

	clock.Advance(time.Hour)
	assert.False(t, d.Seen(msg), "same text much later is a new message")

	stamped := msg
	stamped.CreatedAt = clock.Now()
	clock.Advance(10 * time.Second)
	assert.False(t, d.Seen(stamped), "one side without a timestamp compares arrival times")
}
