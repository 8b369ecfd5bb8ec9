package chat

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus[int]("test", zerolog.Nop())
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, <-a)
	assert.Equal(t, 2, <-a)
	assert.Equal(t, 1, <-c)
	assert.Equal(t, 2, <-c)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, b.Len())
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := NewBus[string]("test", zerolog.Nop())
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish("first")
	b.Publish("second")

	assert.Equal(t, "first", <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected event %q", v)
	default:
	}
}

func TestBusClose(t *testing.T) {
	b := NewBus[int]("test", zerolog.Nop())
	ch, unsub := b.Subscribe(1)

	b.Close()
	b.Close()
	_, open := <-ch
	assert.False(t, open)
	unsub()

	late, _ := b.Subscribe(1)
	_, open = <-late
	assert.False(t, open)

	b.Publish(3)
}
