package chat

import (
	"strings"
	"sync"
	"time"
)

const (
	DefaultTypingThrottle  = 2 * time.Second
	DefaultTypingStopAfter = 3 * time.Second
)

type ThrottleState int

const (
	Idle ThrottleState = iota
	ActivelyTyping
)

func (s ThrottleState) String() string {
	if s == ActivelyTyping {
		return "actively_typing"
	}
	return "idle"
}

// TypingSender delivers an outbound typing signal.
type TypingSender func(conversationID string, isTyping bool)

type ThrottleConfig struct {
	// Throttle is the minimum gap between two "typing" announcements.
	Throttle time.Duration
	// StopAfter is the silence after which "stopped typing" is sent.
	StopAfter time.Duration
	Clock     Clock
}

// TypingThrottle turns keystrokes in one conversation's input into a sparse
// stream of typing signals. One instance lives as long as the input surface.
type TypingThrottle struct {
	conversationID string
	send           TypingSender
	throttle       time.Duration
	stopAfter      time.Duration
	clock          Clock

	mu             sync.Mutex
	lastSentTrueAt time.Time
	stopTimer      Timer
	generation     uint64
	closed         bool
}

func NewTypingThrottle(conversationID string, send TypingSender, cfg ThrottleConfig) *TypingThrottle {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultTypingThrottle
	}
	if cfg.StopAfter <= 0 {
		cfg.StopAfter = DefaultTypingStopAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	return &TypingThrottle{
		conversationID: conversationID,
		send:           send,
		throttle:       cfg.Throttle,
		stopAfter:      cfg.StopAfter,
		clock:          cfg.Clock,
	}
}

func (t *TypingThrottle) ConversationID() string { return t.conversationID }

func (t *TypingThrottle) State() ThrottleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastSentTrueAt.IsZero() {
		return Idle
	}
	return ActivelyTyping
}

// InputChanged is called with the full input text after every edit.
func (t *TypingThrottle) InputChanged(text string) {
	if strings.TrimSpace(text) == "" {
		t.stop()
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	announce := t.lastSentTrueAt.IsZero() || now.Sub(t.lastSentTrueAt) > t.throttle
	if announce {
		t.lastSentTrueAt = now
	}
	t.resetStopTimerLocked()
	t.mu.Unlock()

	if announce {
		t.send(t.conversationID, true)
	}
}

// MessageSent ends the typing burst immediately.
func (t *TypingThrottle) MessageSent() {
	t.stop()
}

// Close cancels a pending stop timer without sending anything.
func (t *TypingThrottle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cancelStopTimerLocked()
}

func (t *TypingThrottle) stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.cancelStopTimerLocked()
	wasTyping := !t.lastSentTrueAt.IsZero()
	t.lastSentTrueAt = time.Time{}
	t.mu.Unlock()

	if wasTyping {
		t.send(t.conversationID, false)
	}
}

func (t *TypingThrottle) resetStopTimerLocked() {
	t.cancelStopTimerLocked()
	gen := t.generation
	t.stopTimer = t.clock.AfterFunc(t.stopAfter, func() { t.expire(gen) })
}

func (t *TypingThrottle) cancelStopTimerLocked() {
	// A timer that already fired sees a stale generation and does nothing.
	t.generation++
	if t.stopTimer != nil {
		t.stopTimer.Stop()
		t.stopTimer = nil
	}
}

func (t *TypingThrottle) expire(gen uint64) {
	t.mu.Lock()
	if t.closed || gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.stopTimer = nil
	wasTyping := !t.lastSentTrueAt.IsZero()
	t.lastSentTrueAt = time.Time{}
	t.mu.Unlock()

	if wasTyping {
		t.send(t.conversationID, false)
	}
}
