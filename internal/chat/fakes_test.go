package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/chatsession/internal/transport"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock fires AfterFunc callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// AdvanceTo moves time to an offset from start.
func (c *fakeClock) AdvanceTo(start time.Time, offset time.Duration) {
	c.Advance(start.Add(offset).Sub(c.Now()))
}

type invocation struct {
	Method string
	Args   []any
}

type fakeTransport struct {
	mu            sync.Mutex
	state         transport.State
	lastErr       error
	credential    string
	started       int
	closed        bool
	invocations   []invocation
	handlers      map[string][]transport.Handler
	stateHandlers []func(transport.State)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: map[string][]transport.Handler{}}
}

func (f *fakeTransport) Start(_ context.Context, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credential = credential
	f.started++
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) Invoke(method string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.Connected {
		return
	}
	f.invocations = append(f.invocations, invocation{Method: method, Args: args})
}

func (f *fakeTransport) On(event string, h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeTransport) OnStateChange(fn func(transport.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateHandlers = append(f.stateHandlers, fn)
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeTransport) setState(st transport.State) {
	f.mu.Lock()
	f.state = st
	fns := append([]func(transport.State){}, f.stateHandlers...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// emit delivers an inbound event with JSON-encoded arguments.
func (f *fakeTransport) emit(t *testing.T, event string, args ...any) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		require.NoError(t, err)
		raw = append(raw, b)
	}
	f.mu.Lock()
	hs := append([]transport.Handler{}, f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(raw)
	}
}

func (f *fakeTransport) calls() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.invocations...)
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invocations = nil
}

// recordingInvoker records every call regardless of connection state.
type recordingInvoker struct {
	calls []invocation
}

func (r *recordingInvoker) Invoke(method string, args ...any) {
	r.calls = append(r.calls, invocation{Method: method, Args: args})
}
