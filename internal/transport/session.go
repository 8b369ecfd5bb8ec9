// Package transport owns the single real-time connection of a chat session.
//
// A Session dials the backend hub, performs the protocol handshake, keeps the
// link alive, and reconnects with a fixed delay for as long as it is running.
// Outbound invocations are fire-and-forget and are dropped unless the link is
// Connected. Inbound invocations are dispatched, in delivery order, to every
// handler registered for their target.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/pelusa-v/chatsession/internal/logging"
	"github.com/pelusa-v/chatsession/internal/protocol"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNoCredential = errors.New("transport: credential is required")
	ErrClosed       = errors.New("transport: session closed")
)

// Handler receives the raw arguments of an inbound invocation.
type Handler func(args []json.RawMessage)

type Options struct {
	URL              string
	Dialer           Dialer
	RetryDelay       time.Duration
	KeepAlive        time.Duration
	ServerTimeout    time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
	Logger           *zerolog.Logger
}

const (
	defaultRetryDelay       = 10 * time.Second
	defaultKeepAlive        = 15 * time.Second
	defaultServerTimeout    = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultSendBuffer       = 64
)

type Session struct {
	opts Options
	log  zerolog.Logger

	mu      sync.RWMutex
	state   State
	lastErr error
	send    chan []byte
	cancel  context.CancelFunc
	closed  bool

	handlersMu    sync.RWMutex
	handlers      map[string][]Handler
	stateHandlers []func(State)

	wg sync.WaitGroup
}

func NewSession(opts Options) (*Session, error) {
	if opts.URL == "" {
		return nil, errors.New("transport: url must not be empty")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("transport: invalid url: %w", err)
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	if opts.ServerTimeout <= 0 {
		opts.ServerTimeout = defaultServerTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebsocketDialer(opts.HandshakeTimeout)
	}

	s := &Session{
		opts:     opts,
		handlers: map[string][]Handler{},
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		s.log = logging.Component("transport")
	}
	return s, nil
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	return s.State() == Connected
}

// LastError is the most recent connection failure, cleared on connect.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// On registers h for the named inbound event. Handlers for the same event run
// in registration order.
func (s *Session) On(event string, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
}

// OnStateChange registers fn to be called after every state transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.stateHandlers = append(s.stateHandlers, fn)
}

// Start begins connecting with credential. It returns immediately; failures
// are retried in the background until Close or ctx is done. Calling Start on
// a running session is a no-op.
func (s *Session) Start(ctx context.Context, credential string) error {
	if credential == "" {
		return ErrNoCredential
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Disconnected {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = Connecting
	s.lastErr = nil
	s.wg.Add(1)
	s.mu.Unlock()

	s.notifyState(Connecting)
	go s.run(runCtx, credential)
	return nil
}

// Close tears the session down and waits for its goroutines. It is safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.stopped()
}

// Invoke sends a fire-and-forget invocation. It is silently dropped unless
// the session is Connected.
func (s *Session) Invoke(method string, args ...any) {
	s.mu.RLock()
	state, send := s.state, s.send
	s.mu.RUnlock()

	if state != Connected || send == nil {
		s.log.Debug().Str("method", method).Str("state", state.String()).Msg("invocation dropped, not connected")
		return
	}

	frame, err := protocol.NewInvocation(method, args...)
	if err != nil {
		s.log.Warn().Err(err).Str("method", method).Msg("invocation dropped")
		return
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		s.log.Warn().Err(err).Str("method", method).Msg("invocation dropped")
		return
	}

	select {
	case send <- data:
	default:
		s.log.Warn().Str("method", method).Msg("invocation dropped, send buffer full")
	}
}

type link struct {
	conn    Conn
	pending [][]byte
}

func (s *Session) run(ctx context.Context, credential string) {
	defer s.wg.Done()
	defer s.stopped()

	attempt := 0
	for {
		l, err := backoff.Retry(ctx, func() (link, error) {
			attempt++
			return s.connect(ctx, credential)
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(s.opts.RetryDelay)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				s.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("connect failed")
				s.fail(err)
			}),
		)
		if err != nil {
			// Only a done ctx ends the retry loop.
			return
		}

		attempt = 0
		err = s.serve(ctx, l)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Msg("connection lost, reconnecting")
		s.fail(err)
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := s.state != Reconnecting
	s.state = Reconnecting
	s.lastErr = err
	s.send = nil
	s.mu.Unlock()
	if changed {
		s.notifyState(Reconnecting)
	}
}

// stopped marks the session Disconnected once the run loop is over, so a
// session whose context ended can be started again.
func (s *Session) stopped() {
	s.mu.Lock()
	changed := s.state != Disconnected
	s.state = Disconnected
	s.send = nil
	s.mu.Unlock()
	if changed {
		s.notifyState(Disconnected)
	}
}

func (s *Session) endpoint(credential string) (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("access_token", credential)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Session) connect(ctx context.Context, credential string) (link, error) {
	endpoint, err := s.endpoint(credential)
	if err != nil {
		return link{}, fmt.Errorf("transport: invalid url: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	conn, err := s.opts.Dialer.Dial(dialCtx, endpoint, header)
	if err != nil {
		return link{}, fmt.Errorf("transport: dial: %w", err)
	}

	pending, err := s.handshake(conn)
	if err != nil {
		_ = conn.Close()
		return link{}, err
	}
	return link{conn: conn, pending: pending}, nil
}

// handshake negotiates the protocol and returns any records that arrived in
// the same frame as the handshake response.
func (s *Session) handshake(conn Conn) ([][]byte, error) {
	req, err := protocol.Encode(protocol.DefaultHandshake)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, fmt.Errorf("transport: write handshake: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("transport: read handshake: %w", err)
	}
	records := protocol.Split(data)
	if len(records) == 0 {
		return nil, errors.New("transport: empty handshake response")
	}
	resp, err := protocol.DecodeHandshakeResponse(records[0])
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("transport: handshake rejected: %s", resp.Error)
	}
	return records[1:], nil
}

// serve runs the link until it breaks or ctx is done and returns the cause.
func (s *Session) serve(ctx context.Context, l link) error {
	send := make(chan []byte, s.opts.SendBuffer)

	s.mu.Lock()
	s.state = Connected
	s.lastErr = nil
	s.send = send
	s.mu.Unlock()
	s.log.Info().Str("url", s.opts.URL).Msg("connected")
	s.notifyState(Connected)

	done := make(chan struct{})
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		s.writePump(ctx, l.conn, send, done)
	}()

	err := s.readPump(l)

	close(done)
	_ = l.conn.Close()
	writer.Wait()
	return err
}

func (s *Session) writePump(ctx context.Context, conn Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()

	ping, _ := protocol.Encode(protocol.Frame{Type: protocol.FramePing})
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case data := <-send:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				s.log.Debug().Err(err).Msg("keepalive failed")
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Session) readPump(l link) error {
	for _, record := range l.pending {
		if err := s.handleRecord(record); err != nil {
			return err
		}
	}
	for {
		_ = l.conn.SetReadDeadline(time.Now().Add(s.opts.ServerTimeout))
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("transport: read: %w", err)
		}
		for _, record := range protocol.Split(data) {
			if err := s.handleRecord(record); err != nil {
				return err
			}
		}
	}
}

// handleRecord dispatches one record. A non-nil error ends the link.
func (s *Session) handleRecord(record []byte) error {
	frame, err := protocol.DecodeFrame(record)
	if err != nil {
		s.log.Debug().Err(err).Msg("malformed record ignored")
		return nil
	}
	switch frame.Type {
	case protocol.FrameInvocation:
		s.dispatch(frame.Target, frame.Arguments)
	case protocol.FramePing:
	case protocol.FrameClose:
		if frame.Error != "" {
			return fmt.Errorf("transport: server closed connection: %s", frame.Error)
		}
		return errors.New("transport: server closed connection")
	default:
		s.log.Debug().Int("type", int(frame.Type)).Msg("unsupported record ignored")
	}
	return nil
}

func (s *Session) dispatch(event string, args []json.RawMessage) {
	s.handlersMu.RLock()
	handlers := append([]Handler(nil), s.handlers[event]...)
	s.handlersMu.RUnlock()

	if len(handlers) == 0 {
		s.log.Debug().Str("event", event).Msg("no handler for event")
		return
	}
	for _, h := range handlers {
		s.safeCall(event, h, args)
	}
}

func (s *Session) safeCall(event string, h Handler, args []json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("event", event).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	h(args)
}

func (s *Session) notifyState(state State) {
	s.handlersMu.RLock()
	fns := append([]func(State){}, s.stateHandlers...)
	s.handlersMu.RUnlock()
	for _, fn := range fns {
		fn(state)
	}
}
