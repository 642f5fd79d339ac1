// Package transport owns the websocket to the synchronization service: it
// dials, frames messages, correlates acknowledgements and reconnects on its
// own. Callers only observe the resulting lifecycle events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/protocol"
)

var (
	ErrNotConnected = errors.New("channel is not connected")
	ErrClosed       = errors.New("channel is closed")
)

type EventKind int

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventConnectError
	EventMessage
	// EventReconnecting precedes every dial after the first.
	EventReconnecting
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventConnectError:
		return "connect_error"
	case EventMessage:
		return "message"
	case EventReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

type Event struct {
	Kind    EventKind
	Message protocol.Message
	Err     error
	// Status is the HTTP status of a rejected handshake.
	Status int
}

// AckFunc receives the server acknowledgement. ok is false when no ack
// arrived: timeout, disconnect or a send that never left.
type AckFunc func(ack protocol.Ack, ok bool)

type Options struct {
	URL         string
	Header      http.Header
	AckTimeout  time.Duration
	MaxInterval time.Duration
	Dialer      *websocket.Dialer
	// NewBackOff overrides the reconnect policy.
	NewBackOff func() backoff.BackOff
}

type pendingAck struct {
	fn    AckFunc
	timer *time.Timer
}

type Conn struct {
	opts   Options
	events chan Event

	writeMu sync.Mutex
	ws      *websocket.Conn

	ackMu   sync.Mutex
	acks    map[uint64]*pendingAck
	nextAck atomic.Uint64

	closed  atomic.Bool
	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func New(opts Options) *Conn {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		}
	}
	if opts.NewBackOff == nil {
		maxInterval := opts.MaxInterval
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = maxInterval
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &Conn{
		opts:   opts,
		events: make(chan Event, 256),
		acks:   make(map[uint64]*pendingAck),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Events delivers lifecycle signals and inbound messages in arrival order.
// The channel is closed when Run returns.
func (c *Conn) Events() <-chan Event { return c.events }

// Run keeps the channel connected until ctx ends, Close is called or the
// server rejects the credential during the handshake.
func (c *Conn) Run(ctx context.Context) {
	c.started.Store(true)
	ctx, cancel := context.WithCancel(ctx)
	defer close(c.done)
	defer close(c.events)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := c.opts.NewBackOff()
	for {
		ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Int("status", status).Str("url", c.opts.URL).Msg("could not connect to sync service")
			c.publish(ctx, Event{Kind: EventConnectError, Err: err, Status: status})
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				return
			}
			if !c.wait(ctx, policy.NextBackOff()) {
				return
			}
			c.publish(ctx, Event{Kind: EventReconnecting})
			continue
		}
		policy.Reset()

		c.writeMu.Lock()
		c.ws = ws
		c.writeMu.Unlock()

		log.Debug().Str("url", c.opts.URL).Msg("connected to sync service")
		c.publish(ctx, Event{Kind: EventConnect})

		readErr := c.readLoop(ctx, ws)

		c.writeMu.Lock()
		c.ws = nil
		c.writeMu.Unlock()
		_ = ws.Close()
		c.failAcks()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(readErr).Msg("disconnected from sync service")
		c.publish(ctx, Event{Kind: EventDisconnect, Err: readErr})
		if !c.wait(ctx, policy.NextBackOff()) {
			return
		}
		c.publish(ctx, Event{Kind: EventReconnecting})
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		msg, id, err := protocol.Decode(frame)
		if err != nil {
			log.Error().Err(err).Msg("dropping malformed frame")
			continue
		}
		if ack, ok := msg.(protocol.Ack); ok {
			c.resolveAck(id, ack)
			continue
		}
		c.publish(ctx, Event{Kind: EventMessage, Message: msg})
	}
}

// Emit writes msg immediately. Messages are written in call order.
func (c *Conn) Emit(msg protocol.Message) error {
	return c.write(msg, 0)
}

// EmitWithAck writes msg and arranges for fn to run exactly once, from a
// transport goroutine.
func (c *Conn) EmitWithAck(msg protocol.Message, fn AckFunc) error {
	id := c.nextAck.Add(1)
	p := &pendingAck{fn: fn}
	c.ackMu.Lock()
	c.acks[id] = p
	p.timer = time.AfterFunc(c.opts.AckTimeout, func() { c.dropAck(id) })
	c.ackMu.Unlock()

	if err := c.write(msg, id); err != nil {
		c.dropAck(id)
		return err
	}
	return nil
}

func (c *Conn) write(msg protocol.Message, ackID uint64) error {
	if c.closed.Load() {
		return ErrClosed
	}
	frame, err := protocol.Encode(msg, ackID)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", msg.Event(), err)
	}
	return nil
}

func (c *Conn) resolveAck(id uint64, ack protocol.Ack) {
	c.ackMu.Lock()
	p, ok := c.acks[id]
	delete(c.acks, id)
	c.ackMu.Unlock()
	if !ok {
		log.Debug().Uint64("ack", id).Msg("late or unknown ack")
		return
	}
	p.timer.Stop()
	p.fn(ack, true)
}

func (c *Conn) dropAck(id uint64) {
	c.ackMu.Lock()
	p, ok := c.acks[id]
	delete(c.acks, id)
	c.ackMu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	p.fn(protocol.Ack{}, false)
}

func (c *Conn) failAcks() {
	c.ackMu.Lock()
	pending := c.acks
	c.acks = make(map[uint64]*pendingAck)
	c.ackMu.Unlock()
	for _, p := range pending {
		p.timer.Stop()
		p.fn(protocol.Ack{}, false)
	}
}

func (c *Conn) publish(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Conn) wait(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops reconnecting and tears the socket down. It waits for Run to
// return when Run was started.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.stop)
	if c.started.Load() {
		<-c.done
	}
	return nil
}
