package collab

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/sched"
	"github.com/ssau-fiit/cloudocs-sync/transport"
)

const (
	DefaultAutosaveInterval = 2000 * time.Millisecond
	DefaultTitleDebounce    = 1000 * time.Millisecond
	DefaultLoadTimeout      = 10 * time.Second
	DefaultLoadRetries      = 3
)

type Config struct {
	DocumentID string
	Token      string
	ShareToken string

	AutosaveInterval time.Duration
	TitleDebounce    time.Duration
	LoadTimeout      time.Duration
	LoadRetries      int
}

func (c Config) withDefaults() Config {
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = DefaultAutosaveInterval
	}
	if c.TitleDebounce <= 0 {
		c.TitleDebounce = DefaultTitleDebounce
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	if c.LoadRetries <= 0 {
		c.LoadRetries = DefaultLoadRetries
	}
	return c
}

// Deps are the collaborators an Engine drives. Surface and Observer may be
// nil.
type Deps struct {
	Channel     Channel
	Scheduler   sched.Scheduler
	Titles      TitleStore
	Run         Runner
	Surface     Surface
	Observer    Observer
	OnTerminate func(err error)
}

// Engine wires the five sync components together. It is not safe for
// concurrent use: every call, including Handle, must come from the one
// goroutine that owns the session.
type Engine struct {
	cfg Config

	conn     *ConnectionManager
	doc      *DocumentSync
	presence *PresenceTracker
	title    *TitleSync
	offline  *OfflineReconciler

	scope       Scope
	started     bool
	terminated  error
	onTerminate func(error)
}

func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if cfg.Token == "" && cfg.ShareToken == "" {
		return nil, ErrAuthMissing
	}
	cfg = cfg.withDefaults()

	surface := deps.Surface
	if surface == nil {
		surface = nopSurface{}
	}
	observer := deps.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	e := &Engine{cfg: cfg, onTerminate: deps.OnTerminate}
	e.conn = newConnectionManager(surface, observer, e.terminate)
	e.doc = newDocumentSync(cfg, deps.Channel, deps.Scheduler, surface, observer, e.conn)
	e.offline = newOfflineReconciler(e.doc)
	e.doc.offline = e.offline
	e.presence = newPresenceTracker(deps.Channel, observer, e.conn)
	e.title = newTitleSync(cfg, deps.Channel, deps.Scheduler, deps.Titles, deps.Run, observer)
	return e, nil
}

// Start puts the surface in its loading state and arms the subscriptions
// that drive the session.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true

	e.doc.surface.SetEditable(false)
	e.scope.Add(e.doc.Close)
	e.scope.Add(e.title.Close)
	e.scope.Add(e.conn.OnChange(func(s ConnState) {
		switch s {
		case Connected:
			e.offline.OnConnected()
		case Disconnected:
			e.doc.OnDisconnected()
		}
	}))
	e.conn.connecting()
	e.title.FetchInitial()
}

// Handle dispatches one transport event.
func (e *Engine) Handle(ev transport.Event) {
	if e.terminated != nil {
		return
	}
	if ev.Kind != transport.EventMessage {
		e.conn.HandleLifecycle(ev)
		return
	}

	switch msg := ev.Message.(type) {
	case protocol.LoadDocument:
		e.doc.HandleLoad(msg)
	case protocol.ReceiveChanges:
		e.doc.ApplyRemote(msg.Op)
	case protocol.UserJoined:
		e.presence.HandleJoined(msg)
	case protocol.UserLeft:
		e.presence.HandleLeft(msg)
	case protocol.CursorUpdate:
		e.presence.HandleCursor(msg)
	case protocol.TitleUpdate:
		e.title.HandleRemote(msg)
	case protocol.Error:
		e.conn.HandleServerError(msg)
	default:
		log.Debug().Str("event", ev.Message.Event()).Msg("ignoring message")
	}
}

func (e *Engine) terminate(err error) {
	if e.terminated != nil {
		return
	}
	e.terminated = err
	log.Error().Err(err).Str("document", e.cfg.DocumentID).Msg("session terminated")
	e.Close()
	if e.onTerminate != nil {
		e.onTerminate(err)
	}
}

// Terminated returns the fatal error that ended the session, if any.
func (e *Engine) Terminated() error { return e.terminated }

// Close releases every timer and subscription. It is idempotent.
func (e *Engine) Close() {
	e.scope.Close()
}

func (e *Engine) Connection() *ConnectionManager { return e.conn }
func (e *Engine) Document() *DocumentSync { return e.doc }
func (e *Engine) Presence() *PresenceTracker { return e.presence }
func (e *Engine) Title() *TitleSync { return e.title }
func (e *Engine) Offline() *OfflineReconciler { return e.offline }
