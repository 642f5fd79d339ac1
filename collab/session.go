package collab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ssau-fiit/cloudocs-sync/metadata"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/richtext"
	"github.com/ssau-fiit/cloudocs-sync/sched"
	"github.com/ssau-fiit/cloudocs-sync/transport"
)

const SocketPath = "/api/v1/socket"

type Options struct {
	// ServerURL is the http(s) base of the sync service.
	ServerURL  string
	DocumentID string
	Token      string
	ShareToken string

	AutosaveInterval time.Duration
	TitleDebounce    time.Duration
	LoadTimeout      time.Duration
	LoadRetries      int
	AckTimeout       time.Duration

	Surface  Surface
	Observer Observer
	// OnTerminate runs on the session goroutine when a fatal error ends the
	// session.
	OnTerminate func(err error)

	HTTPClient *http.Client
	NewBackOff func() backoff.BackOff
}

// Session is one open document view: a channel, an Engine and the goroutine
// that owns them. All engine state is touched from Run only; the exported
// methods hand work to it and wait.
type Session struct {
	opts   Options
	conn   *transport.Conn
	meta   *metadata.Client
	engine *Engine

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	runCtx context.Context
	done   chan struct{}
}

func NewSession(opts Options) (*Session, error) {
	if opts.Token == "" && opts.ShareToken == "" {
		return nil, ErrAuthMissing
	}
	socketURL, err := SocketURL(opts.ServerURL, opts.ShareToken)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	s := &Session{
		opts: opts,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.conn = transport.New(transport.Options{
		URL:        socketURL,
		Header:     header,
		AckTimeout: opts.AckTimeout,
		NewBackOff: opts.NewBackOff,
	})
	s.meta = metadata.New(opts.ServerURL, opts.Token, opts.ShareToken)
	if opts.HTTPClient != nil {
		s.meta.WithHTTPClient(opts.HTTPClient)
	}

	s.engine, err = NewEngine(Config{
		DocumentID:       opts.DocumentID,
		Token:            opts.Token,
		ShareToken:       opts.ShareToken,
		AutosaveInterval: opts.AutosaveInterval,
		TitleDebounce:    opts.TitleDebounce,
		LoadTimeout:      opts.LoadTimeout,
		LoadRetries:      opts.LoadRetries,
	}, Deps{
		Channel:     loopChannel{conn: s.conn, post: s.post},
		Scheduler:   sched.NewLoop(s.post),
		Titles:      s.meta,
		Run:         s.runAsync,
		Surface:     opts.Surface,
		Observer:    opts.Observer,
		OnTerminate: opts.OnTerminate,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SocketURL derives the websocket endpoint from the service base URL.
func SocketURL(serverURL, shareToken string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + SocketPath
	q := url.Values{}
	if shareToken != "" {
		q.Set("share", shareToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run drives the session until ctx ends or a fatal error terminates it. The
// fatal error is returned; a cancelled context returns ctx.Err().
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.done)
	s.runCtx = ctx

	go s.conn.Run(ctx)
	defer s.conn.Close()
	defer s.engine.Close()

	s.engine.Start()
	events := s.conn.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if err := s.engine.Terminated(); err != nil {
					return err
				}
				return ctx.Err()
			}
			s.engine.Handle(ev)
		case <-s.wake:
			s.drain()
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := s.engine.Terminated(); err != nil {
			return err
		}
	}
}

func (s *Session) post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) drain() {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, fn := range queue {
		fn()
	}
}

func (s *Session) runAsync(work func(ctx context.Context) error, then func(error)) {
	ctx := s.runCtx
	go func() {
		err := work(ctx)
		s.post(func() { then(err) })
	}()
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(fn func() error) error {
	result := make(chan error, 1)
	s.post(func() { result <- fn() })
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// LocalEdit reports a change the user made in the surface.
func (s *Session) LocalEdit(op richtext.Delta) error {
	return s.do(func() error { return s.engine.Document().EmitLocal(op) })
}

// AppendText adds text at the end of the working copy. The position is read
// and the change emitted in one step, so a remote edit cannot land between.
func (s *Session) AppendText(text string) error {
	return s.do(func() error {
		doc := s.engine.Document()
		return doc.EmitLocal(richtext.New().Retain(doc.Content().Length(), nil).Insert(text, nil))
	})
}

// SetTitle reports a title typed by the user.
func (s *Session) SetTitle(title string) error {
	return s.do(func() error {
		if s.engine.Document().ReadOnly() {
			return ErrReadOnly
		}
		s.engine.Title().SetLocal(title)
		return nil
	})
}

// SelectionChanged reports the local cursor; nil means focus was lost.
func (s *Session) SelectionChanged(r *protocol.CursorRange) error {
	return s.do(func() error {
		s.engine.Presence().SelectionChanged(r)
		return nil
	})
}

// Snapshot returns the working copy.
func (s *Session) Snapshot() (richtext.Delta, error) {
	var d richtext.Delta
	err := s.do(func() error {
		d = s.engine.Document().Content()
		return nil
	})
	return d, err
}

type State struct {
	Connection ConnState
	Status     SyncStatus
	Loaded     bool
	ReadOnly   bool
	Title      string
	Roster     []protocol.ActiveUser
}

func (s *Session) State() (State, error) {
	var st State
	err := s.do(func() error {
		st = State{
			Connection: s.engine.Connection().State(),
			Status:     s.engine.Document().Status(),
			Loaded:     s.engine.Document().Loaded(),
			ReadOnly:   s.engine.Document().ReadOnly(),
			Title:      s.engine.Title().Title(),
			Roster:     s.engine.Presence().Roster(),
		}
		return nil
	})
	return st, err
}

// ShareLink asks the metadata service for a share capability. It does not
// touch session state and may be called from any goroutine.
func (s *Session) ShareLink(ctx context.Context, permission string) (metadata.ShareLink, error) {
	return s.meta.CreateShareLink(ctx, s.opts.DocumentID, permission)
}

// loopChannel delivers acknowledgements on the session goroutine.
type loopChannel struct {
	conn *transport.Conn
	post func(func())
}

func (c loopChannel) Emit(msg protocol.Message) error {
	return c.conn.Emit(msg)
}

func (c loopChannel) EmitWithAck(msg protocol.Message, fn func(protocol.Ack, bool)) error {
	return c.conn.EmitWithAck(msg, func(ack protocol.Ack, ok bool) {
		c.post(func() { fn(ack, ok) })
	})
}
