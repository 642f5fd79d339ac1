package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssau-fiit/cloudocs-sync/collab"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/richtext"
)

type runningSession struct {
	*collab.Session
	errc chan error
}

func (r *testRelay) openSession(t *testing.T, opts collab.Options) *runningSession {
	t.Helper()
	if opts.ServerURL == "" {
		opts.ServerURL = r.srv.URL
	}
	if opts.AutosaveInterval == 0 {
		opts.AutosaveInterval = 50 * time.Millisecond
	}
	opts.TitleDebounce = 20 * time.Millisecond
	opts.NewBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }

	s, err := collab.NewSession(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{Session: s, errc: make(chan error, 1)}
	go func() { rs.errc <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-rs.errc:
		case <-time.After(5 * time.Second):
			t.Error("session did not stop")
		}
	})
	return rs
}

// state and text are polled from require.Eventually, which runs them on
// another goroutine, so they report errors as zero values.
func (s *runningSession) state(t *testing.T) collab.State {
	st, err := s.State()
	if err != nil {
		t.Logf("state: %v", err)
	}
	return st
}

func (s *runningSession) text(t *testing.T) string {
	d, err := s.Snapshot()
	if err != nil {
		t.Logf("snapshot: %v", err)
	}
	return d.Text()
}

// linkProxy forwards TCP to the relay and can sever the link and refuse new
// connections, the way a network outage looks to the client.
type linkProxy struct {
	ln     net.Listener
	target string

	mu    sync.Mutex
	down  bool
	conns []net.Conn
}

func newLinkProxy(t *testing.T, target string) *linkProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &linkProxy{ln: ln, target: strings.TrimPrefix(target, "http://")}
	go p.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		p.cut()
	})
	return p
}

func (p *linkProxy) URL() string { return "http://" + p.ln.Addr().String() }

func (p *linkProxy) serve() {
	for {
		in, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		down := p.down
		p.mu.Unlock()
		if down {
			_ = in.Close()
			continue
		}
		out, err := net.Dial("tcp", p.target)
		if err != nil {
			_ = in.Close()
			continue
		}
		p.mu.Lock()
		p.conns = append(p.conns, in, out)
		p.mu.Unlock()
		go func() { _, _ = io.Copy(out, in); _ = out.Close() }()
		go func() { _, _ = io.Copy(in, out); _ = in.Close() }()
	}
}

func (p *linkProxy) setDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

func (p *linkProxy) cut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		_ = c.Close()
	}
	p.conns = nil
}

func TestSessionsConverge(t *testing.T) {
	r := newTestRelay(t)
	alice := r.login(t, "alice", "hunter2")
	bob := r.login(t, "bob", "swordfish")
	doc := r.createDocument(t, alice, "Plan")

	a := r.openSession(t, collab.Options{DocumentID: doc.ID, Token: alice})
	require.Eventually(t, func() bool { return a.state(t).Loaded }, 5*time.Second, 10*time.Millisecond)
	st := a.state(t)
	assert.Equal(t, collab.Connected, st.Connection)
	assert.False(t, st.ReadOnly)
	require.Eventually(t, func() bool { return a.state(t).Title == "Plan" }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.LocalEdit(richtext.New().Insert("Hi", nil)))
	require.Eventually(t, func() bool {
		snap, err := r.store.Snapshot(context.Background(), doc.ID)
		return err == nil && snap.Text() == "Hi"
	}, 5*time.Second, 10*time.Millisecond)

	b := r.openSession(t, collab.Options{DocumentID: doc.ID, Token: bob})
	require.Eventually(t, func() bool { return b.state(t).Loaded }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Hi", b.text(t))
	require.Eventually(t, func() bool { return len(a.state(t).Roster) == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.LocalEdit(richtext.New().Retain(2, nil).Insert(" there", nil)))
	require.Eventually(t, func() bool { return b.text(t) == "Hi there" }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, b.LocalEdit(richtext.New().Insert(">", nil)))
	require.Eventually(t, func() bool { return a.text(t) == ">Hi there" }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.SetTitle("Roadmap"))
	require.Eventually(t, func() bool { return b.state(t).Title == "Roadmap" }, 5*time.Second, 10*time.Millisecond)
	stored, err := r.store.Document(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", stored.Title)

	require.Eventually(t, func() bool { return a.state(t).Status == collab.StatusSaved }, 5*time.Second, 10*time.Millisecond)
}

func TestSessionReconcilesOfflineEdits(t *testing.T) {
	r := newTestRelay(t)
	alice := r.login(t, "alice", "hunter2")
	bob := r.login(t, "bob", "swordfish")
	doc := r.createDocument(t, alice, "Plan")
	link := newLinkProxy(t, r.srv.URL)

	stored := func() string {
		snap, err := r.store.Snapshot(context.Background(), doc.ID)
		if err != nil {
			return ""
		}
		return snap.Text()
	}

	a := r.openSession(t, collab.Options{ServerURL: link.URL(), DocumentID: doc.ID, Token: alice})
	require.Eventually(t, func() bool { return a.state(t).Loaded }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, a.AppendText("Hi"))
	require.Eventually(t, func() bool { return stored() == "Hi" }, 5*time.Second, 10*time.Millisecond)

	link.setDown(true)
	link.cut()
	require.Eventually(t, func() bool { return a.state(t).Connection != collab.Connected }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, a.AppendText(" offline"))
	assert.Equal(t, "Hi offline", a.text(t))

	link.setDown(false)
	require.Eventually(t, func() bool { return stored() == "Hi offline" }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		st := a.state(t)
		return st.Connection == collab.Connected && st.Status == collab.StatusSaved
	}, 5*time.Second, 10*time.Millisecond)

	// The reconnected socket is back in the document's room.
	b := r.openSession(t, collab.Options{DocumentID: doc.ID, Token: bob})
	require.Eventually(t, func() bool { return b.state(t).Loaded }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Hi offline", b.text(t))

	require.NoError(t, a.AppendText("!"))
	require.Eventually(t, func() bool { return b.text(t) == "Hi offline!" }, 5*time.Second, 10*time.Millisecond)
}

func TestSessionViewerIsReadOnly(t *testing.T) {
	r := newTestRelay(t)
	alice := r.login(t, "alice", "hunter2")
	doc := r.createDocument(t, alice, "Plan")
	link := r.share(t, alice, doc.ID, protocol.PermissionViewer)

	v := r.openSession(t, collab.Options{DocumentID: doc.ID, ShareToken: link.Token})
	require.Eventually(t, func() bool { return v.state(t).Loaded }, 5*time.Second, 10*time.Millisecond)

	assert.True(t, v.state(t).ReadOnly)
	assert.ErrorIs(t, v.LocalEdit(richtext.New().Insert("x", nil)), collab.ErrReadOnly)
	assert.ErrorIs(t, v.SetTitle("x"), collab.ErrReadOnly)

	shareCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := v.ShareLink(shareCtx, protocol.PermissionEditor)
	assert.Error(t, err)
}

func TestSessionWithRejectedTokenTerminates(t *testing.T) {
	r := newTestRelay(t)
	doc := r.createDocument(t, r.login(t, "alice", "hunter2"), "Plan")

	var mu sync.Mutex
	var terminated error
	s := r.openSession(t, collab.Options{
		DocumentID: doc.ID,
		Token:      "revoked",
		OnTerminate: func(err error) {
			mu.Lock()
			terminated = err
			mu.Unlock()
		},
	})

	select {
	case err := <-s.errc:
		assert.ErrorIs(t, err, collab.ErrAuthInvalid)
		s.errc <- err
	case <-time.After(5 * time.Second):
		t.Fatal("session kept running with a rejected token")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, errors.Is(terminated, collab.ErrAuthInvalid))
}
