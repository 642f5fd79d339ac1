package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/richtext"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeService records frames and answers save-document with the ack status
// it was configured with.
type fakeService struct {
	mu        sync.Mutex
	frames    []protocol.Message
	ackStatus string
	conns     []*websocket.Conn
}

func (f *fakeService) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, id, err := protocol.Decode(frame)
			if err != nil {
				t.Errorf("decode: %v", err)
				continue
			}
			f.mu.Lock()
			f.frames = append(f.frames, msg)
			status := f.ackStatus
			f.mu.Unlock()

			if id != 0 && status != "" {
				out, _ := protocol.Encode(protocol.Ack{Status: status}, id)
				_ = conn.WriteMessage(websocket.TextMessage, out)
			}
			if get, ok := msg.(protocol.GetDocument); ok {
				out, _ := protocol.Encode(protocol.LoadDocument{Snapshot: richtext.FromText(get.DocumentID)}, 0)
				_ = conn.WriteMessage(websocket.TextMessage, out)
			}
		}
	}
}

func (f *fakeService) received() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.frames...)
}

func (f *fakeService) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.conns = nil
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(10 * time.Millisecond)
}

func startConn(t *testing.T, srv *httptest.Server, token string) *Conn {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	c := New(Options{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Header:     header,
		AckTimeout: 200 * time.Millisecond,
		NewBackOff: fastBackOff,
	})
	go c.Run(context.Background())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextEvent(t *testing.T, c *Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestEmitPreservesOrder(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	c := startConn(t, srv, "secret")
	require.Equal(t, EventConnect, nextEvent(t, c).Kind)

	for _, ch := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.Emit(protocol.SendChanges{Op: richtext.New().Insert(ch, nil)}))
	}

	require.Eventually(t, func() bool { return len(svc.received()) == 4 }, time.Second, 10*time.Millisecond)
	var got []string
	for _, m := range svc.received() {
		got = append(got, m.(protocol.SendChanges).Op.Text())
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestInboundMessagesAreDelivered(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	c := startConn(t, srv, "secret")
	require.Equal(t, EventConnect, nextEvent(t, c).Kind)
	require.NoError(t, c.Emit(protocol.GetDocument{DocumentID: "doc1"}))

	ev := nextEvent(t, c)
	require.Equal(t, EventMessage, ev.Kind)
	load, ok := ev.Message.(protocol.LoadDocument)
	require.True(t, ok)
	assert.Equal(t, "doc1", load.Snapshot.Text())
}

func TestEmitWithAck(t *testing.T) {
	svc := &fakeService{ackStatus: protocol.AckStatusOK}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	c := startConn(t, srv, "secret")
	require.Equal(t, EventConnect, nextEvent(t, c).Kind)

	result := make(chan bool, 1)
	err := c.EmitWithAck(protocol.SaveDocument{Snapshot: richtext.FromText("x")}, func(ack protocol.Ack, ok bool) {
		result <- ok && ack.OK()
	})
	require.NoError(t, err)

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("ack callback did not run")
	}
}

func TestEmitWithAckTimesOut(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	c := startConn(t, srv, "secret")
	require.Equal(t, EventConnect, nextEvent(t, c).Kind)

	result := make(chan bool, 1)
	require.NoError(t, c.EmitWithAck(protocol.SaveDocument{Snapshot: richtext.New()}, func(_ protocol.Ack, ok bool) {
		result <- ok
	}))

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("ack timeout did not fire")
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/unused"})

	assert.ErrorIs(t, c.Emit(protocol.CursorMove{}), ErrNotConnected)

	called := false
	err := c.EmitWithAck(protocol.SaveDocument{Snapshot: richtext.New()}, func(_ protocol.Ack, ok bool) {
		called = true
		assert.False(t, ok)
	})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, called)
}

func TestReconnectsAfterDrop(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	c := startConn(t, srv, "secret")
	require.Equal(t, EventConnect, nextEvent(t, c).Kind)

	svc.dropAll()
	assert.Equal(t, EventDisconnect, nextEvent(t, c).Kind)
	assert.Equal(t, EventReconnecting, nextEvent(t, c).Kind)
	assert.Equal(t, EventConnect, nextEvent(t, c).Kind)
}

func TestUnauthorizedHandshakeStopsRetrying(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	c := startConn(t, srv, "wrong")
	ev := nextEvent(t, c)
	assert.Equal(t, EventConnectError, ev.Kind)
	assert.Equal(t, http.StatusUnauthorized, ev.Status)

	select {
	case _, ok := <-c.Events():
		assert.False(t, ok, "expected events to close after auth rejection")
	case <-time.After(2 * time.Second):
		t.Fatal("transport kept running after auth rejection")
	}
}
