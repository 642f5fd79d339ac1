package collab

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/transport"
)

// ConnectionManager turns transport lifecycle events into the three-state
// connectivity signal. Reconnecting is the transport's job; this only reacts.
type ConnectionManager struct {
	state     ConnState
	surface   Surface
	observer  Observer
	changed   signal[ConnState]
	terminate func(error)
}

func newConnectionManager(surface Surface, observer Observer, terminate func(error)) *ConnectionManager {
	return &ConnectionManager{
		state:     Disconnected,
		surface:   surface,
		observer:  observer,
		terminate: terminate,
	}
}

func (m *ConnectionManager) State() ConnState { return m.state }

// OnChange registers fn for every state transition.
func (m *ConnectionManager) OnChange(fn func(ConnState)) (unsubscribe func()) {
	return m.changed.Subscribe(fn)
}

func (m *ConnectionManager) connecting() {
	m.set(Connecting)
}

// HandleLifecycle processes connect, disconnect, connect_error and the
// transport's redial notice.
func (m *ConnectionManager) HandleLifecycle(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnect:
		m.surface.ShowOffline(false)
		m.set(Connected)
	case transport.EventDisconnect:
		m.goOffline()
		m.observer.Notify(fmt.Errorf("%w: %v", ErrTransportDisconnected, ev.Err))
	case transport.EventConnectError:
		if ev.Status == http.StatusUnauthorized || ev.Status == http.StatusForbidden {
			m.goOffline()
			m.terminate(fmt.Errorf("%w: handshake returned %d", ErrAuthInvalid, ev.Status))
			return
		}
		m.goOffline()
	case transport.EventReconnecting:
		m.set(Connecting)
	}
}

// HandleServerError surfaces an error event. Only authentication failures
// tear the session down; the channel stays open otherwise.
func (m *ConnectionManager) HandleServerError(e protocol.Error) {
	rejection := &RejectionError{Code: e.Code, Message: e.Message}
	switch e.Code {
	case protocol.CodeAuthInvalid, protocol.CodeUnauthorized:
		log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("sync service rejected credential")
		m.terminate(fmt.Errorf("%w: %w", ErrAuthInvalid, rejection))
	default:
		log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("sync service rejected request")
		m.observer.Notify(rejection)
	}
}

func (m *ConnectionManager) goOffline() {
	m.surface.SetEditable(false)
	m.surface.ShowOffline(true)
	m.set(Disconnected)
}

func (m *ConnectionManager) set(s ConnState) {
	if m.state == s {
		return
	}
	log.Debug().Stringer("from", m.state).Stringer("to", s).Msg("connection state")
	m.state = s
	m.observer.ConnectionChanged(s)
	m.changed.emit(s)
}
