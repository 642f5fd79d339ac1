package collab

import (
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/protocol"
)

// PresenceTracker keeps the roster of collaborators on the document. The
// server decides who is stale; the roster is only ever replaced by its
// broadcasts.
type PresenceTracker struct {
	ch       Channel
	observer Observer
	conn     *ConnectionManager
	roster   []protocol.ActiveUser
}

func newPresenceTracker(ch Channel, observer Observer, conn *ConnectionManager) *PresenceTracker {
	return &PresenceTracker{ch: ch, observer: observer, conn: conn}
}

// Roster returns a copy of the current roster.
func (p *PresenceTracker) Roster() []protocol.ActiveUser {
	return append([]protocol.ActiveUser(nil), p.roster...)
}

func (p *PresenceTracker) HandleJoined(msg protocol.UserJoined) {
	log.Debug().Str("user", msg.User.Name).Msg("user joined")
	p.replace(msg.ActiveUsers)
}

func (p *PresenceTracker) HandleLeft(msg protocol.UserLeft) {
	log.Debug().Str("user", msg.Username).Msg("user left")
	p.replace(msg.ActiveUsers)
}

// HandleCursor records another collaborator's cursor. Drawing it is up to the
// observer.
func (p *PresenceTracker) HandleCursor(msg protocol.CursorUpdate) {
	for i := range p.roster {
		if p.roster[i].ID == msg.UserID {
			p.roster[i].Cursor = &protocol.CursorRange{Index: msg.Index, Length: msg.Length}
			break
		}
	}
	p.observer.CursorMoved(msg)
}

// SelectionChanged broadcasts the local cursor. A nil range means the
// surface lost focus and nothing is sent.
func (p *PresenceTracker) SelectionChanged(r *protocol.CursorRange) {
	if r == nil || p.conn.State() != Connected {
		return
	}
	if err := p.ch.Emit(protocol.CursorMove{Index: r.Index, Length: r.Length}); err != nil {
		log.Debug().Err(err).Msg("cursor-move dropped by transport")
	}
}

func (p *PresenceTracker) replace(users []protocol.ActiveUser) {
	p.roster = DedupRoster(users)
	p.observer.RosterChanged(p.Roster())
}

// DedupRoster collapses entries that share a user ID. The last entry's
// metadata wins; the position of the first is kept.
func DedupRoster(users []protocol.ActiveUser) []protocol.ActiveUser {
	index := make(map[string]int, len(users))
	out := make([]protocol.ActiveUser, 0, len(users))
	for _, u := range users {
		if i, ok := index[u.ID]; ok {
			out[i] = u
			continue
		}
		index[u.ID] = len(out)
		out = append(out, u)
	}
	return out
}
