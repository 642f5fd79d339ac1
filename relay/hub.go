package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
)

// relayed is what travels on a room's pub/sub channel. From names the client
// that must not get its own message back; it is empty for messages every
// client receives.
type relayed struct {
	From  string          `json:"from,omitempty"`
	Frame json.RawMessage `json:"frame"`
}

type room struct {
	id      string
	ps      *redis.PubSub
	clients map[*client]struct{}
}

// hub holds the rooms that have at least one client on this process.
type hub struct {
	store *database.Store

	mu    sync.Mutex
	rooms map[string]*room
}

func newHub(store *database.Store) *hub {
	return &hub{store: store, rooms: make(map[string]*room)}
}

func (h *hub) join(ctx context.Context, c *client, documentID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[documentID]
	if !ok {
		ps, err := h.store.Subscribe(ctx, documentID)
		if err != nil {
			return err
		}
		r = &room{id: documentID, ps: ps, clients: make(map[*client]struct{})}
		h.rooms[documentID] = r
		go h.pump(r)
		log.Debug().Str("document", documentID).Msg("room opened")
	}
	r.clients[c] = struct{}{}
	return nil
}

func (h *hub) leave(c *client, documentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[documentID]
	if !ok {
		return
	}
	delete(r.clients, c)
	if len(r.clients) == 0 {
		delete(h.rooms, documentID)
		_ = r.ps.Close()
		log.Debug().Str("document", documentID).Msg("room closed")
	}
}

func (h *hub) pump(r *room) {
	for msg := range r.ps.Channel() {
		var rel relayed
		if err := json.Unmarshal([]byte(msg.Payload), &rel); err != nil {
			log.Error().Err(err).Str("document", r.id).Msg("dropping malformed room message")
			continue
		}

		h.mu.Lock()
		targets := make([]*client, 0, len(r.clients))
		for c := range r.clients {
			if c.id != rel.From {
				targets = append(targets, c)
			}
		}
		h.mu.Unlock()

		for _, c := range targets {
			c.deliver(rel.Frame)
		}
	}
}

// broadcast sends msg to every client in the room except the one named by
// from.
func (h *hub) broadcast(ctx context.Context, documentID, from string, msg protocol.Message) error {
	frame, err := protocol.Encode(msg, 0)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(relayed{From: from, Frame: frame})
	if err != nil {
		return err
	}
	return h.store.Publish(ctx, documentID, payload)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, r := range h.rooms {
		_ = r.ps.Close()
		delete(h.rooms, id)
	}
}
