package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/common/util"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	sendBufferSize = 256
)

type client struct {
	id     string
	server *Server
	conn   *websocket.Conn
	ident  identity
	user   protocol.ActiveUser

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Owned by readPump.
	documentID string
	permission string
}

func (s *Server) handleSocket(c *gin.Context) {
	ident := identityOf(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("error upgrading connection")
		return
	}

	cl := &client{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		ident:  ident,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
	cl.user = protocol.ActiveUser{ID: ident.userID, Name: ident.username}
	if !ident.isUser() {
		cl.user = protocol.ActiveUser{ID: "guest-" + cl.id[:8], Name: "Guest"}
	}
	cl.user.Color = util.ColorFor(cl.user.ID)

	log.Info().Str("client", cl.id).Str("user", cl.user.Name).Msg("client connected")
	go cl.writePump()
	cl.readPump()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// deliver queues a frame. A client that cannot keep up is disconnected; it
// reconciles when it reconnects.
func (c *client) deliver(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		log.Warn().Str("client", c.id).Msg("send buffer full, dropping client")
		c.close()
	}
}

func (c *client) emit(msg protocol.Message, ack uint64) {
	frame, err := protocol.Encode(msg, ack)
	if err != nil {
		log.Error().Err(err).Str("event", msg.Event()).Msg("failed to encode message")
		return
	}
	c.deliver(frame)
}

func (c *client) fail(code, message string) {
	c.emit(protocol.Error{Code: code, Message: message}, 0)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) readPump() {
	defer c.leaveDocument()
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("client connection lost")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, ack, err := protocol.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Str("client", c.id).Msg("rejecting frame")
			c.fail(protocol.CodeBadRequest, err.Error())
			continue
		}
		c.handle(msg, ack)
	}
}

func (c *client) handle(msg protocol.Message, ack uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	switch m := msg.(type) {
	case protocol.GetDocument:
		c.handleGetDocument(ctx, m)
	case protocol.SendChanges:
		if !c.canWrite() {
			return
		}
		c.broadcast(ctx, protocol.ReceiveChanges{Op: m.Op, UserID: c.user.ID})
	case protocol.SaveDocument:
		c.handleSave(ctx, m, ack)
	case protocol.CursorMove:
		if c.documentID == "" {
			c.fail(protocol.CodeBadRequest, "no document requested")
			return
		}
		cursor := protocol.CursorRange{Index: m.Index, Length: m.Length}
		if err := c.server.store.MoveCursor(ctx, c.documentID, c.id, cursor); err != nil {
			log.Error().Err(err).Str("client", c.id).Msg("failed to store cursor")
		}
		c.broadcast(ctx, protocol.CursorUpdate{UserID: c.user.ID, Name: c.user.Name, Index: m.Index, Length: m.Length})
	case protocol.TitleChange:
		if !c.canWrite() {
			return
		}
		c.broadcast(ctx, protocol.TitleUpdate{Title: m.Title})
	default:
		c.fail(protocol.CodeBadRequest, "unexpected event "+msg.Event())
	}
}

func (c *client) handleGetDocument(ctx context.Context, m protocol.GetDocument) {
	perm, ok := c.ident.permission(m.DocumentID)
	if !ok {
		c.fail(protocol.CodeForbidden, "no access to document "+m.DocumentID)
		return
	}
	doc, err := c.server.store.Document(ctx, m.DocumentID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.fail(protocol.CodeNotFound, "document "+m.DocumentID+" not found")
			return
		}
		log.Error().Err(err).Msg("error getting document")
		c.fail(protocol.CodeInternal, "could not load document")
		return
	}
	snapshot, err := c.server.store.Snapshot(ctx, m.DocumentID)
	if err != nil {
		log.Error().Err(err).Msg("error getting document text")
		c.fail(protocol.CodeInternal, "could not load document")
		return
	}

	rejoin := c.documentID == m.DocumentID
	if c.documentID != "" && !rejoin {
		c.leaveDocument()
	}
	if !rejoin {
		if err := c.server.hub.join(ctx, c, m.DocumentID); err != nil {
			log.Error().Err(err).Msg("error joining room")
			c.fail(protocol.CodeInternal, "could not join document")
			return
		}
		c.documentID = m.DocumentID
		if err := c.server.store.Join(ctx, m.DocumentID, c.id, c.user); err != nil {
			log.Error().Err(err).Msg("error recording presence")
		}
	}
	c.permission = perm

	c.emit(protocol.LoadDocument{Snapshot: snapshot, Title: doc.Title, Permission: perm}, 0)
	if rejoin {
		return
	}

	roster, err := c.server.store.Roster(ctx, m.DocumentID)
	if err != nil {
		log.Error().Err(err).Msg("error reading roster")
		return
	}
	if err := c.server.hub.broadcast(ctx, m.DocumentID, "", protocol.UserJoined{User: c.user, ActiveUsers: roster}); err != nil {
		log.Error().Err(err).Msg("error announcing join")
	}
}

func (c *client) handleSave(ctx context.Context, m protocol.SaveDocument, ack uint64) {
	reply := func(a protocol.Ack) {
		if ack != 0 {
			c.emit(a, ack)
		}
	}
	if c.documentID == "" {
		reply(protocol.Ack{Status: "error", Error: "no document requested"})
		return
	}
	if c.permission != protocol.PermissionEditor {
		reply(protocol.Ack{Status: "error", Error: "document is read-only"})
		return
	}
	if err := c.server.store.SaveSnapshot(ctx, c.documentID, m.Snapshot); err != nil {
		log.Error().Err(err).Str("document", c.documentID).Msg("error saving document")
		reply(protocol.Ack{Status: "error", Error: "could not save document"})
		return
	}
	reply(protocol.Ack{Status: protocol.AckStatusOK})
}

func (c *client) canWrite() bool {
	if c.documentID == "" {
		c.fail(protocol.CodeBadRequest, "no document requested")
		return false
	}
	if c.permission != protocol.PermissionEditor {
		c.fail(protocol.CodeForbidden, "document is read-only")
		return false
	}
	return true
}

func (c *client) broadcast(ctx context.Context, msg protocol.Message) {
	if err := c.server.hub.broadcast(ctx, c.documentID, c.id, msg); err != nil {
		log.Error().Err(err).Str("event", msg.Event()).Msg("error broadcasting")
	}
}

func (c *client) leaveDocument() {
	if c.documentID == "" {
		return
	}
	documentID := c.documentID
	c.documentID = ""
	c.server.hub.leave(c, documentID)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.server.store.Leave(ctx, documentID, c.id); err != nil {
		log.Error().Err(err).Msg("error removing presence")
	}
	roster, err := c.server.store.Roster(ctx, documentID)
	if err != nil {
		log.Error().Err(err).Msg("error reading roster")
		return
	}
	if err := c.server.hub.broadcast(ctx, documentID, c.id, protocol.UserLeft{Username: c.user.Name, ActiveUsers: roster}); err != nil {
		log.Error().Err(err).Msg("error announcing leave")
	}
	log.Info().Str("client", c.id).Str("document", documentID).Msg("client left document")
}
