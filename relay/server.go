// Package relay is a reference synchronization service. It serves the
// document metadata endpoints and fans channel messages out to every client
// editing the same document through Redis pub/sub, so several relay
// processes can share one Redis.
package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
)

const (
	ShareTokenHeader = "X-Share-Token"
	identityKey      = "identity"
	storeTimeout     = time.Second * 5
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Options struct {
	// PublicURL prefixes share links. The request host is used when empty.
	PublicURL string
	TokenTTL  time.Duration
	ShareTTL  time.Duration
}

type Server struct {
	store *database.Store
	hub   *hub
	opts  Options
}

func New(store *database.Store, opts Options) *Server {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	return &Server{
		store: store,
		hub:   newHub(store),
		opts:  opts,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	v1 := r.Group("/api/v1")
	v1.POST("/auth", s.handleAuth)

	authed := v1.Group("", s.authenticate)
	authed.GET("/documents", s.handleGetDocuments)
	authed.POST("/documents", s.handleCreateDocument)
	authed.GET("/documents/:id", s.handleGetDocument)
	authed.PATCH("/documents/:id/title", s.handleUpdateTitle)
	authed.POST("/documents/:id/share", s.handleShare)
	authed.DELETE("/documents/:id", s.handleDeleteDocument)
	authed.GET("/socket", s.handleSocket)

	return r
}

// Close drops every room subscription.
func (s *Server) Close() {
	s.hub.close()
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// identity is who is on the other end of a request. A share capability
// narrows it to one document.
type identity struct {
	userID   string
	username string
	share    *database.Share
}

func (id identity) isUser() bool { return id.userID != "" }

// permission reports the access the caller has to documentID.
func (id identity) permission(documentID string) (string, bool) {
	if id.share != nil {
		if id.share.DocumentID != documentID {
			return "", false
		}
		return id.share.Permission, true
	}
	if id.isUser() {
		return protocol.PermissionEditor, true
	}
	return "", false
}

func (s *Server) authenticate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	var id identity
	if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && token != "" {
		user, err := s.store.ResolveToken(ctx, token)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				log.Error().Err(err).Msg("failed to resolve token")
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		id.userID = user.ID
		id.username = user.Username
	}

	shareToken := c.GetHeader(ShareTokenHeader)
	if shareToken == "" {
		shareToken = c.Query("share")
	}
	if shareToken != "" {
		share, err := s.store.Share(ctx, shareToken)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				log.Error().Err(err).Msg("failed to resolve share token")
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		id.share = &share
	}

	if !id.isUser() && id.share == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.Set(identityKey, id)
	c.Next()
}

func identityOf(c *gin.Context) identity {
	return c.MustGet(identityKey).(identity)
}
