package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
)

/////////////////////////////
/// Auth Handlers
/////////////////////////////

func (s *Server) handleAuth(c *gin.Context) {
	var r AuthRequest
	err := c.BindJSON(&r)
	if err != nil {
		log.Error().Err(err).Msg("could not parse request")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	user, err := s.store.User(ctx, r.Username)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.Error().Err(err).Msg("failed to find user")
		}
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if user.Password != r.Password {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	token, err := s.store.IssueToken(ctx, user, s.opts.TokenTTL)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue token")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
	})
}

/////////////////////////////
/// Document Handlers
/////////////////////////////

func (s *Server) handleGetDocuments(c *gin.Context) {
	if !identityOf(c).isUser() {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	documents, err := s.store.Documents(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list documents")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if documents == nil {
		documents = []database.Document{}
	}

	c.JSON(http.StatusOK, documents)
}

func (s *Server) handleCreateDocument(c *gin.Context) {
	id := identityOf(c)
	if !id.isUser() {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	var r CreateDocRequest
	err := c.BindJSON(&r)
	if err != nil {
		log.Error().Err(err).Msg("bad request")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if r.Author == "" {
		r.Author = id.username
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	doc, err := s.store.CreateDocument(ctx, r.Title, r.Author)
	if err != nil {
		log.Error().Err(err).Msg("error creating document")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleGetDocument(c *gin.Context) {
	docID := c.Param("id")
	if _, ok := identityOf(c).permission(docID); !ok {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	doc, err := s.store.Document(ctx, docID)
	if err != nil {
		abortStoreError(c, err, "error getting document")
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleUpdateTitle(c *gin.Context) {
	docID := c.Param("id")
	if perm, ok := identityOf(c).permission(docID); !ok || perm != protocol.PermissionEditor {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	var r TitleRequest
	if err := c.BindJSON(&r); err != nil {
		log.Error().Err(err).Msg("bad request")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(r.Title) == "" {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	if err := s.store.SetTitle(ctx, docID, r.Title); err != nil {
		abortStoreError(c, err, "error updating title")
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleShare(c *gin.Context) {
	docID := c.Param("id")
	id := identityOf(c)
	if perm, ok := id.permission(docID); !id.isUser() || !ok || perm != protocol.PermissionEditor {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	var r ShareRequest
	if err := c.BindJSON(&r); err != nil {
		log.Error().Err(err).Msg("bad request")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	switch r.Permission {
	case protocol.PermissionEditor, protocol.PermissionViewer:
	default:
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	if _, err := s.store.Document(ctx, docID); err != nil {
		abortStoreError(c, err, "error getting document")
		return
	}
	share, err := s.store.CreateShare(ctx, docID, r.Permission, s.opts.ShareTTL)
	if err != nil {
		log.Error().Err(err).Msg("error creating share")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, ShareResponse{
		ShareURL:   s.shareURL(c, docID, share.Token),
		Token:      share.Token,
		Permission: share.Permission,
	})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	docID := c.Param("id")
	if perm, ok := identityOf(c).permission(docID); !identityOf(c).isUser() || !ok || perm != protocol.PermissionEditor {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		abortStoreError(c, err, "error deleting document")
		return
	}

	c.Status(http.StatusOK)
}

func (s *Server) shareURL(c *gin.Context, docID, token string) string {
	base := s.opts.PublicURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	return fmt.Sprintf("%s/documents/%s?share=%s", strings.TrimRight(base, "/"), url.PathEscape(docID), url.QueryEscape(token))
}

func abortStoreError(c *gin.Context, err error, msg string) {
	if errors.Is(err, database.ErrNotFound) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	log.Error().Err(err).Msg(msg)
	c.AbortWithStatus(http.StatusInternalServerError)
}
