// Package metadata talks to the document metadata endpoints: the title and
// share links. These are plain request/response calls, not part of the
// real-time channel.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const ShareTokenHeader = "X-Share-Token"

var ErrUnauthorized = errors.New("metadata: unauthorized")

type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("metadata: unexpected status %d: %s", e.Status, e.Body)
}

type Document struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
}

type ShareLink struct {
	URL        string `json:"shareUrl"`
	Token      string `json:"token"`
	Permission string `json:"permission"`
}

// Session is what the service returns for a successful login.
type Session struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type Client struct {
	baseURL    string
	token      string
	shareToken string
	http       *http.Client
}

func New(baseURL, token, shareToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		shareToken: shareToken,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient replaces the underlying client, mostly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Login exchanges a username and password for a bearer token. It needs no
// credential on the client.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	var s Session
	body := map[string]string{"username": username, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth", body, &s)
	return s, err
}

func (c *Client) CreateDocument(ctx context.Context, title string) (Document, error) {
	var doc Document
	err := c.do(ctx, http.MethodPost, "/api/v1/documents", map[string]string{"title": title}, &doc)
	return doc, err
}

func (c *Client) FetchDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := c.do(ctx, http.MethodGet, "/api/v1/documents/"+url.PathEscape(documentID), nil, &doc)
	return doc, err
}

func (c *Client) UpdateTitle(ctx context.Context, documentID, title string) error {
	body := map[string]string{"title": title}
	return c.do(ctx, http.MethodPatch, "/api/v1/documents/"+url.PathEscape(documentID)+"/title", body, nil)
}

func (c *Client) CreateShareLink(ctx context.Context, documentID, permission string) (ShareLink, error) {
	var link ShareLink
	body := map[string]string{"permission": permission}
	err := c.do(ctx, http.MethodPost, "/api/v1/documents/"+url.PathEscape(documentID)+"/share", body, &link)
	return link, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.shareToken != "" {
		req.Header.Set(ShareTokenHeader, c.shareToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
