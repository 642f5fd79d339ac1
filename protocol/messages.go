// Package protocol defines the closed set of messages exchanged over a
// document channel and their JSON envelope.
package protocol

import "github.com/ssau-fiit/cloudocs-sync/richtext"

// Client to server.
const (
	EventGetDocument  = "get-document"
	EventSaveDocument = "save-document"
	EventSendChanges  = "send-changes"
	EventCursorMove   = "cursor-move"
	EventTitleChange  = "title-change"
)

// Server to client.
const (
	EventLoadDocument   = "load-document"
	EventReceiveChanges = "receive-changes"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventTitleUpdate    = "title-update"
	EventCursorUpdate   = "cursor-update"
	EventError          = "error"
	EventAck            = "ack"
)

const (
	PermissionEditor = "editor"
	PermissionViewer = "viewer"
)

const AckStatusOK = "ok"

// Error codes carried by EventError.
const (
	CodeAuthInvalid  = "AUTH_INVALID"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeBadRequest   = "BAD_REQUEST"
	CodeInternal     = "INTERNAL"
)

// Message is implemented only by the types in this package.
type Message interface {
	Event() string
	validate() error
}

type CursorRange struct {
	Index  int `json:"index" mapstructure:"index"`
	Length int `json:"length" mapstructure:"length"`
}

type ActiveUser struct {
	ID     string       `json:"userId" mapstructure:"userId"`
	Name   string       `json:"username" mapstructure:"username"`
	Color  string       `json:"color,omitempty" mapstructure:"color"`
	Cursor *CursorRange `json:"cursor,omitempty" mapstructure:"cursor"`
}

type GetDocument struct {
	DocumentID string `json:"documentId" mapstructure:"documentId"`
	Token      string `json:"token,omitempty" mapstructure:"token"`
	ShareToken string `json:"shareToken,omitempty" mapstructure:"shareToken"`
}

type SaveDocument struct {
	Snapshot richtext.Delta `json:"snapshot" mapstructure:"snapshot"`
}

type SendChanges struct {
	Op richtext.Delta `json:"op" mapstructure:"op"`
}

type CursorMove struct {
	Index  int `json:"index" mapstructure:"index"`
	Length int `json:"length" mapstructure:"length"`
}

type TitleChange struct {
	Title string `json:"title" mapstructure:"title"`
}

type LoadDocument struct {
	Snapshot   richtext.Delta `json:"snapshot" mapstructure:"snapshot"`
	Title      string         `json:"title,omitempty" mapstructure:"title"`
	Permission string         `json:"permission,omitempty" mapstructure:"permission"`
}

type ReceiveChanges struct {
	Op     richtext.Delta `json:"op" mapstructure:"op"`
	UserID string         `json:"userId,omitempty" mapstructure:"userId"`
}

type UserJoined struct {
	User        ActiveUser   `json:"user" mapstructure:"user"`
	ActiveUsers []ActiveUser `json:"activeUsers" mapstructure:"activeUsers"`
}

type UserLeft struct {
	Username    string       `json:"username" mapstructure:"username"`
	ActiveUsers []ActiveUser `json:"activeUsers" mapstructure:"activeUsers"`
}

type TitleUpdate struct {
	Title string `json:"title" mapstructure:"title"`
}

type CursorUpdate struct {
	UserID string `json:"userId" mapstructure:"userId"`
	Name   string `json:"username,omitempty" mapstructure:"username"`
	Index  int    `json:"index" mapstructure:"index"`
	Length int    `json:"length" mapstructure:"length"`
}

type Error struct {
	Code    string `json:"code,omitempty" mapstructure:"code"`
	Message string `json:"message" mapstructure:"message"`
}

type Ack struct {
	Status string `json:"status" mapstructure:"status"`
	Error  string `json:"error,omitempty" mapstructure:"error"`
}

func (a Ack) OK() bool { return a.Status == AckStatusOK }

func (GetDocument) Event() string { return EventGetDocument }
func (SaveDocument) Event() string { return EventSaveDocument }
func (SendChanges) Event() string { return EventSendChanges }
func (CursorMove) Event() string { return EventCursorMove }
func (TitleChange) Event() string { return EventTitleChange }
func (LoadDocument) Event() string { return EventLoadDocument }
func (ReceiveChanges) Event() string { return EventReceiveChanges }
func (UserJoined) Event() string { return EventUserJoined }
func (UserLeft) Event() string { return EventUserLeft }
func (TitleUpdate) Event() string { return EventTitleUpdate }
func (CursorUpdate) Event() string { return EventCursorUpdate }
func (Error) Event() string { return EventError }
func (Ack) Event() string { return EventAck }
