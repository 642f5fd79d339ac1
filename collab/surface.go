package collab

import (
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/richtext"
)

// Surface is the editing surface. The engine drives it; the surface reports
// user edits back through Session.LocalEdit and must never report changes it
// received through SetContents or UpdateContents, or they would echo.
type Surface interface {
	SetContents(doc richtext.Delta)
	UpdateContents(change richtext.Delta)
	SetEditable(editable bool)
	ShowOffline(offline bool)
}

// Observer receives everything the UI shows besides the document itself.
// Calls arrive on the session goroutine.
type Observer interface {
	ConnectionChanged(state ConnState)
	StatusChanged(status SyncStatus)
	RosterChanged(users []protocol.ActiveUser)
	TitleChanged(title string)
	CursorMoved(cursor protocol.CursorUpdate)
	Notify(err error)
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) ConnectionChanged(ConnState) {}
func (NopObserver) StatusChanged(SyncStatus) {}
func (NopObserver) RosterChanged([]protocol.ActiveUser) {}
func (NopObserver) TitleChanged(string) {}
func (NopObserver) CursorMoved(protocol.CursorUpdate) {}
func (NopObserver) Notify(error) {}

type nopSurface struct{}

func (nopSurface) SetContents(richtext.Delta) {}
func (nopSurface) UpdateContents(richtext.Delta) {}
func (nopSurface) SetEditable(bool) {}
func (nopSurface) ShowOffline(bool) {}
