package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssau-fiit/cloudocs-sync/collab"
	"github.com/ssau-fiit/cloudocs-sync/metadata"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/richtext"
)

type fakeEditor struct {
	doc       richtext.Delta
	title     string
	selection *protocol.CursorRange
	state     collab.State
	shared    string
	appends   int
}

func (e *fakeEditor) LocalEdit(op richtext.Delta) error {
	e.doc = e.doc.Compose(op)
	return nil
}

func (e *fakeEditor) AppendText(text string) error {
	e.appends++
	return e.LocalEdit(richtext.New().Retain(e.doc.Length(), nil).Insert(text, nil))
}

func (e *fakeEditor) SetTitle(title string) error {
	e.title = title
	return nil
}

func (e *fakeEditor) SelectionChanged(r *protocol.CursorRange) error {
	e.selection = r
	return nil
}

func (e *fakeEditor) Snapshot() (richtext.Delta, error) { return e.doc, nil }
func (e *fakeEditor) State() (collab.State, error) { return e.state, nil }

func (e *fakeEditor) ShareLink(_ context.Context, permission string) (metadata.ShareLink, error) {
	e.shared = permission
	return metadata.ShareLink{URL: "http://docs/documents/1?share=t", Permission: permission}, nil
}

func TestConsoleEditing(t *testing.T) {
	ed := &fakeEditor{doc: richtext.New()}
	var out bytes.Buffer
	c := newConsole(ed, &out)
	ctx := context.Background()

	require.NoError(t, c.exec(ctx, "first"))
	require.NoError(t, c.exec(ctx, "second"))
	assert.Equal(t, "first\nsecond\n", ed.doc.Text())
	assert.Equal(t, 2, ed.appends)

	require.NoError(t, c.exec(ctx, ":delete 0 6"))
	assert.Equal(t, "second\n", ed.doc.Text())

	require.NoError(t, c.exec(ctx, ":title  Meeting notes "))
	assert.Equal(t, "Meeting notes", ed.title)

	require.NoError(t, c.exec(ctx, ":cursor 3 2"))
	assert.Equal(t, &protocol.CursorRange{Index: 3, Length: 2}, ed.selection)

	require.NoError(t, c.exec(ctx, ":show"))
	assert.Equal(t, "second\n", out.String())

	out.Reset()
	require.NoError(t, c.exec(ctx, ":share"))
	assert.Equal(t, protocol.PermissionViewer, ed.shared)
	assert.Contains(t, out.String(), "?share=t")
}

func TestConsoleState(t *testing.T) {
	ed := &fakeEditor{state: collab.State{
		Connection: collab.Connected,
		Status:     collab.StatusSaved,
		Title:      "Plan",
		Roster: []protocol.ActiveUser{
			{ID: "1", Name: "alice", Color: "#e6194b"},
			{ID: "2", Name: "bob", Color: "#3cb44b"},
		},
	}}
	var out bytes.Buffer
	c := newConsole(ed, &out)

	require.NoError(t, c.exec(context.Background(), ":who"))
	assert.Equal(t, "alice\t#e6194b\nbob\t#3cb44b\n", out.String())

	out.Reset()
	require.NoError(t, c.exec(context.Background(), ":status"))
	assert.Contains(t, out.String(), `"Plan"`)
}

func TestConsoleRejectsBadInput(t *testing.T) {
	c := newConsole(&fakeEditor{}, &bytes.Buffer{})
	ctx := context.Background()

	assert.ErrorIs(t, c.exec(ctx, ":quit"), errQuit)
	assert.ErrorContains(t, c.exec(ctx, ":bold"), "unknown command")
	assert.Error(t, c.exec(ctx, ":cursor"))
	assert.Error(t, c.exec(ctx, ":cursor x"))
	assert.Error(t, c.exec(ctx, ":delete 1 -2"))
	assert.Error(t, c.exec(ctx, ":delete 1 2 3"))
}

func TestConsoleRunStopsOnQuit(t *testing.T) {
	ed := &fakeEditor{doc: richtext.New()}
	var out bytes.Buffer
	in := strings.NewReader("hello\n:nope\n:quit\nignored\n")

	newConsole(ed, &out).run(context.Background(), in)
	assert.Equal(t, "hello\n", ed.doc.Text())
	assert.Contains(t, out.String(), "unknown command")
}

func TestTerminalReports(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out)

	term.SetContents(richtext.FromText("Hi\n"))
	term.UpdateContents(richtext.New().Retain(2, nil).Insert("!!", nil).Delete(1))
	term.SetEditable(false)
	term.ShowOffline(true)
	term.RosterChanged([]protocol.ActiveUser{{Name: "alice"}, {Name: "bob"}})
	term.TitleChanged("Plan")
	term.Notify(errors.New("save failed"))

	got := out.String()
	assert.Contains(t, got, "document loaded (3 characters)")
	assert.Contains(t, got, "remote edit: +2 -1")
	assert.Contains(t, got, "read-only")
	assert.Contains(t, got, "offline")
	assert.Contains(t, got, "editing: alice, bob")
	assert.Contains(t, got, "title: Plan")
	assert.Contains(t, got, "! save failed")
}
