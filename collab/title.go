package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/metadata"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/sched"
)

const DefaultTitle = "Untitled Document"

// TitleStore is the request/response side of title persistence.
type TitleStore interface {
	FetchDocument(ctx context.Context, documentID string) (metadata.Document, error)
	UpdateTitle(ctx context.Context, documentID, title string) error
}

// Runner executes blocking work off the session goroutine and delivers the
// result back onto it.
type Runner func(work func(ctx context.Context) error, then func(err error))

// TitleSync debounces local title edits, persists them, and only then tells
// the other collaborators.
type TitleSync struct {
	cfg      Config
	ch       Channel
	sched    sched.Scheduler
	store    TitleStore
	run      Runner
	observer Observer

	title   string
	edited  bool
	pending sched.Cancel
	saving  bool
}

func newTitleSync(cfg Config, ch Channel, s sched.Scheduler, store TitleStore, run Runner, observer Observer) *TitleSync {
	return &TitleSync{
		cfg:      cfg,
		ch:       ch,
		sched:    s,
		store:    store,
		run:      run,
		observer: observer,
		title:    DefaultTitle,
	}
}

func (t *TitleSync) Title() string { return t.title }

// Saving reports whether a persist call is in flight.
func (t *TitleSync) Saving() bool { return t.saving }

// FetchInitial loads the stored title unless the user already typed one.
func (t *TitleSync) FetchInitial() {
	var doc metadata.Document
	t.run(func(ctx context.Context) error {
		var err error
		doc, err = t.store.FetchDocument(ctx, t.cfg.DocumentID)
		return err
	}, func(err error) {
		if err != nil {
			log.Error().Err(err).Str("document", t.cfg.DocumentID).Msg("could not fetch document title")
			return
		}
		if t.edited {
			return
		}
		title := doc.Title
		if strings.TrimSpace(title) == "" {
			title = DefaultTitle
		}
		t.title = title
		t.observer.TitleChanged(title)
	})
}

// SetLocal records a title typed by the user and restarts the debounce.
func (t *TitleSync) SetLocal(title string) {
	t.title = title
	t.edited = true
	t.cancelPending()
	t.pending = t.sched.AfterFunc(t.cfg.TitleDebounce, t.persist)
}

// HandleRemote applies a title broadcast by another collaborator. It wins
// over any local edit still waiting for its debounce.
func (t *TitleSync) HandleRemote(msg protocol.TitleUpdate) {
	t.cancelPending()
	t.title = msg.Title
	t.observer.TitleChanged(msg.Title)
}

func (t *TitleSync) persist() {
	t.pending = nil
	title := t.title
	// The placeholder is what an unnamed document already shows.
	if trimmed := strings.TrimSpace(title); trimmed == "" || trimmed == DefaultTitle {
		return
	}

	t.saving = true
	t.run(func(ctx context.Context) error {
		return t.store.UpdateTitle(ctx, t.cfg.DocumentID, title)
	}, func(err error) {
		t.saving = false
		if err != nil {
			log.Error().Err(err).Str("document", t.cfg.DocumentID).Msg("could not save title")
			t.observer.Notify(fmt.Errorf("%w: %v", ErrTitlePersist, err))
			return
		}
		if err := t.ch.Emit(protocol.TitleChange{Title: title}); err != nil {
			log.Debug().Err(err).Msg("title-change dropped by transport")
		}
	})
}

func (t *TitleSync) cancelPending() {
	if t.pending != nil {
		t.pending()
		t.pending = nil
	}
}

func (t *TitleSync) Close() {
	t.cancelPending()
}
