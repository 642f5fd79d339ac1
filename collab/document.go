package collab

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/richtext"
	"github.com/ssau-fiit/cloudocs-sync/sched"
)

// Channel is what the engine needs from the transport. Sends made while the
// transport is down fail or vanish there; the engine does not queue them.
type Channel interface {
	Emit(msg protocol.Message) error
	EmitWithAck(msg protocol.Message, fn func(ack protocol.Ack, ok bool)) error
}

type loadRequest struct {
	attempt int
	cancel  sched.Cancel
	// rejoin keeps the working copy and pushes it once the answer arrives.
	rejoin bool
}

// DocumentSync owns the local working copy of the document.
type DocumentSync struct {
	cfg      Config
	ch       Channel
	sched    sched.Scheduler
	surface  Surface
	observer Observer
	conn     *ConnectionManager
	offline  *OfflineReconciler

	content  richtext.Delta
	loaded   bool
	readOnly bool
	failed   bool

	pending *loadRequest

	status       SyncStatus
	saveSeq      uint64
	stopAutosave sched.Cancel
	loadedSignal signal[richtext.Delta]
}

func newDocumentSync(cfg Config, ch Channel, s sched.Scheduler, surface Surface, observer Observer, conn *ConnectionManager) *DocumentSync {
	return &DocumentSync{
		cfg:      cfg,
		ch:       ch,
		sched:    s,
		surface:  surface,
		observer: observer,
		conn:     conn,
		content:  richtext.New(),
		status:   StatusSaved,
	}
}

func (d *DocumentSync) Loaded() bool { return d.loaded }
func (d *DocumentSync) ReadOnly() bool { return d.readOnly }
func (d *DocumentSync) Status() SyncStatus { return d.status }
func (d *DocumentSync) Content() richtext.Delta { return d.content }

// LoadFailed reports that every load attempt timed out.
func (d *DocumentSync) LoadFailed() bool { return d.failed }

// OnLoad registers fn for every accepted load-document.
func (d *DocumentSync) OnLoad(fn func(richtext.Delta)) (unsubscribe func()) {
	return d.loadedSignal.Subscribe(fn)
}

// RequestLoad asks for the document and arms a single-shot handler for the
// answer. A request already in flight is retired first, so at most one is
// outstanding.
func (d *DocumentSync) RequestLoad() {
	d.failed = false
	d.issueLoad(1, false)
}

// Rejoin binds a new connection to the document without giving up local
// edits. The server's answer is discarded and the working copy is pushed over
// it.
func (d *DocumentSync) Rejoin() {
	d.failed = false
	d.issueLoad(1, true)
}

func (d *DocumentSync) rejoining() bool {
	return d.pending != nil && d.pending.rejoin
}

func (d *DocumentSync) issueLoad(attempt int, rejoin bool) {
	d.retireLoad()

	req := &loadRequest{attempt: attempt, rejoin: rejoin}
	d.pending = req
	req.cancel = d.sched.AfterFunc(d.cfg.LoadTimeout, func() { d.loadTimedOut(req) })

	msg := protocol.GetDocument{
		DocumentID: d.cfg.DocumentID,
		Token:      d.cfg.Token,
		ShareToken: d.cfg.ShareToken,
	}
	if err := d.ch.Emit(msg); err != nil {
		log.Debug().Err(err).Str("document", d.cfg.DocumentID).Msg("get-document not sent")
	}
}

func (d *DocumentSync) retireLoad() {
	if d.pending == nil {
		return
	}
	d.pending.cancel()
	d.pending = nil
}

func (d *DocumentSync) loadTimedOut(req *loadRequest) {
	if d.pending != req {
		return
	}
	d.pending = nil
	if req.attempt < d.cfg.LoadRetries {
		log.Warn().Int("attempt", req.attempt).Str("document", d.cfg.DocumentID).Msg("load-document timed out, retrying")
		d.issueLoad(req.attempt+1, req.rejoin)
		return
	}
	d.failed = true
	log.Error().Int("attempts", req.attempt).Str("document", d.cfg.DocumentID).Msg("document failed to load")
	d.observer.Notify(fmt.Errorf("%w: no answer after %d attempts", ErrLoadFailure, req.attempt))
}

// HandleLoad consumes the answer to the outstanding request. Anything else is
// ignored.
func (d *DocumentSync) HandleLoad(msg protocol.LoadDocument) {
	if d.pending == nil {
		log.Debug().Str("document", d.cfg.DocumentID).Msg("ignoring unsolicited load-document")
		return
	}
	req := d.pending
	d.retireLoad()

	if req.rejoin && msg.Permission != protocol.PermissionViewer {
		d.readOnly = false
		d.offline.reconciled()
		log.Info().Str("document", d.cfg.DocumentID).Msg("pushing local snapshot after reconnect")
		d.PushSnapshot()
		d.startAutosave()
		return
	}
	if req.rejoin {
		log.Warn().Str("document", d.cfg.DocumentID).Msg("access is now read-only, discarding local edits")
		d.offline.reconciled()
	}

	d.content = msg.Snapshot
	d.loaded = true
	d.failed = false
	d.readOnly = msg.Permission == protocol.PermissionViewer
	d.surface.SetContents(msg.Snapshot)
	d.surface.SetEditable(!d.readOnly)
	d.setStatus(StatusSaved)
	if d.readOnly {
		d.stopAutosaveTimer()
	} else {
		d.startAutosave()
	}
	d.loadedSignal.emit(msg.Snapshot)
}

// ApplyRemote applies a change made by someone else. It is never sent back.
func (d *DocumentSync) ApplyRemote(op richtext.Delta) {
	if !d.loaded {
		log.Debug().Str("document", d.cfg.DocumentID).Msg("dropping remote change received before load")
		return
	}
	if d.rejoining() {
		log.Debug().Str("document", d.cfg.DocumentID).Msg("dropping remote change, local snapshot will replace it")
		return
	}
	if err := d.checkBounds(op); err != nil {
		log.Warn().Err(err).Str("document", d.cfg.DocumentID).Msg("remote change does not fit, reloading")
		d.RequestLoad()
		return
	}
	d.content = d.content.Compose(op)
	d.surface.UpdateContents(op)
}

// EmitLocal records a user edit and sends it right away. Edits made while the
// channel is down are kept locally and flagged for reconciliation.
func (d *DocumentSync) EmitLocal(op richtext.Delta) error {
	if !d.loaded {
		return ErrNotLoaded
	}
	if d.readOnly {
		return ErrReadOnly
	}
	if err := op.Validate(); err != nil {
		return fmt.Errorf("invalid change: %w", err)
	}
	if err := d.checkBounds(op); err != nil {
		return err
	}
	d.content = d.content.Compose(op)

	// Until the rejoin is answered the server has not bound this connection to
	// the document; the edit travels with the snapshot push instead.
	if d.conn.State() != Connected || d.rejoining() {
		d.offline.MarkDirty()
		return nil
	}
	if err := d.ch.Emit(protocol.SendChanges{Op: op}); err != nil {
		log.Debug().Err(err).Msg("send-changes dropped by transport")
		d.offline.MarkDirty()
	}
	return nil
}

// checkBounds rejects a change whose retains and deletes reach past the end
// of the working copy.
func (d *DocumentSync) checkBounds(op richtext.Delta) error {
	if base, length := op.BaseLength(), d.content.Length(); base > length {
		return fmt.Errorf("%w: change spans %d positions, document has %d", ErrOutOfRange, base, length)
	}
	return nil
}

// PushSnapshot sends the whole working copy as the authoritative version.
func (d *DocumentSync) PushSnapshot() {
	d.save(func(ok bool) {
		if !ok {
			d.offline.MarkDirty()
		}
	})
	if !d.readOnly {
		d.surface.SetEditable(true)
	}
}

// Autosave saves the full working copy. The outcome sets the status; the next
// tick is the retry.
func (d *DocumentSync) Autosave() {
	d.save(nil)
}

func (d *DocumentSync) save(then func(ok bool)) {
	d.saveSeq++
	seq := d.saveSeq
	d.setStatus(StatusSaving)

	err := d.ch.EmitWithAck(protocol.SaveDocument{Snapshot: d.content}, func(ack protocol.Ack, ok bool) {
		ok = ok && ack.OK()
		if then != nil {
			then(ok)
		}
		if seq != d.saveSeq {
			return
		}
		if ok {
			d.setStatus(StatusSaved)
			return
		}
		log.Warn().Str("error", ack.Error).Str("document", d.cfg.DocumentID).Msg("save failed")
		d.setStatus(StatusError)
	})
	if err != nil {
		log.Debug().Err(err).Msg("save-document not sent")
	}
}

func (d *DocumentSync) startAutosave() {
	if d.stopAutosave != nil {
		return
	}
	d.stopAutosave = d.sched.Every(d.cfg.AutosaveInterval, d.Autosave)
}

func (d *DocumentSync) stopAutosaveTimer() {
	if d.stopAutosave != nil {
		d.stopAutosave()
		d.stopAutosave = nil
	}
}

// Close stops the autosave timer and retires any pending load.
func (d *DocumentSync) Close() {
	d.retireLoad()
	d.stopAutosaveTimer()
}

// OnDisconnected retires the load request of the lost connection; its answer
// can no longer arrive.
func (d *DocumentSync) OnDisconnected() {
	d.retireLoad()
}

func (d *DocumentSync) setStatus(s SyncStatus) {
	if d.status == s {
		return
	}
	d.status = s
	d.observer.StatusChanged(s)
}
