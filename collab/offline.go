package collab

import "github.com/rs/zerolog/log"

// OfflineReconciler remembers whether local edits were made while the channel
// was down and decides what to do on the next connect.
//
// Reconciliation pushes the full local snapshot. Edits other collaborators
// made during the outage are overwritten by it: last writer wins on
// reconnect. Replaying missed operations would need server-side history.
type OfflineReconciler struct {
	dirty bool
	doc   *DocumentSync
}

func newOfflineReconciler(doc *DocumentSync) *OfflineReconciler {
	return &OfflineReconciler{doc: doc}
}

func (r *OfflineReconciler) MarkDirty() {
	if !r.dirty {
		log.Debug().Msg("local edits pending reconciliation")
	}
	r.dirty = true
}

func (r *OfflineReconciler) Dirty() bool { return r.dirty }

// reconciled clears the flag once the local snapshot is about to be pushed. A
// failed push marks it again.
func (r *OfflineReconciler) reconciled() { r.dirty = false }

// OnConnected runs on every transition to Connected. With pending edits the
// document is rejoined first; the push follows the server's answer.
func (r *OfflineReconciler) OnConnected() {
	switch {
	case !r.doc.Loaded():
		r.doc.RequestLoad()
	case r.dirty:
		log.Info().Msg("rejoining document with unsaved local edits")
		r.doc.Rejoin()
	default:
		r.doc.RequestLoad()
	}
}
