// Package richtext holds the wire form of change operations and snapshots.
//
// A Delta is an ordered list of retain/insert/delete instructions over a
// positional index. A snapshot is a Delta made of inserts only. Composition is
// delegated to go-quilljs-delta so the semantics match the Quill editor that
// produces the operations on the other end.
package richtext

import (
	"strings"

	"github.com/fmpwizard/go-quilljs-delta/delta"
)

const (
	OpTypeInsert = "insert"
	OpTypeRetain = "retain"
	OpTypeDelete = "delete"
)

type Op struct {
	Insert     string         `json:"insert,omitempty" mapstructure:"insert"`
	Retain     int            `json:"retain,omitempty" mapstructure:"retain"`
	Delete     int            `json:"delete,omitempty" mapstructure:"delete"`
	Attributes map[string]any `json:"attributes,omitempty" mapstructure:"attributes"`
}

// Type reports which instruction the op carries. Exactly one of Insert,
// Retain and Delete is set on a valid op.
func (o Op) Type() string {
	switch {
	case o.Insert != "":
		return OpTypeInsert
	case o.Delete > 0:
		return OpTypeDelete
	case o.Retain > 0:
		return OpTypeRetain
	}
	return ""
}

type Delta struct {
	Ops []Op `json:"ops" mapstructure:"ops"`
}

func New() Delta {
	return Delta{Ops: []Op{}}
}

// FromText returns a snapshot holding a single unstyled span.
func FromText(text string) Delta {
	if text == "" {
		return New()
	}
	return Delta{Ops: []Op{{Insert: text}}}
}

// Insert, Retain and Delete append one instruction. Empty instructions are
// skipped, as Quill does.
func (d Delta) Insert(text string, attrs map[string]any) Delta {
	if text == "" {
		return d
	}
	d.Ops = append(cloneOps(d.Ops), Op{Insert: text, Attributes: attrs})
	return d
}

func (d Delta) Retain(n int, attrs map[string]any) Delta {
	if n <= 0 {
		return d
	}
	d.Ops = append(cloneOps(d.Ops), Op{Retain: n, Attributes: attrs})
	return d
}

func (d Delta) Delete(n int) Delta {
	if n <= 0 {
		return d
	}
	d.Ops = append(cloneOps(d.Ops), Op{Delete: n})
	return d
}

// Validate checks that every op carries exactly one instruction.
func (d Delta) Validate() error {
	for i, op := range d.Ops {
		set := 0
		if op.Insert != "" {
			set++
		}
		if op.Retain > 0 {
			set++
		}
		if op.Delete > 0 {
			set++
		}
		if set != 1 || op.Retain < 0 || op.Delete < 0 {
			return &InvalidOpError{Index: i}
		}
	}
	return nil
}

// IsSnapshot reports whether the delta is made of inserts only.
func (d Delta) IsSnapshot() bool {
	for _, op := range d.Ops {
		if op.Type() != OpTypeInsert {
			return false
		}
	}
	return true
}

// Length is the number of positions the snapshot covers.
func (d Delta) Length() int {
	n := 0
	for _, op := range d.Ops {
		switch op.Type() {
		case OpTypeInsert:
			n += len([]rune(op.Insert))
		case OpTypeRetain:
			n += op.Retain
		case OpTypeDelete:
			n += op.Delete
		}
	}
	return n
}

// BaseLength is the length of the document a change applies to: the
// positions it retains or deletes.
func (d Delta) BaseLength() int {
	n := 0
	for _, op := range d.Ops {
		n += op.Retain + op.Delete
	}
	return n
}

// Text flattens a snapshot into plain text, dropping styling.
func (d Delta) Text() string {
	var b strings.Builder
	for _, op := range d.Ops {
		b.WriteString(op.Insert)
	}
	return b.String()
}

// Compose returns d followed by other. Applying a change operation to a
// snapshot is snapshot.Compose(change).
func (d Delta) Compose(other Delta) Delta {
	return fromQuill(toQuill(d).Compose(*toQuill(other)))
}

func toQuill(d Delta) *delta.Delta {
	q := delta.New(nil)
	for _, op := range d.Ops {
		switch op.Type() {
		case OpTypeInsert:
			q.Insert(op.Insert, op.Attributes)
		case OpTypeRetain:
			q.Retain(op.Retain, op.Attributes)
		case OpTypeDelete:
			q.Delete(op.Delete)
		}
	}
	return q
}

func fromQuill(q *delta.Delta) Delta {
	out := Delta{Ops: make([]Op, 0, len(q.Ops))}
	for _, op := range q.Ops {
		switch {
		case len(op.Insert) > 0:
			out.Ops = append(out.Ops, Op{Insert: string(op.Insert), Attributes: op.Attributes})
		case op.Delete != nil && *op.Delete > 0:
			out.Ops = append(out.Ops, Op{Delete: *op.Delete})
		case op.Retain != nil && *op.Retain > 0:
			out.Ops = append(out.Ops, Op{Retain: *op.Retain, Attributes: op.Attributes})
		}
	}
	return out
}

func cloneOps(ops []Op) []Op {
	out := make([]Op, len(ops), len(ops)+1)
	copy(out, ops)
	return out
}
