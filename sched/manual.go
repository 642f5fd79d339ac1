package sched

import (
	"sort"
	"time"
)

// Manual is a Scheduler on virtual time. Callbacks run synchronously inside
// Advance, in due order. It is not safe for concurrent use.
type Manual struct {
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	due     time.Time
	every   time.Duration
	seq     int
	fn      func()
	stopped bool
}

func NewManual() *Manual {
	return &Manual{now: time.Unix(0, 0).UTC()}
}

func (m *Manual) Now() time.Time { return m.now }

// Elapsed is the virtual time passed since the clock was created.
func (m *Manual) Elapsed() time.Duration { return m.now.Sub(time.Unix(0, 0).UTC()) }

func (m *Manual) AfterFunc(d time.Duration, fn func()) Cancel {
	return m.add(d, 0, fn)
}

func (m *Manual) Every(d time.Duration, fn func()) Cancel {
	return m.add(d, d, fn)
}

// Pending is the number of live timers.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (m *Manual) add(d, every time.Duration, fn func()) Cancel {
	m.seq++
	t := &manualTimer{due: m.now.Add(d), every: every, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return func() { t.stopped = true }
}

// Advance moves time forward by d, running every callback that falls due.
func (m *Manual) Advance(d time.Duration) {
	end := m.now.Add(d)
	for {
		t := m.next(end)
		if t == nil {
			break
		}
		m.now = t.due
		if t.every > 0 {
			t.due = t.due.Add(t.every)
		} else {
			t.stopped = true
		}
		t.fn()
	}
	m.now = end
	m.compact()
}

func (m *Manual) next(end time.Time) *manualTimer {
	var live []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.due.After(end) {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].due.Equal(live[j].due) {
			return live[i].seq < live[j].seq
		}
		return live[i].due.Before(live[j].due)
	})
	return live[0]
}

func (m *Manual) compact() {
	kept := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped {
			kept = append(kept, t)
		}
	}
	m.timers = kept
}
