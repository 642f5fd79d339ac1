// Package sched provides the timers used by an editor session.
//
// A session mutates its state from a single goroutine, so timer callbacks are
// never run directly by the runtime: Loop hands them to a post function that
// queues them on the session's event loop. Manual drives the same interface
// from virtual time.
package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cancel stops a scheduled callback. It is safe to call more than once.
type Cancel func()

type Scheduler interface {
	Now() time.Time
	// AfterFunc runs fn once after d.
	AfterFunc(d time.Duration, fn func()) Cancel
	// Every runs fn each time d elapses until cancelled.
	Every(d time.Duration, fn func()) Cancel
}

// Loop schedules on wall-clock time and delivers callbacks through post.
type Loop struct {
	post func(func())
}

func NewLoop(post func(func())) *Loop {
	return &Loop{post: post}
}

func (l *Loop) Now() time.Time { return time.Now() }

func (l *Loop) AfterFunc(d time.Duration, fn func()) Cancel {
	var stopped atomic.Bool
	t := time.AfterFunc(d, func() {
		l.post(func() {
			// The timer may have fired while the cancel was queued behind it.
			if !stopped.Load() {
				fn()
			}
		})
	})
	return func() {
		stopped.Store(true)
		t.Stop()
	}
}

func (l *Loop) Every(d time.Duration, fn func()) Cancel {
	var stopped atomic.Bool
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.post(func() {
					if !stopped.Load() {
						fn()
					}
				})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopped.Store(true)
			ticker.Stop()
			close(done)
		})
	}
}
