package collab

// Scope collects the release side of every subscription and timer acquired
// while a document view is open. Close runs them in reverse order, once.
type Scope struct {
	releases []func()
	closed   bool
}

func (s *Scope) Add(release func()) {
	if release == nil {
		return
	}
	if s.closed {
		release()
		return
	}
	s.releases = append(s.releases, release)
}

func (s *Scope) Len() int { return len(s.releases) }

func (s *Scope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for i := len(s.releases) - 1; i >= 0; i-- {
		s.releases[i]()
	}
	s.releases = nil
}

// signal is a list of listeners with explicit unsubscribe.
type signal[T any] struct {
	seq       int
	listeners map[int]func(T)
	order     []int
}

func (s *signal[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if s.listeners == nil {
		s.listeners = make(map[int]func(T))
	}
	s.seq++
	id := s.seq
	s.listeners[id] = fn
	s.order = append(s.order, id)
	return func() {
		delete(s.listeners, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

func (s *signal[T]) emit(v T) {
	ids := append([]int(nil), s.order...)
	for _, id := range ids {
		if fn, ok := s.listeners[id]; ok {
			fn(v)
		}
	}
}

func (s *signal[T]) count() int { return len(s.listeners) }
