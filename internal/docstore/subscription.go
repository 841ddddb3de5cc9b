package docstore

import "sync"

// subscription delivers snapshots to one listener on its own goroutine. Pending
// snapshots are coalesced so the listener only ever sees the latest state.
type subscription struct {
	target   Target
	onChange func(Snapshot)
	onError  func(error)

	mu      sync.Mutex
	latest  *Snapshot
	lastErr error
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscription(target Target, onChange func(Snapshot), onError func(error)) *subscription {
	s := &subscription{
		target:   target,
		onChange: onChange,
		onError:  onError,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *subscription) matches(collection, id string) bool {
	if s.target.Collection != collection {
		return false
	}
	return s.target.ID == "" || id == "" || s.target.ID == id
}

func (s *subscription) push(snap Snapshot) {
	s.mu.Lock()
	s.latest = &snap
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		snap, err := s.latest, s.lastErr
		s.latest, s.lastErr = nil, nil
		s.mu.Unlock()

		if err != nil && s.onError != nil {
			s.onError(err)
		}
		if snap != nil && s.onChange != nil {
			s.onChange(*snap)
		}
	}
}

// registry tracks live subscriptions for a backend.
type registry struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func newRegistry() *registry {
	return &registry{subs: make(map[*subscription]struct{})}
}

func (r *registry) add(s *subscription) func() {
	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, s)
		r.mu.Unlock()
		s.stop()
	}
}

func (r *registry) matching(collection, id string) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*subscription
	for s := range r.subs {
		if s.matches(collection, id) {
			out = append(out, s)
		}
	}
	return out
}

func (r *registry) all() []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*subscription, 0, len(r.subs))
	for s := range r.subs {
		out = append(out, s)
	}
	return out
}

func (r *registry) closeAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[*subscription]struct{})
	r.mu.Unlock()
	for s := range subs {
		s.stop()
	}
}
