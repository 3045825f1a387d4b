package refnative

import "sync"

// errorSlots emulates the engine's thread-local last-error string.
// Slots are keyed by OS thread id; callers pin their goroutine for the
// duration of a call and its error query.
type errorSlots struct {
	mu    sync.Mutex
	slots map[int]string
}

func newErrorSlots() *errorSlots {
	return &errorSlots{slots: make(map[int]string)}
}

func (s *errorSlots) set(msg string) {
	s.mu.Lock()
	s.slots[threadID()] = msg
	s.mu.Unlock()
}

func (s *errorSlots) peek() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[threadID()]
}

func (s *errorSlots) reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tid := threadID()
	msg := s.slots[tid]
	delete(s.slots, tid)
	return msg
}
