package custody

import "sync"

// SafeLocks serializes state transitions per safe. Every operation that
// mutates state scoped to a single safe must run within the critical
// section of that safe's lock. Operations on distinct safes never block
// one another.
type SafeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSafeLocks returns an empty lock keyring.
func NewSafeLocks() *SafeLocks {
	return &SafeLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the exclusive lock of the given safe, creating it on first
// use. It blocks until the lock is available.
func (s *SafeLocks) Lock(safe Address) {
	s.get(safe).Lock()
}

// Unlock releases the exclusive lock of the given safe.
func (s *SafeLocks) Unlock(safe Address) {
	s.get(safe).Unlock()
}

func (s *SafeLocks) get(safe Address) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(safe)
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}
