package mint

import "sync"

// inflightSet tracks instance ids with a provisioning request currently
// suspended on an external call. A second request targeting the same id is
// rejected instead of racing the first one's "not yet installed" check.
type inflightSet struct {
	mu  sync.Mutex
	ids map[Identity]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{ids: make(map[Identity]struct{})}
}

// acquire reserves the id; false when another request already holds it.
func (s *inflightSet) acquire(id Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.ids[id]; held {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *inflightSet) release(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}
