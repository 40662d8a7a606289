package session

import "sync"

// Store holds at most one session per user. Update runs fn with exclusive
// access to that user's slot: fn receives the current session (nil if none)
// and the returned session replaces it, nil removing it. The replacement is
// applied even when fn also returns an error.
type Store interface {
	Update(userID int64, fn func(cur *Session) (*Session, error)) error
}

// MemoryStore keeps sessions in process memory, one lock per user.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

type slot struct {
	mu   sync.Mutex
	sess *Session
	refs int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[int64]*slot)}
}

func (s *MemoryStore) Update(userID int64, fn func(cur *Session) (*Session, error)) error {
	s.mu.Lock()
	sl := s.slots[userID]
	if sl == nil {
		sl = &slot{}
		s.slots[userID] = sl
	}
	sl.refs++
	s.mu.Unlock()

	sl.mu.Lock()
	next, err := fn(sl.sess)
	sl.sess = next
	sl.mu.Unlock()

	s.mu.Lock()
	sl.refs--
	// refs is only taken under s.mu, so with no other holder sess is stable.
	if sl.refs == 0 && sl.sess == nil {
		delete(s.slots, userID)
	}
	s.mu.Unlock()

	return err
}

// Len returns the number of users holding a session.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
