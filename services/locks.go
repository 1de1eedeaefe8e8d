package services

import "sync"

// MatchLocks hands out one mutex per match id so concurrent submissions and
// transitions for the same match serialize before touching the database.
// Entries are reference counted and dropped when the last holder unlocks.
type MatchLocks struct {
	mu    sync.Mutex
	locks map[int]*matchLock
}

type matchLock struct {
	mu   sync.Mutex
	refs int
}

func NewMatchLocks() *MatchLocks {
	return &MatchLocks{locks: make(map[int]*matchLock)}
}

// Lock acquires the mutex for a match id and returns its unlock function.
func (ml *MatchLocks) Lock(matchID int) func() {
	ml.mu.Lock()
	lock, ok := ml.locks[matchID]
	if !ok {
		lock = &matchLock{}
		ml.locks[matchID] = lock
	}
	lock.refs++
	ml.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		ml.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(ml.locks, matchID)
		}
		ml.mu.Unlock()
	}
}
