package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchLocks_SerializesSameMatch(t *testing.T) {
	locks := NewMatchLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(7)
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestMatchLocks_DropsEntryAfterLastUnlock(t *testing.T) {
	locks := NewMatchLocks()

	unlock := locks.Lock(7)
	locks.mu.Lock()
	assert.Len(t, locks.locks, 1)
	locks.mu.Unlock()

	unlock()
	locks.mu.Lock()
	assert.Empty(t, locks.locks)
	locks.mu.Unlock()
}

func TestMatchLocks_IndependentMatchesDoNotBlock(t *testing.T) {
	locks := NewMatchLocks()

	unlock1 := locks.Lock(1)
	defer unlock1()

	done := make(chan struct{})
	go func() {
		unlock2 := locks.Lock(2)
		unlock2()
		close(done)
	}()
	<-done
}
