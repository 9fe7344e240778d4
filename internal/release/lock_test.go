package release

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMilestoneLocksReleaseEntries(t *testing.T) {
	locks := newMilestoneLocks()
	for id := 0; id < 100; id++ {
		locks.Lock(id)
		locks.Unlock(id)
	}
	assert.Zero(t, locks.size())
}

func TestMilestoneLocksSerializeSameMilestone(t *testing.T) {
	locks := newMilestoneLocks()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		counter sync.Mutex
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock(7)
			defer locks.Unlock(7)

			counter.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			counter.Unlock()

			counter.Lock()
			inside--
			counter.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, locks.size())
}

func TestMilestoneLocksIndependentMilestones(t *testing.T) {
	locks := newMilestoneLocks()
	locks.Lock(1)
	done := make(chan struct{})
	go func() {
		locks.Lock(2)
		locks.Unlock(2)
		close(done)
	}()
	<-done
	assert.Equal(t, 1, locks.size())
	locks.Unlock(1)
	assert.Zero(t, locks.size())
}
