package release

import "sync"

// milestoneLocks serializes operations on the same milestone. Entries live
// only while some caller holds or waits on them.
type milestoneLocks struct {
	mu      sync.Mutex
	entries map[int]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newMilestoneLocks() *milestoneLocks {
	return &milestoneLocks{entries: make(map[int]*lockEntry)}
}

func (m *milestoneLocks) Lock(milestoneID int) {
	m.mu.Lock()
	e, ok := m.entries[milestoneID]
	if !ok {
		e = &lockEntry{}
		m.entries[milestoneID] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
}

func (m *milestoneLocks) Unlock(milestoneID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[milestoneID]
	if !ok {
		panic("release: unlock of unlocked milestone")
	}
	e.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, milestoneID)
	}
}

func (m *milestoneLocks) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
