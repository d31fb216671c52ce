package bidding

import "sync"

// LockTable hands out one mutex per auction. Everything that mutates an
// auction's state takes its lock first, so bids on the same auction
// serialize while different auctions proceed in parallel.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for an auction, creating it on first use.
func (t *LockTable) Get(auctionID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, exists := t.locks[auctionID]
	if !exists {
		lock = &sync.Mutex{}
		t.locks[auctionID] = lock
	}
	return lock
}
