package supervisor

import "sync"

// banList tracks addresses banned for the remainder of the process, per
// spec §4.5: invalid headers, a bad filter commitment, or repeated timeout
// violations ban a peer permanently (for this run; persistence of the ban
// list across restarts is out of scope, same as the rest of the address
// book's state short of what the embedder's PeerStore chooses to persist).
type banList struct {
	mu     sync.Mutex
	banned map[string]bool
}

func newBanList() *banList {
	return &banList{banned: make(map[string]bool)}
}

func (b *banList) Ban(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.banned[addr] = true
}

func (b *banList) IsBanned(addr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.banned[addr]
}
