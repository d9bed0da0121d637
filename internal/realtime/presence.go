package realtime

import (
	"sort"
	"sync"
)

// Presence maps a user id to the connection it last authenticated on.
// There is at most one connection per user; a later Bind replaces it.
type Presence struct {
	mu     sync.RWMutex
	byUser map[string]string
	byConn map[string]map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[string]string),
		byConn: make(map[string]map[string]struct{}),
	}
}

func (p *Presence) Bind(userID, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if previous, ok := p.byUser[userID]; ok && previous != connID {
		p.forget(previous, userID)
	}
	p.byUser[userID] = connID
	users := p.byConn[connID]
	if users == nil {
		users = make(map[string]struct{})
		p.byConn[connID] = users
	}
	users[userID] = struct{}{}
}

func (p *Presence) Lookup(userID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	connID, ok := p.byUser[userID]
	return connID, ok
}

// Unbind removes every user currently bound to connID and returns them.
// Users that have since re-authenticated elsewhere keep their new binding.
func (p *Presence) Unbind(connID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed []string
	for userID := range p.byConn[connID] {
		if p.byUser[userID] == connID {
			delete(p.byUser, userID)
			removed = append(removed, userID)
		}
	}
	delete(p.byConn, connID)
	sort.Strings(removed)
	return removed
}

func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser)
}

func (p *Presence) forget(connID, userID string) {
	users := p.byConn[connID]
	delete(users, userID)
	if len(users) == 0 {
		delete(p.byConn, connID)
	}
}
