package distlock

import (
	"context"
	"sync"
	"time"
)

// LocalProvider is an in-process Provider. Locks with the same key exclude
// each other within one process; TTLs are honored so a lock abandoned by a
// panicking goroutine eventually frees up.
type LocalProvider struct {
	mu    sync.Mutex
	held  map[string]*localHold
	now   func() time.Time
	seqNo uint64
}

type localHold struct {
	owner   uint64
	expires time.Time
}

// NewLocalProvider creates an empty in-process lock table.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{held: make(map[string]*localHold), now: time.Now}
}

// Lock returns a lock on key.
func (p *LocalProvider) Lock(key string, ttl time.Duration) DistLock {
	p.mu.Lock()
	p.seqNo++
	owner := p.seqNo
	p.mu.Unlock()
	return &LocalLock{provider: p, key: key, ttl: ttl, owner: owner}
}

// LocalLock is a DistLock handed out by LocalProvider.
type LocalLock struct {
	provider *LocalProvider
	key      string
	ttl      time.Duration
	owner    uint64
}

// Acquire takes the key if it is free or its previous holder expired.
func (l *LocalLock) Acquire(_ context.Context) (bool, error) {
	p := l.provider
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if h, ok := p.held[l.key]; ok && h.owner != l.owner && now.Before(h.expires) {
		return false, nil
	}
	expires := now.Add(l.ttl)
	if l.ttl <= 0 {
		expires = now.Add(100 * 365 * 24 * time.Hour)
	}
	p.held[l.key] = &localHold{owner: l.owner, expires: expires}
	return true, nil
}

// Extend pushes the expiry out while this lock is still the live holder.
func (l *LocalLock) Extend(_ context.Context, ttl time.Duration) error {
	p := l.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	h, ok := p.held[l.key]
	if !ok || h.owner != l.owner || !now.Before(h.expires) {
		return ErrNotOwner
	}
	h.expires = now.Add(ttl)
	return nil
}

// Release frees the key if this lock still holds it.
func (l *LocalLock) Release(_ context.Context) error {
	p := l.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.held[l.key]; ok && h.owner == l.owner {
		delete(p.held, l.key)
	}
	return nil
}
