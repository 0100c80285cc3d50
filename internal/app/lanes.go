package app

import (
	"context"
	"sync"
	"time"
)

// lane serializes the turns of one conversation.
type lane struct {
	sem  chan struct{}
	refs int
}

// lanes runs work FIFO-ish per conversation while different conversations
// proceed in parallel. Idle lanes are dropped.
type lanes struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

func newLanes() *lanes {
	return &lanes{lanes: make(map[string]*lane)}
}

// Do runs fn once no other work of the same conversation is running. A
// cancelled ctx abandons the wait.
func (l *lanes) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ln := l.acquire(key)
	defer l.release(key, ln)

	select {
	case ln.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ln.sem }()

	return fn(ctx)
}

func (l *lanes) acquire(key string) *lane {
	l.mu.Lock()
	defer l.mu.Unlock()

	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{sem: make(chan struct{}, 1)}
		l.lanes[key] = ln
	}
	ln.refs++
	return ln
}

func (l *lanes) release(key string, ln *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
}

// Active reports how many conversations have queued or running work.
func (l *lanes) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

type dedupEntry struct {
	reply     Reply
	timestamp time.Time
}

// dedupCache remembers replies by request id for a bounded time, so a
// resent request does not run a second turn.
type dedupCache struct {
	mu      sync.Mutex
	entries map[string]dedupEntry
	ttl     time.Duration
	now     func() time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &dedupCache{entries: make(map[string]dedupEntry), ttl: ttl, now: time.Now}
}

func (dc *dedupCache) Get(requestID string) (Reply, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.entries[requestID]
	if !ok || dc.now().Sub(entry.timestamp) > dc.ttl {
		return Reply{}, false
	}
	return entry.reply, true
}

// Set stores reply and drops expired entries.
func (dc *dedupCache) Set(requestID string, reply Reply) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := dc.now()
	for id, entry := range dc.entries {
		if now.Sub(entry.timestamp) > dc.ttl {
			delete(dc.entries, id)
		}
	}
	dc.entries[requestID] = dedupEntry{reply: reply, timestamp: now}
}
