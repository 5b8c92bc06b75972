// Package storefront keeps server-backed storefront collections (cart
// contents, cart item count, paginated seller listings) cached under semantic
// keys and consistent after mutating operations.
//
// Reads go through QueryCache, writes through MutationExecutor. A successful
// mutation invalidates the keys it declares and every observed key among them
// is refetched. Per-key generation counters discard responses that were
// superseded by a newer fetch.
package storefront

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Status is the lifecycle state of a cache entry
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is a point-in-time copy of a cached query result.
// Data is set iff Status is StatusSuccess, Err iff Status is StatusError.
type Entry struct {
	Key        Key
	Status     Status
	Data       any
	Err        string
	Generation uint64
	Stale      bool
	UpdatedAt  time.Time

	rev uint64
}

// Fetcher loads the value for a key
type Fetcher func(ctx context.Context) (any, error)

// GetOptions controls a single Get call
type GetOptions struct {
	Enabled bool
}

// Listener receives entry snapshots in revision order
type Listener func(Entry)

// QueryCache is a keyed store of asynchronous read results
type QueryCache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	config  *Config
	log     *slog.Logger
}

type entry struct {
	key        Key
	status     Status
	data       any
	errMsg     string
	generation uint64
	stale      bool
	updatedAt  time.Time
	rev        uint64
	fetch      Fetcher
	inflight   *call
	subs       map[*Subscription]struct{}
}

// call is one in-flight fetch. done is closed once the call resolves,
// whether or not its result was applied.
type call struct {
	generation uint64
	done       chan struct{}
}

// NewQueryCache creates an empty cache
func NewQueryCache(opts ...Option) *QueryCache {
	config := newConfig(opts)
	return &QueryCache{
		entries: make(map[Key]*entry),
		config:  config,
		log:     config.Logger.With(slog.String("component", "query_cache")),
	}
}

// Get returns the current entry for key. When opts.Enabled is true it also
// makes sure a fetch has been performed or is in flight; concurrent callers
// of a pending key share the single in-flight fetch.
// When disabled, no fetch happens and any prior data is kept but marked stale.
func (c *QueryCache) Get(key Key, fetch Fetcher, opts GetOptions) Entry {
	c.mu.Lock()
	e := c.entryLocked(key)
	if fetch != nil {
		e.fetch = fetch
	}

	if !opts.Enabled {
		if e.status != StatusIdle && !e.observed() {
			e.stale = true
		}
		snap := e.snapshot()
		c.mu.Unlock()
		return snap
	}

	started := c.ensureFetchLocked(e)
	snap := e.snapshot()
	subs := e.subscribers()
	c.mu.Unlock()

	if started {
		notify(subs, snap)
	}
	return snap
}

// Observe registers interest in key. The listener is called with the current
// entry and then on every change. While the subscription is enabled the key
// counts as observed: it is fetched when idle or stale and refetched on
// invalidation.
func (c *QueryCache) Observe(key Key, fetch Fetcher, enabled bool, listener Listener) *Subscription {
	sub := &Subscription{
		cache:    c,
		key:      key,
		enabled:  enabled,
		listener: listener,
	}

	c.mu.Lock()
	e := c.entryLocked(key)
	if fetch != nil {
		e.fetch = fetch
	}
	e.subs[sub] = struct{}{}

	var started bool
	if enabled {
		started = c.ensureFetchLocked(e)
	}
	snap := e.snapshot()
	subs := e.subscribers()
	c.mu.Unlock()

	if started {
		notify(subs, snap)
	} else {
		sub.deliver(snap)
	}
	return sub
}

// Invalidate marks every entry whose key starts with prefix as stale.
// Observed entries are refetched immediately, exactly once each; the rest are
// fetched by the next enabled Get or Observe. It returns the number of
// refetches started.
func (c *QueryCache) Invalidate(prefix Key) int {
	type change struct {
		subs []*Subscription
		snap Entry
	}

	var (
		changes   []change
		refetched int
	)

	c.mu.Lock()
	for key, e := range c.entries {
		if !key.HasPrefix(prefix) {
			continue
		}
		if e.observed() && e.fetch != nil {
			c.startFetchLocked(e)
			refetched++
		} else {
			e.stale = true
			e.rev++
		}
		changes = append(changes, change{subs: e.subscribers(), snap: e.snapshot()})
	}
	c.mu.Unlock()

	c.log.Debug("invalidated", slog.String("key", prefix.String()), slog.Int("refetched", refetched))

	for _, ch := range changes {
		notify(ch.subs, ch.snap)
	}
	return refetched
}

// Peek returns the entry for key without side effects
func (c *QueryCache) Peek(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{Key: key}, false
	}
	return e.snapshot(), true
}

// Await blocks until key is no longer pending or ctx is done
func (c *QueryCache) Await(ctx context.Context, key Key) (Entry, error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok {
			c.mu.Unlock()
			return Entry{Key: key}, ErrNotObserved
		}
		if e.status != StatusPending || e.inflight == nil {
			snap := e.snapshot()
			c.mu.Unlock()
			return snap, nil
		}
		done := e.inflight.done
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return Entry{Key: key}, ctx.Err()
		}
	}
}

// Clear drops every entry. Entries that still have subscribers lose their
// data and move to a new generation, so in-flight results for them are
// discarded; the observed ones are refetched right away.
func (c *QueryCache) Clear() {
	type change struct {
		subs []*Subscription
		snap Entry
	}
	var (
		changes   []change
		refetched int
	)

	c.mu.Lock()
	for key, e := range c.entries {
		if len(e.subs) == 0 {
			delete(c.entries, key)
			continue
		}
		e.inflight = nil
		e.status = StatusIdle
		e.data = nil
		e.errMsg = ""
		e.stale = false
		if e.observed() && e.fetch != nil {
			c.startFetchLocked(e)
			refetched++
		} else {
			e.generation++
			e.rev++
		}
		changes = append(changes, change{subs: e.subscribers(), snap: e.snapshot()})
	}
	c.mu.Unlock()

	c.log.Debug("cache cleared", slog.Int("refetched", refetched))
	for _, ch := range changes {
		notify(ch.subs, ch.snap)
	}
}

func (c *QueryCache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{
			key:  key,
			rev:  1,
			subs: make(map[*Subscription]struct{}),
		}
		c.entries[key] = e
	}
	return e
}

// ensureFetchLocked starts a fetch unless one is in flight or the entry is fresh
func (c *QueryCache) ensureFetchLocked(e *entry) bool {
	if e.fetch == nil || e.status == StatusPending {
		return false
	}
	if e.status == StatusSuccess && !e.stale {
		return false
	}
	c.startFetchLocked(e)
	return true
}

// startFetchLocked begins a new generation. Any older in-flight call keeps
// running but its result will be dropped.
func (c *QueryCache) startFetchLocked(e *entry) {
	e.generation++
	e.status = StatusPending
	e.stale = false
	e.rev++

	cl := &call{generation: e.generation, done: make(chan struct{})}
	e.inflight = cl

	c.log.Debug("fetch started", slog.String("key", e.key.String()), slog.Uint64("generation", cl.generation))
	go c.run(e, cl, e.fetch)
}

func (c *QueryCache) run(e *entry, cl *call, fetch Fetcher) {
	var (
		data any
		err  error
	)

	for attempt := 0; ; attempt++ {
		data, err = c.fetchOnce(fetch)
		if err == nil || attempt >= c.config.RetryAttempts || !retryable(err) {
			break
		}
		c.log.Warn("fetch failed, retrying",
			slog.String("key", e.key.String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
		time.Sleep(c.config.RetryBackoff * time.Duration(attempt+1))
	}

	c.resolve(e, cl, data, err)
}

func (c *QueryCache) fetchOnce(fetch Fetcher) (any, error) {
	ctx := context.Background()
	if c.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.FetchTimeout)
		defer cancel()
	}
	return fetch(ctx)
}

func (c *QueryCache) resolve(e *entry, cl *call, data any, err error) {
	c.mu.Lock()
	close(cl.done)

	if cl.generation != e.generation {
		c.mu.Unlock()
		c.log.Debug("dropping result",
			slog.String("key", e.key.String()),
			slog.Uint64("generation", cl.generation),
			slog.String("reason", ErrStaleResponse.Error()))
		return
	}

	e.inflight = nil
	e.updatedAt = time.Now()
	if err != nil {
		e.status = StatusError
		e.errMsg = MessageOf(err)
	} else {
		e.status = StatusSuccess
		e.data = data
		e.errMsg = ""
	}
	e.rev++
	snap := e.snapshot()
	subs := e.subscribers()
	c.mu.Unlock()

	if err != nil {
		c.log.Info("fetch failed", slog.String("key", e.key.String()), slog.String("error", err.Error()))
	} else {
		c.log.Debug("fetch applied", slog.String("key", e.key.String()), slog.Uint64("generation", cl.generation))
	}
	notify(subs, snap)
}

func retryable(err error) bool {
	var network *NetworkError
	if errors.As(err, &network) {
		return true
	}
	var remote *RemoteError
	return errors.As(err, &remote) && remote.StatusCode >= 500
}

func (e *entry) observed() bool {
	for sub := range e.subs {
		if sub.enabled {
			return true
		}
	}
	return false
}

func (e *entry) subscribers() []*Subscription {
	subs := make([]*Subscription, 0, len(e.subs))
	for sub := range e.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (e *entry) snapshot() Entry {
	snap := Entry{
		Key:        e.key,
		Status:     e.status,
		Generation: e.generation,
		Stale:      e.stale,
		UpdatedAt:  e.updatedAt,
		rev:        e.rev,
	}
	switch e.status {
	case StatusSuccess:
		snap.Data = e.data
	case StatusError:
		snap.Err = e.errMsg
	}
	return snap
}

func notify(subs []*Subscription, snap Entry) {
	for _, sub := range subs {
		sub.deliver(snap)
	}
}

// Subscription is one consumer's interest in a key
type Subscription struct {
	cache    *QueryCache
	key      Key
	listener Listener

	// enabled is guarded by cache.mu
	enabled bool

	mu         sync.Mutex
	closed     bool
	delivering bool
	hasQueued  bool
	queued     Entry
	queuedRev  uint64
}

// Key returns the observed key
func (s *Subscription) Key() Key {
	return s.key
}

// Entry returns the current entry of the observed key
func (s *Subscription) Entry() Entry {
	e, _ := s.cache.Peek(s.key)
	return e
}

// Enabled reports whether the subscription currently allows fetching
func (s *Subscription) Enabled() bool {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	return s.enabled
}

// SetEnabled toggles fetching for this consumer. Disabling keeps the data but
// marks it stale when nobody else observes the key, so re-enabling refetches.
func (s *Subscription) SetEnabled(enabled bool) {
	c := s.cache

	c.mu.Lock()
	e, ok := c.entries[s.key]
	if !ok || s.enabled == enabled {
		c.mu.Unlock()
		return
	}
	if _, member := e.subs[s]; !member {
		c.mu.Unlock()
		return
	}
	s.enabled = enabled

	var started bool
	if enabled {
		started = c.ensureFetchLocked(e)
	} else if e.status != StatusIdle && !e.observed() {
		e.stale = true
		e.rev++
	}
	snap := e.snapshot()
	subs := e.subscribers()
	c.mu.Unlock()

	if started || !enabled {
		notify(subs, snap)
	}
}

// Refetch invalidates exactly the observed key
func (s *Subscription) Refetch() {
	s.cache.Invalidate(s.key)
}

// Close removes the subscription. An in-flight fetch is not aborted; its
// result still lands in the cache for other and future observers.
func (s *Subscription) Close() {
	c := s.cache

	c.mu.Lock()
	if e, ok := c.entries[s.key]; ok {
		delete(e.subs, s)
	}
	c.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// deliver hands snap to the listener unless a newer revision was already
// queued. Only one goroutine runs the listener at a time; others leave their
// snapshot in the queue slot, so listeners may call back into the cache.
func (s *Subscription) deliver(snap Entry) {
	s.mu.Lock()
	if s.closed || snap.rev <= s.queuedRev {
		s.mu.Unlock()
		return
	}
	s.queued = snap
	s.queuedRev = snap.rev
	s.hasQueued = true
	if s.delivering {
		s.mu.Unlock()
		return
	}

	s.delivering = true
	for s.hasQueued && !s.closed {
		next := s.queued
		s.hasQueued = false
		s.mu.Unlock()
		if s.listener != nil {
			s.listener(next)
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}
