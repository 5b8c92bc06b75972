package storefront

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Phase is the loading state of a paginated listing
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseLoaded
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseLoaded:
		return "loaded"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Page is one page of a listing as returned by the server
type Page[T any] struct {
	Items      []T
	TotalPages int
}

// PageFetcher loads one page of a listing
type PageFetcher[T any] func(ctx context.Context, page, limit int) (Page[T], error)

// PaginationState is a snapshot of a controller.
// CurrentPage is always within [1, max(TotalPages, 1)].
type PaginationState struct {
	CurrentPage int
	TotalPages  int
	PageSize    int
	Phase       Phase
	Err         string
}

// PaginationController tracks the current page of a server-paginated
// listing and keeps the matching key observed in the cache. TotalPages only
// ever comes from a successful response.
type PaginationController[T any] struct {
	cache    *QueryCache
	resource string
	pageSize int
	fetch    PageFetcher[T]
	log      *slog.Logger

	// opMu serializes page changes; mu guards the fields below and is never
	// held while calling into the cache.
	opMu sync.Mutex

	mu       sync.Mutex
	filter   []any
	current  int
	total    int
	enabled  bool
	key      Key
	entry    Entry
	items    []T
	sub      *Subscription
	onChange func(PaginationState)
}

// NewPaginationController creates a disabled controller on page 1.
// Pages are cached under (resource, filter..., "page", n, "limit", size).
func NewPaginationController[T any](cache *QueryCache, resource string, fetch PageFetcher[T], opts ...Option) *PaginationController[T] {
	config := newConfig(opts)
	return &PaginationController[T]{
		cache:    cache,
		resource: resource,
		pageSize: config.PageSize,
		fetch:    fetch,
		log:      config.Logger.With(slog.String("component", "pagination"), slog.String("resource", resource)),
		current:  1,
	}
}

// OnChange registers fn to receive every state change
func (p *PaginationController[T]) OnChange(fn func(PaginationState)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Prefix returns the key shared by every page of this listing
func (p *PaginationController[T]) Prefix() Key {
	return NewKey(p.resource)
}

// KeyFor derives the cache key of page n under the current filter
func (p *PaginationController[T]) KeyFor(n int) Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keyLocked(n)
}

func (p *PaginationController[T]) keyLocked(n int) Key {
	segments := make([]any, 0, len(p.filter)+5)
	segments = append(segments, p.resource)
	segments = append(segments, p.filter...)
	segments = append(segments, "page", n, "limit", p.pageSize)
	return NewKey(segments...)
}

// SetPage moves to page n clamped into [1, max(TotalPages, 1)] and observes
// its key. Selecting the current page again retries it when it errored.
func (p *PaginationController[T]) SetPage(n int) {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	p.setPage(n)
}

func (p *PaginationController[T]) setPage(n int) {
	p.mu.Lock()
	p.current = clampPage(n, p.total)
	key := p.keyLocked(p.current)
	prev := p.sub
	if prev != nil && prev.Key() == key {
		errored := p.entry.Status == StatusError
		p.mu.Unlock()
		if errored {
			prev.Refetch()
		}
		return
	}
	p.key = key
	p.entry = Entry{Key: key}
	p.items = nil
	enabled := p.enabled
	page := p.current
	p.mu.Unlock()

	p.log.Debug("page selected", slog.Int("page", page), slog.String("key", key.String()))
	sub := p.cache.Observe(key, p.fetcherFor(page), enabled, p.onEntry)

	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// SetEnabled starts or stops fetching, e.g. when the role gate re-evaluates
func (p *PaginationController[T]) SetEnabled(enabled bool) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	p.enabled = enabled
	sub := p.sub
	current := p.current
	p.mu.Unlock()

	if sub == nil {
		if enabled {
			p.setPage(current)
		}
		return
	}
	sub.SetEnabled(enabled)
	p.publish()
}

// SetFilter changes the listing identity and returns to page 1
func (p *PaginationController[T]) SetFilter(segments ...any) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	p.filter = append([]any(nil), segments...)
	p.total = 0
	p.mu.Unlock()

	p.setPage(1)
}

// Reset returns to page 1 and forgets the known page count
func (p *PaginationController[T]) Reset() {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	p.total = 0
	p.mu.Unlock()

	p.setPage(1)
}

// Refetch re-attempts the current page
func (p *PaginationController[T]) Refetch() {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()

	if sub != nil {
		sub.Refetch()
	}
}

// State returns the current snapshot
func (p *PaginationController[T]) State() PaginationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// Items returns the products of the current page once loaded
func (p *PaginationController[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items
}

// ShowPagination is false when the server reports no pages
func (p *PaginationController[T]) ShowPagination() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total > 0
}

// Close stops observing. An in-flight fetch still completes into the cache.
func (p *PaginationController[T]) Close() {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

func (p *PaginationController[T]) stateLocked() PaginationState {
	st := PaginationState{
		CurrentPage: p.current,
		TotalPages:  p.total,
		PageSize:    p.pageSize,
		Err:         p.entry.Err,
	}
	switch p.entry.Status {
	case StatusPending:
		st.Phase = PhaseLoading
	case StatusSuccess:
		st.Phase = PhaseLoaded
	case StatusError:
		st.Phase = PhaseErrored
	default:
		st.Phase = PhaseIdle
	}
	return st
}

func (p *PaginationController[T]) fetcherFor(page int) Fetcher {
	limit := p.pageSize
	return func(ctx context.Context) (any, error) {
		return p.fetch(ctx, page, limit)
	}
}

func (p *PaginationController[T]) onEntry(e Entry) {
	p.mu.Lock()
	if e.Key != p.key {
		p.mu.Unlock()
		return
	}
	p.entry = e

	reclamp := false
	if e.Status == StatusSuccess {
		page, ok := e.Data.(Page[T])
		if !ok {
			p.mu.Unlock()
			p.log.Error("unexpected page payload", slog.String("type", fmt.Sprintf("%T", e.Data)))
			return
		}
		p.total = max(page.TotalPages, 0)
		p.items = page.Items
		if p.current > max(p.total, 1) {
			p.current = max(p.total, 1)
			p.items = nil
			reclamp = true
		}
	}
	st := p.stateLocked()
	onChange := p.onChange
	p.mu.Unlock()

	if onChange != nil {
		onChange(st)
	}

	// The listing shrank below the current page; observe the clamped one
	if reclamp {
		go p.SetPage(st.CurrentPage)
	}
}

func (p *PaginationController[T]) publish() {
	p.mu.Lock()
	st := p.stateLocked()
	onChange := p.onChange
	p.mu.Unlock()

	if onChange != nil {
		onChange(st)
	}
}

// clampPage bounds n into [1, max(total, 1)]
func clampPage(n, total int) int {
	upper := max(total, 1)
	if n < 1 {
		return 1
	}
	if n > upper {
		return upper
	}
	return n
}
