package storefront

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResult struct {
	data any
	err  error
}

// stubFetcher blocks call i until resolve(i, ...) is called
type stubFetcher struct {
	mu    sync.Mutex
	calls int
	gates map[int]chan stubResult
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{gates: make(map[int]chan stubResult)}
}

func (s *stubFetcher) gate(i int) chan stubResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.gates[i]
	if !ok {
		ch = make(chan stubResult, 1)
		s.gates[i] = ch
	}
	return ch
}

func (s *stubFetcher) fetch(ctx context.Context) (any, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	select {
	case r := <-s.gate(i):
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stubFetcher) resolve(i int, data any, err error) {
	s.gate(i) <- stubResult{data: data, err: err}
}

func (s *stubFetcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func waitCalls(t *testing.T, s *stubFetcher, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Calls() == n }, time.Second, 5*time.Millisecond)
}

func waitStatus(t *testing.T, c *QueryCache, key Key, status Status) Entry {
	t.Helper()
	var e Entry
	require.Eventually(t, func() bool {
		e, _ = c.Peek(key)
		return e.Status == status
	}, time.Second, 5*time.Millisecond, "key %s never reached %s", key, status)
	return e
}

func TestQueryCache_DedupesConcurrentGets(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	first := c.Get(key, stub.fetch, GetOptions{Enabled: true})
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, uint64(1), first.Generation)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := c.Get(key, stub.fetch, GetOptions{Enabled: true})
			assert.Equal(t, StatusPending, e.Status)
		}()
	}
	wg.Wait()

	stub.resolve(0, []string{"a"}, nil)
	e := waitStatus(t, c, key, StatusSuccess)

	assert.Equal(t, 1, stub.Calls())
	assert.Equal(t, []string{"a"}, e.Data)
	assert.Equal(t, uint64(1), e.Generation)
}

func TestQueryCache_FreshEntryIsNotRefetched(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-item-count")

	c.Get(key, stub.fetch, GetOptions{Enabled: true})
	stub.resolve(0, 3, nil)
	waitStatus(t, c, key, StatusSuccess)

	e := c.Get(key, stub.fetch, GetOptions{Enabled: true})
	assert.Equal(t, StatusSuccess, e.Status)
	assert.Equal(t, 3, e.Data)
	assert.Equal(t, 1, stub.Calls())
}

func TestQueryCache_DisabledGetDoesNotFetch(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-item-count")

	e := c.Get(key, stub.fetch, GetOptions{Enabled: false})
	assert.Equal(t, StatusIdle, e.Status)
	assert.Nil(t, e.Data)
	assert.Zero(t, e.Generation)
	assert.Equal(t, 0, stub.Calls())
}

func TestQueryCache_DisabledGetKeepsDataButMarksStale(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-item-count")

	c.Get(key, stub.fetch, GetOptions{Enabled: true})
	stub.resolve(0, 2, nil)
	waitStatus(t, c, key, StatusSuccess)

	e := c.Get(key, stub.fetch, GetOptions{Enabled: false})
	assert.Equal(t, StatusSuccess, e.Status)
	assert.Equal(t, 2, e.Data)
	assert.True(t, e.Stale)
	assert.Equal(t, 1, stub.Calls())

	// Enabling again refetches
	e = c.Get(key, stub.fetch, GetOptions{Enabled: true})
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, uint64(2), e.Generation)
	stub.resolve(1, 5, nil)
	e = waitStatus(t, c, key, StatusSuccess)
	assert.Equal(t, 5, e.Data)
	assert.False(t, e.Stale)
}

func TestQueryCache_StaleResponseIsDropped(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	sub := c.Observe(key, stub.fetch, true, nil)
	defer sub.Close()
	waitCalls(t, stub, 1)

	// Second generation supersedes the first while it is in flight
	assert.Equal(t, 1, c.Invalidate(key))
	waitCalls(t, stub, 2)

	stub.resolve(1, "new", nil)
	e := waitStatus(t, c, key, StatusSuccess)
	assert.Equal(t, "new", e.Data)
	assert.Equal(t, uint64(2), e.Generation)

	stub.resolve(0, "old", nil)
	time.Sleep(20 * time.Millisecond)

	e, _ = c.Peek(key)
	assert.Equal(t, "new", e.Data)
	assert.Equal(t, uint64(2), e.Generation)
}

func TestQueryCache_StaleErrorIsDropped(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	sub := c.Observe(key, stub.fetch, true, nil)
	defer sub.Close()
	waitCalls(t, stub, 1)
	c.Invalidate(key)
	waitCalls(t, stub, 2)

	stub.resolve(0, nil, &NetworkError{Err: errors.New("reset")})
	time.Sleep(20 * time.Millisecond)

	e, _ := c.Peek(key)
	assert.Equal(t, StatusPending, e.Status)

	stub.resolve(1, "ok", nil)
	e = waitStatus(t, c, key, StatusSuccess)
	assert.Equal(t, "ok", e.Data)
}

func TestQueryCache_InvalidateObservedRefetchesOnce(t *testing.T) {
	c := NewQueryCache()
	list := newStubFetcher()
	count := newStubFetcher()

	var listEvents []Status
	var mu sync.Mutex
	subList := c.Observe(KeyCartList, list.fetch, true, func(e Entry) {
		mu.Lock()
		listEvents = append(listEvents, e.Status)
		mu.Unlock()
	})
	defer subList.Close()
	subCount := c.Observe(KeyCartItemCount, count.fetch, true, nil)
	defer subCount.Close()

	list.resolve(0, []CartItem{}, nil)
	count.resolve(0, 0, nil)
	waitStatus(t, c, KeyCartList, StatusSuccess)
	waitStatus(t, c, KeyCartItemCount, StatusSuccess)

	assert.Equal(t, 1, c.Invalidate(KeyCartList))
	assert.Equal(t, 1, c.Invalidate(KeyCartItemCount))

	e, _ := c.Peek(KeyCartList)
	assert.Equal(t, StatusPending, e.Status)
	e, _ = c.Peek(KeyCartItemCount)
	assert.Equal(t, StatusPending, e.Status)

	list.resolve(1, []CartItem{}, nil)
	count.resolve(1, 0, nil)
	waitStatus(t, c, KeyCartList, StatusSuccess)
	waitStatus(t, c, KeyCartItemCount, StatusSuccess)

	assert.Equal(t, 2, list.Calls())
	assert.Equal(t, 2, count.Calls())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusPending, StatusSuccess, StatusPending, StatusSuccess}, listEvents)
}

func TestQueryCache_InvalidateUnobservedDefersFetch(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	c.Get(key, stub.fetch, GetOptions{Enabled: true})
	stub.resolve(0, "v1", nil)
	waitStatus(t, c, key, StatusSuccess)

	assert.Equal(t, 0, c.Invalidate(key))
	e, _ := c.Peek(key)
	assert.True(t, e.Stale)
	assert.Equal(t, "v1", e.Data)
	assert.Equal(t, 1, stub.Calls())

	e = c.Get(key, stub.fetch, GetOptions{Enabled: true})
	assert.Equal(t, StatusPending, e.Status)
	stub.resolve(1, "v2", nil)
	e = waitStatus(t, c, key, StatusSuccess)
	assert.Equal(t, "v2", e.Data)
}

func TestQueryCache_InvalidateWhilePendingUnobservedStaysStale(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	c.Get(key, stub.fetch, GetOptions{Enabled: true})
	waitCalls(t, stub, 1)
	c.Invalidate(key)
	stub.resolve(0, "before-mutation", nil)

	e := waitStatus(t, c, key, StatusSuccess)
	assert.True(t, e.Stale)

	c.Get(key, stub.fetch, GetOptions{Enabled: true})
	waitCalls(t, stub, 2)
	stub.resolve(1, "after-mutation", nil)
}

func TestQueryCache_InvalidatePrefix(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()

	page1 := NewKey("seller-list", "page", 1, "limit", 9)
	page2 := NewKey("seller-list", "page", 2, "limit", 9)
	other := NewKey("cart-list")

	sub := c.Observe(page1, stub.fetch, true, nil)
	defer sub.Close()
	c.Get(page2, stub.fetch, GetOptions{Enabled: false})
	c.Get(other, stub.fetch, GetOptions{Enabled: false})

	assert.Equal(t, 1, c.Invalidate(NewKey("seller-list")))

	e, _ := c.Peek(page2)
	assert.True(t, e.Stale)
	e, _ = c.Peek(other)
	assert.False(t, e.Stale)
}

func TestQueryCache_ErrorsBecomeState(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("seller-list", "page", 1, "limit", 9)

	c.Get(key, stub.fetch, GetOptions{Enabled: true})
	stub.resolve(0, nil, &RemoteError{StatusCode: 403, Message: "Access denied."})

	e := waitStatus(t, c, key, StatusError)
	assert.Equal(t, "Access denied.", e.Err)
	assert.Nil(t, e.Data)

	// An errored entry is retried by the next enabled Get
	e = c.Get(key, stub.fetch, GetOptions{Enabled: true})
	assert.Equal(t, StatusPending, e.Status)
	assert.Empty(t, e.Err)
	stub.resolve(1, nil, &NetworkError{Err: errors.New("dial tcp: refused")})

	e = waitStatus(t, c, key, StatusError)
	assert.Equal(t, GenericNetworkMessage, e.Err)
}

func TestQueryCache_CloseDoesNotAbortFetch(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	var delivered atomic.Int32
	sub := c.Observe(key, stub.fetch, true, func(Entry) { delivered.Add(1) })
	require.Equal(t, int32(1), delivered.Load())

	sub.Close()
	stub.resolve(0, "landed", nil)

	e := waitStatus(t, c, key, StatusSuccess)
	assert.Equal(t, "landed", e.Data)
	assert.Equal(t, int32(1), delivered.Load())
}

func TestQueryCache_SubscriptionSetEnabled(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-item-count")

	sub := c.Observe(key, stub.fetch, false, nil)
	defer sub.Close()
	assert.Equal(t, StatusIdle, sub.Entry().Status)
	assert.Equal(t, 0, stub.Calls())

	sub.SetEnabled(true)
	assert.True(t, sub.Enabled())
	stub.resolve(0, 1, nil)
	waitStatus(t, c, key, StatusSuccess)

	sub.SetEnabled(false)
	assert.True(t, sub.Entry().Stale)
	assert.Equal(t, 0, c.Invalidate(key))

	sub.SetEnabled(true)
	stub.resolve(1, 2, nil)
	require.Eventually(t, func() bool { return sub.Entry().Data == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, stub.Calls())
}

func TestQueryCache_ListenerMayCallBack(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	var sub *Subscription
	var seen []Status
	sub = c.Observe(key, stub.fetch, true, func(e Entry) {
		seen = append(seen, e.Status)
		if e.Status == StatusSuccess && len(seen) < 4 {
			// Re-entrant invalidation from inside a listener
			c.Invalidate(key)
		}
	})
	defer sub.Close()

	stub.resolve(0, "a", nil)
	stub.resolve(1, "b", nil)
	require.Eventually(t, func() bool { return stub.Calls() == 2 && sub.Entry().Status == StatusSuccess }, time.Second, 5*time.Millisecond)
}

func TestQueryCache_Await(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	_, err := c.Await(context.Background(), key)
	assert.ErrorIs(t, err, ErrNotObserved)

	c.Get(key, stub.fetch, GetOptions{Enabled: true})
	go stub.resolve(0, "done", nil)

	e, err := c.Await(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, e.Status)
	assert.Equal(t, "done", e.Data)
}

func TestQueryCache_AwaitFollowsSupersedingFetch(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	sub := c.Observe(key, stub.fetch, true, nil)
	defer sub.Close()
	waitCalls(t, stub, 1)
	c.Invalidate(key)
	waitCalls(t, stub, 2)

	stub.resolve(0, "old", nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		stub.resolve(1, "new", nil)
	}()

	e, err := c.Await(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "new", e.Data)
}

func TestQueryCache_AwaitHonoursContext(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	c.Get(key, stub.fetch, GetOptions{Enabled: true})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Await(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueryCache_Clear(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	observed := NewKey("cart-list")
	disabled := NewKey("seller-list", "page", 1)
	loose := NewKey("cart-item-count")

	sub := c.Observe(observed, stub.fetch, true, nil)
	defer sub.Close()
	waitCalls(t, stub, 1)

	off := c.Observe(disabled, func(context.Context) (any, error) { return "page", nil }, true, nil)
	defer off.Close()
	waitStatus(t, c, disabled, StatusSuccess)
	off.SetEnabled(false)

	c.Get(loose, func(context.Context) (any, error) { return 1, nil }, GetOptions{Enabled: true})
	waitStatus(t, c, loose, StatusSuccess)

	c.Clear()

	_, ok := c.Peek(loose)
	assert.False(t, ok)

	e, ok := c.Peek(disabled)
	require.True(t, ok)
	assert.Equal(t, StatusIdle, e.Status)
	assert.Nil(t, e.Data)

	// Observed entries are refetched at once under a new generation
	e, ok = c.Peek(observed)
	require.True(t, ok)
	assert.Equal(t, StatusPending, e.Status)
	waitCalls(t, stub, 2)

	// The fetch started before Clear belongs to a dead generation
	stub.resolve(0, "previous user", nil)
	time.Sleep(20 * time.Millisecond)
	e, _ = c.Peek(observed)
	assert.Equal(t, StatusPending, e.Status)
	assert.Nil(t, e.Data)

	stub.resolve(1, "next user", nil)
	e = waitStatus(t, c, observed, StatusSuccess)
	assert.Equal(t, "next user", e.Data)
}

func TestQueryCache_ClearRefetchesWithoutReenabling(t *testing.T) {
	c := NewQueryCache()
	var calls atomic.Int32
	key := NewKey("cart-list")

	sub := c.Observe(key, func(context.Context) (any, error) {
		return calls.Add(1), nil
	}, true, nil)
	defer sub.Close()
	waitStatus(t, c, key, StatusSuccess)

	c.Clear()
	// Same consumer stays enabled; no SetEnabled toggle follows
	sub.SetEnabled(true)

	e := waitStatus(t, c, key, StatusSuccess)
	assert.Equal(t, int32(2), e.Data)
}

func TestQueryCache_RetryPolicy(t *testing.T) {
	var calls atomic.Int32
	c := NewQueryCache(WithRetry(2, time.Millisecond))
	key := NewKey("cart-item-count")

	c.Get(key, func(context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, &NetworkError{Err: errors.New("timeout")}
		}
		return 7, nil
	}, GetOptions{Enabled: true})

	e := waitStatus(t, c, key, StatusSuccess)
	assert.Equal(t, 7, e.Data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueryCache_RetrySkipsClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := NewQueryCache(WithRetry(3, time.Millisecond))
	key := NewKey("cart-item-count")

	c.Get(key, func(context.Context) (any, error) {
		calls.Add(1)
		return nil, &RemoteError{StatusCode: 401, Message: "Unauthorized."}
	}, GetOptions{Enabled: true})

	waitStatus(t, c, key, StatusError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueryCache_FetchTimeout(t *testing.T) {
	c := NewQueryCache(WithFetchTimeout(20 * time.Millisecond))
	stub := newStubFetcher()
	key := NewKey("cart-list")

	c.Get(key, stub.fetch, GetOptions{Enabled: true})

	e := waitStatus(t, c, key, StatusError)
	assert.Equal(t, context.DeadlineExceeded.Error(), e.Err)
}

func TestQueryCache_NoTimeoutByDefault(t *testing.T) {
	c := NewQueryCache()
	stub := newStubFetcher()
	key := NewKey("cart-list")

	c.Get(key, stub.fetch, GetOptions{Enabled: true})
	time.Sleep(50 * time.Millisecond)

	e, _ := c.Peek(key)
	assert.Equal(t, StatusPending, e.Status)
	stub.resolve(0, nil, nil)
}
