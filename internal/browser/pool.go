// internal/browser/pool.go
package browser

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolShutdown is returned from pending acquisitions on graceful
// shutdown.
var ErrPoolShutdown = errors.New("browser: pool is shut down")

// Pool is a bounded-concurrency dispatcher over pages of one browser.
// Acquisition blocks until a page is free or the pool shuts down; released
// pages are reset but keep their warm state.
type Pool struct {
	browser *Browser
	sem     *semaphore.Weighted
	size    int

	mu       sync.Mutex
	idle     []*Page
	closed   bool
	shutdown chan struct{}
}

// NewPool creates a pool of up to size concurrently checked-out pages.
func NewPool(b *Browser, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		browser:  b,
		sem:      semaphore.NewWeighted(int64(size)),
		size:     size,
		shutdown: make(chan struct{}),
	}
}

// Size returns the concurrency bound.
func (p *Pool) Size() int { return p.size }

// Acquire checks out a page with exclusive ownership. It blocks until a
// slot frees up, the context is cancelled, or the pool shuts down.
func (p *Pool) Acquire(ctx context.Context) (*Page, error) {
	acquireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.shutdown:
			cancel()
		case <-acquireCtx.Done():
		}
	}()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		select {
		case <-p.shutdown:
			return nil, ErrPoolShutdown
		default:
		}
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolShutdown
	}
	var page *Page
	if n := len(p.idle); n > 0 {
		page = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if page == nil {
		page = p.browser.NewPage()
	}
	return page, nil
}

// Release returns a page, clearing its per-page mutable state. The page
// must not be used after release.
func (p *Pool) Release(page *Page) {
	if page == nil {
		return
	}
	page.Reset()
	p.mu.Lock()
	if !p.closed {
		p.idle = append(p.idle, page)
	}
	p.mu.Unlock()
	p.sem.Release(1)
}

// Shutdown stops new acquisitions; pending Acquire calls return
// ErrPoolShutdown. Idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.idle = nil
	close(p.shutdown)
}

// MapResult pairs one input with its outcome; Index matches the input
// position.
type MapResult struct {
	Index int
	URL   string
	Value any
	Err   error
}

// Map runs fn over every URL with pool-bounded concurrency. Results come
// back in input order; individual failures do not abort the batch.
func (p *Pool) Map(ctx context.Context, urls []string, fn func(ctx context.Context, page *Page, url string) (any, error)) []MapResult {
	results := make([]MapResult, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		results[i] = MapResult{Index: i, URL: u}
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			page, err := p.Acquire(ctx)
			if err != nil {
				results[i].Err = err
				return
			}
			defer p.Release(page)
			value, err := fn(ctx, page, u)
			results[i].Value = value
			results[i].Err = err
		}(i, u)
	}
	wg.Wait()
	return results
}
