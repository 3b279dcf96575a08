// internal/browser/pool_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/squidsec/kalamari/internal/config"
)

func TestMain(m *testing.M) {
	// Pool and page tests spawn goroutines; none may outlive the run.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func TestPool_AcquireReleaseCycle(t *testing.T) {
	pool := NewPool(newTestBrowser(t), 2)
	defer pool.Shutdown()

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, a, b)

	pool.Release(a)
	pool.Release(b)

	// Released pages come back reset and warm.
	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateNew, c.State())
	pool.Release(c)
}

func TestPool_AcquireBlocksUntilRelease(t *testing.T) {
	pool := NewPool(newTestBrowser(t), 1)
	defer pool.Shutdown()

	page, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan *Page)
	go func() {
		p, err := pool.Acquire(context.Background())
		if err != nil {
			close(acquired)
			return
		}
		acquired <- p
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the pool is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(page)
	select {
	case p := <-acquired:
		require.NotNil(t, p)
		pool.Release(p)
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestPool_ShutdownFailsPendingAcquires(t *testing.T) {
	pool := NewPool(newTestBrowser(t), 1)
	page, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	pool.Shutdown()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolShutdown)
	case <-time.After(time.Second):
		t.Fatal("pending acquire did not observe shutdown")
	}
	pool.Release(page)
}

func TestPool_MapPreservesOrderAndIsolatesFailures(t *testing.T) {
	var counter atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body id=%q></body></html>", r.URL.Path)
	}))
	t.Cleanup(server.Close)

	pool := NewPool(newTestBrowser(t), 3)
	defer pool.Shutdown()

	urls := []string{
		server.URL + "/0",
		"http://127.0.0.1:1/broken",
		server.URL + "/2",
		server.URL + "/3",
	}
	results := pool.Map(context.Background(), urls, func(ctx context.Context, page *Page, u string) (any, error) {
		counter.Add(1)
		if err := page.Navigate(ctx, u); err != nil {
			return nil, err
		}
		return page.URL().Path, nil
	})

	require.Len(t, results, 4)
	assert.Equal(t, int64(4), counter.Load(), "a failing task must not abort the batch")
	assert.Equal(t, "/0", results[0].Value)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "/2", results[2].Value)
	assert.Equal(t, "/3", results[3].Value)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
}

func TestCrawler_BoundedBFS(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/a">a</a> <a href="/b">b</a>
			<a href="http://other.invalid/外">offsite</a>
		</body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/deep">deep</a></body></html>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>bee</title></head><body></body></html>`)
	})
	mux.HandleFunc("/deep", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>bottom</body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	pool := NewPool(newTestBrowser(t), 2)
	defer pool.Shutdown()

	crawler, err := NewCrawler(config.CrawlConfig{
		MaxDepth:       1,
		MaxPages:       10,
		SameDomainOnly: true,
	}, pool, zap.NewNop())
	require.NoError(t, err)

	result, err := crawler.Crawl(context.Background(), server.URL+"/")
	require.NoError(t, err)

	visited := map[string]bool{}
	for _, p := range result.Pages {
		visited[p.URL] = true
	}
	assert.True(t, visited[server.URL+"/"])
	assert.True(t, visited[server.URL+"/a"])
	assert.True(t, visited[server.URL+"/b"])
	// Depth 1 stops before /deep; offsite links never enter the frontier.
	assert.False(t, visited[server.URL+"/deep"])
	assert.Len(t, result.Pages, 3)
}

func TestCrawler_MaxPagesCap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>`)
		for i := 0; i < 20; i++ {
			fmt.Fprintf(w, `<a href="/p%d">%d</a>`, i, i)
		}
		fmt.Fprint(w, `</body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	pool := NewPool(newTestBrowser(t), 2)
	defer pool.Shutdown()

	crawler, err := NewCrawler(config.CrawlConfig{MaxDepth: 3, MaxPages: 5, SameDomainOnly: true}, pool, zap.NewNop())
	require.NoError(t, err)

	result, err := crawler.Crawl(context.Background(), server.URL+"/")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Pages), 5)
}
