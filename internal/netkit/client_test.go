// internal/netkit/client_test.go
package netkit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FollowsRedirectsAndCollectsCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "hop1", Value: "a"})
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "hop2", Value: "b"})
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("done"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	jar := NewCookieJar()
	client := NewClient(NewClientConfig(), jar)
	resp, err := client.Do(context.Background(), get(t, server.URL+"/start"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "done", string(resp.Body))
	assert.Equal(t, "/end", resp.FinalURL.Path)

	// Every hop's Set-Cookie landed in the jar.
	header := jar.HeaderFor(resp.FinalURL, SendContext{})
	assert.Contains(t, header, "hop1=a")
	assert.Contains(t, header, "hop2=b")
}

func TestClient_RedirectLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, fmt.Sprintf("/again%d", len(r.URL.Path)), http.StatusFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := NewClientConfig()
	cfg.MaxRedirects = 3
	client := NewClient(cfg, NewCookieJar())
	_, err := client.Do(context.Background(), get(t, server.URL+"/"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirects")
}

func TestClient_SeeOtherDowngradesToGet(t *testing.T) {
	var methods []string
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		http.Redirect(w, r, "/result", http.StatusSeeOther)
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewClient(NewClientConfig(), NewCookieJar())
	req := get(t, server.URL+"/submit")
	req.Method = http.MethodPost
	req.Body = []byte("a=1")
	_, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodPost, http.MethodGet}, methods)
}

func TestClient_BodyTruncationFlagged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 1024; i++ {
			w.Write([]byte("0123456789"))
		}
	}))
	t.Cleanup(server.Close)

	cfg := NewClientConfig()
	cfg.MaxBodySize = 1000
	client := NewClient(cfg, NewCookieJar())
	resp, err := client.Do(context.Background(), get(t, server.URL))
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Len(t, resp.Body, 1000)
}

func TestClient_UserAgentDefaultApplied(t *testing.T) {
	var ua string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	t.Cleanup(server.Close)

	cfg := NewClientConfig()
	cfg.UserAgent = "kalamari-test/9"
	client := NewClient(cfg, NewCookieJar())
	_, err := client.Do(context.Background(), get(t, server.URL))
	require.NoError(t, err)
	assert.Equal(t, "kalamari-test/9", ua)
}

func TestEventLog_MonotonicIDsAndCap(t *testing.T) {
	log := NewEventLog(5)
	var last uint64
	for i := 0; i < 8; i++ {
		id := log.NextCorrelationID()
		require.Greater(t, id, last)
		last = id
		log.Record(NetworkEvent{Request: &Request{CorrelationID: id}})
	}
	assert.Equal(t, 5, log.Len())
	assert.Equal(t, 3, log.Dropped())

	events := log.Snapshot()
	var prev uint64
	for _, ev := range events {
		assert.Greater(t, ev.Request.CorrelationID, prev)
		prev = ev.Request.CorrelationID
	}
}

func TestHeaders_OrderedMultimap(t *testing.T) {
	var h Headers
	h.Add("X-A", "1")
	h.Add("x-a", "2")
	h.Add("X-B", "3")

	assert.Equal(t, "1", h.Get("X-A"))
	assert.Equal(t, []string{"1", "2"}, h.Values("x-A"))

	h.Set("X-A", "only")
	assert.Equal(t, []string{"only"}, h.Values("X-A"))
	// Set appends at the end; X-B keeps its position.
	assert.Equal(t, "X-B", h[0].Name)

	h.Del("X-B")
	assert.Empty(t, h.Get("X-B"))
}
