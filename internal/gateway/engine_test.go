package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mahgate/internal/cache"
	"mahgate/internal/logging"
	"mahgate/internal/origin"
)

// memStore is an in-memory cache.Store for engine tests. The real store is
// leveldb-backed; the engine only sees the interface.
type memStore struct {
	mu sync.Mutex
	m  map[string]cache.Entry
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string]cache.Entry)}
}

func (s *memStore) Get(ctx context.Context, key string) (cache.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.m[key]
	return ent, ok
}

func (s *memStore) Put(ctx context.Context, key string, ent cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = ent
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memStore) Keys(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	return out
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func newTestEngine(t *testing.T, originURL string, routes []Route) (*Engine, *memStore) {
	t.Helper()
	pool, err := origin.NewPool([]string{originURL}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	store := newMemStore()
	e := NewEngine(NewDirector(routes), store, pool, http.DefaultTransport, logging.NewNop())
	return e, store
}

// waitForEntry polls for a detached cache write; the engine does not wait
// for the write before answering.
func waitForEntry(t *testing.T, store *memStore, key string) cache.Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ent, ok := store.Get(context.Background(), key); ok {
			return ent
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cache entry %q never appeared", key)
	return cache.Entry{}
}

func TestCacheHitSkipsNetwork(t *testing.T) {
	var originCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originCalls.Add(1)
		io.WriteString(w, "live")
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, nil)
	key := cache.Key(http.MethodGet, "/css/style.css")
	store.Put(context.Background(), key, cache.Entry{
		Status: 200,
		Header: http.Header{"Content-Type": {"text/css"}},
		Body:   []byte("body{color:#333}"),
	})

	req := httptest.NewRequest(http.MethodGet, "/css/style.css", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "body{color:#333}" {
		t.Errorf("body = %q, want cached body", got)
	}
	if got := rec.Header().Get("X-Mahgate"); got != "hit" {
		t.Errorf("X-Mahgate = %q, want hit", got)
	}
	if originCalls.Load() != 0 {
		t.Errorf("origin was contacted %d times on a cache hit", originCalls.Load())
	}
}

func TestMissFetchesAndCachesAsync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>fresh</html>")
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "<html>fresh</html>" {
		t.Errorf("body = %q, want live body", got)
	}
	if got := rec.Header().Get("X-Mahgate"); got != "miss" {
		t.Errorf("X-Mahgate = %q, want miss", got)
	}

	ent := waitForEntry(t, store, cache.Key(http.MethodGet, "/index.html"))
	if string(ent.Body) != "<html>fresh</html>" {
		t.Errorf("cached body = %q, want live body", ent.Body)
	}
}

func TestNonSuccessResponsesAreNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope.html", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404 passed through", rec.Code)
	}

	// The write is detached, give an erroneous one time to land.
	time.Sleep(50 * time.Millisecond)
	if n := store.len(); n != 0 {
		t.Errorf("store holds %d entries after a 404, want 0", n)
	}
}

func TestOversizedResponsesAreNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 64))
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, nil)
	e.MaxCacheBodySize = 16

	req := httptest.NewRequest(http.MethodGet, "/big.bin", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 64 {
		t.Errorf("body length = %d, want full 64 bytes served", rec.Body.Len())
	}

	time.Sleep(50 * time.Millisecond)
	if n := store.len(); n != 0 {
		t.Errorf("store holds %d entries for an oversized body, want 0", n)
	}
}

func TestOfflineNavigationGetsFallbackDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	e, store := newTestEngine(t, srv.URL, nil)
	store.Put(context.Background(), cache.Key(http.MethodGet, "/offline.html"), cache.Entry{
		Status: 200,
		Header: http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:   []byte("<html>offline</html>"),
	})

	req := httptest.NewRequest(http.MethodGet, "/contact.html", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200 from the offline document", rec.Code)
	}
	if got := rec.Body.String(); got != "<html>offline</html>" {
		t.Errorf("body = %q, want offline document", got)
	}
	if got := rec.Header().Get("X-Mahgate"); got != "offline" {
		t.Errorf("X-Mahgate = %q, want offline", got)
	}
}

func TestOfflineAssetGets503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	e, _ := newTestEngine(t, srv.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/js/main.js", nil)
	req.Header.Set("Accept", "*/*")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("offline response has no body")
	}
}

func TestOfflineNavigationWithoutFallbackStillSettles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	e, _ := newTestEngine(t, srv.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/contact.html", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when the fallback was never cached", rec.Code)
	}
}

func TestPostPassesThroughUncached(t *testing.T) {
	var sawMethod, sawBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		sawBody = string(b)
		io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/request", strings.NewReader(`{"fullName":"T"}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if sawMethod != http.MethodPost {
		t.Errorf("origin saw method %q, want POST", sawMethod)
	}
	if sawBody != `{"fullName":"T"}` {
		t.Errorf("origin saw body %q", sawBody)
	}
	if got := rec.Header().Get("X-Mahgate"); got != "bypass" {
		t.Errorf("X-Mahgate = %q, want bypass", got)
	}

	time.Sleep(50 * time.Millisecond)
	if n := store.len(); n != 0 {
		t.Errorf("store holds %d entries after a POST, want 0", n)
	}
}

func TestBypassRouteSkipsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "uncacheable")
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, []Route{
		{Prefix: "/api/", Bypass: true},
	})
	store.Put(context.Background(), cache.Key(http.MethodGet, "/api/orders"), cache.Entry{
		Status: 200,
		Header: http.Header{},
		Body:   []byte("stale"),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Body.String(); got != "uncacheable" {
		t.Errorf("body = %q, bypass route must not serve from cache", got)
	}
}

func TestPostWhileOfflineGets502(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	e, _ := newTestEngine(t, srv.URL, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/request", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if got := rec.Header().Get("X-Mahgate"); got != "bad-gateway" {
		t.Errorf("X-Mahgate = %q, want bad-gateway", got)
	}
}
