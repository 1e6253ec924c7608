package gateway

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mahgate/internal/cache"
	"mahgate/internal/logging"
	"mahgate/internal/metrics"
	"mahgate/internal/origin"
)

const offlineBody = "Sorry, you are offline. The page will be available again once the connection returns."

// Engine intercepts requests in front of the origin. GETs are served
// cache-first with no freshness check; everything else passes straight
// through. Every branch writes some response, errors never reach the client
// as a hung connection.
type Engine struct {
	Director  *Director
	Cache     cache.Store
	Origin    *origin.Pool
	Transport http.RoundTripper
	Logger    logging.Logger

	// MaxCacheBodySize caps what the lazy path will snapshot. Bigger
	// responses are still served, just not stored.
	MaxCacheBodySize int64

	// OfflineFallback is the precached document path served to HTML
	// navigations when both cache and network come up empty.
	OfflineFallback string
}

func NewEngine(d *Director, store cache.Store, pool *origin.Pool, transport http.RoundTripper, logger logging.Logger) *Engine {
	return &Engine{
		Director:         d,
		Cache:            store,
		Origin:           pool,
		Transport:        transport,
		Logger:           logger,
		MaxCacheBodySize: 1 << 20,
		OfflineFallback:  "/offline.html",
	}
}

func (e *Engine) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	start := time.Now()
	outReq, meta := e.Director.Direct(req)

	code := e.serve(rw, outReq, meta)
	metrics.ObserveRequest(meta.RouteName, req.Method, strconv.Itoa(code), time.Since(start))
}

func (e *Engine) serve(rw http.ResponseWriter, req *http.Request, meta RouteMeta) int {
	ctx := req.Context()

	// Mutating requests are never served from cache and never cached.
	if req.Method != http.MethodGet || meta.Bypass || !meta.CacheEnabled {
		return e.passThrough(rw, req)
	}

	key := cache.Key(http.MethodGet, req.URL.RequestURI())

	if ent, ok := e.Cache.Get(ctx, key); ok {
		metrics.IncCacheHit(meta.RouteName)
		return writeEntry(rw, ent, "hit")
	}
	metrics.IncCacheMiss(meta.RouteName)

	ent, err := e.fetchOrigin(req)
	if err != nil {
		e.Logger.Error("origin fetch failed", "path", req.URL.Path, "err", err.Error())
		return e.serveOffline(rw, req)
	}

	if ent.Status == http.StatusOK && int64(len(ent.Body)) <= e.MaxCacheBodySize {
		// Detached write: the response goes out now, the snapshot lands
		// whenever it lands.
		entCopy := ent
		go func() {
			if err := e.Cache.Put(context.Background(), key, entCopy); err != nil {
				e.Logger.Error("cache write failed", "key", key, "err", err.Error())
			}
		}()
	}

	return writeEntry(rw, ent, "miss")
}

// passThrough proxies the request without consulting the cache.
func (e *Engine) passThrough(rw http.ResponseWriter, req *http.Request) int {
	ep, err := e.Origin.Pick()
	if err != nil {
		return writeBadGateway(rw)
	}

	outReq, err := e.originRequest(req, ep)
	if err != nil {
		return writeBadGateway(rw)
	}

	resp, err := e.Transport.RoundTrip(outReq)
	if err != nil {
		e.Origin.ReportFailure(ep)
		e.Origin.MarkOffline()
		return writeBadGateway(rw)
	}
	defer resp.Body.Close()
	e.Origin.ReportSuccess(ep)

	copyHeader(rw.Header(), resp.Header)
	rw.Header().Set("X-Mahgate", "bypass")
	rw.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(rw, resp.Body)
	return resp.StatusCode
}

func (e *Engine) fetchOrigin(req *http.Request) (cache.Entry, error) {
	ep, err := e.Origin.Pick()
	if err != nil {
		return cache.Entry{}, err
	}

	outReq, err := e.originRequest(req, ep)
	if err != nil {
		return cache.Entry{}, err
	}

	resp, err := e.Transport.RoundTrip(outReq)
	if err != nil {
		e.Origin.ReportFailure(ep)
		e.Origin.MarkOffline()
		return cache.Entry{}, err
	}
	defer resp.Body.Close()
	e.Origin.ReportSuccess(ep)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cache.Entry{}, err
	}

	ent := cache.Entry{
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now().Unix(),
	}
	ent.Header.Del("Content-Length")
	return ent, nil
}

func (e *Engine) originRequest(req *http.Request, ep *origin.Endpoint) (*http.Request, error) {
	target := ep.URL.String() + req.URL.RequestURI()
	outReq, err := http.NewRequestWithContext(req.Context(), req.Method, target, req.Body)
	if err != nil {
		return nil, err
	}
	copyRequestHeader(outReq.Header, req.Header)
	return outReq, nil
}

// serveOffline is the terminal fallback: the cached offline document for
// HTML navigations, a plain 503 for everything else.
func (e *Engine) serveOffline(rw http.ResponseWriter, req *http.Request) int {
	metrics.IncOfflineResponse()

	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		key := cache.Key(http.MethodGet, e.OfflineFallback)
		if ent, ok := e.Cache.Get(req.Context(), key); ok {
			return writeEntry(rw, ent, "offline")
		}
	}

	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.Header().Set("X-Mahgate", "offline")
	rw.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(rw, offlineBody)
	return http.StatusServiceUnavailable
}

func writeBadGateway(rw http.ResponseWriter) int {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.Header().Set("X-Mahgate", "bad-gateway")
	rw.WriteHeader(http.StatusBadGateway)
	_, _ = io.WriteString(rw, "bad gateway")
	return http.StatusBadGateway
}

func writeEntry(rw http.ResponseWriter, ent cache.Entry, state string) int {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, "X-Mahgate") {
			continue
		}
		for _, v := range vs {
			rw.Header().Add(k, v)
		}
	}
	rw.Header().Set("X-Mahgate", state)
	rw.WriteHeader(ent.Status)
	_, _ = rw.Write(ent.Body)
	return ent.Status
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func copyRequestHeader(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
