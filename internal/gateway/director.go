package gateway

import (
	"net"
	"net/http"
	"strings"
)

// Route maps a path prefix to a caching decision. First match wins, so more
// specific prefixes go first.
type Route struct {
	Prefix       string
	CacheEnabled bool
	Bypass       bool
}

type RouteMeta struct {
	RouteName    string
	CacheEnabled bool
	Bypass       bool
}

type Director struct {
	Routes []Route
}

func NewDirector(routes []Route) *Director {
	return &Director{Routes: routes}
}

// Direct clones the request for the origin and decides how it is handled.
// Unlisted paths fall back to a cache-enabled default: the gateway answers
// every request, there is no unrouted 502.
func (d *Director) Direct(req *http.Request) (*http.Request, RouteMeta) {
	meta := RouteMeta{
		RouteName:    "/",
		CacheEnabled: true,
	}

	for i := range d.Routes {
		if strings.HasPrefix(req.URL.Path, d.Routes[i].Prefix) {
			meta.RouteName = d.Routes[i].Prefix
			meta.CacheEnabled = d.Routes[i].CacheEnabled
			meta.Bypass = d.Routes[i].Bypass
			break
		}
	}

	// Anything that is not plain http(s) is none of our business.
	if s := req.URL.Scheme; s != "" && s != "http" && s != "https" {
		meta.Bypass = true
		meta.CacheEnabled = false
	}

	outReq := req.Clone(req.Context())

	rawAddr := req.RemoteAddr
	if parts := strings.SplitN(rawAddr, "://", 2); len(parts) == 2 {
		rawAddr = parts[1]
	}
	clientIP := ""
	if host, _, err := net.SplitHostPort(rawAddr); err == nil {
		clientIP = host
	} else if strings.Contains(err.Error(), "missing port in address") {
		clientIP = rawAddr
	}

	if clientIP != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			outReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}

	return outReq, meta
}
