package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mahgate/internal/cache"
	"mahgate/internal/logging"
	"mahgate/internal/origin"
)

// Lifecycle owns a cache version from warm-up to eviction. Install fills the
// version with the precache manifest and is all-or-nothing; Activate makes
// the version the only one on disk; Refresh re-fetches same-origin assets in
// place.
type Lifecycle struct {
	Root   string
	Store  *cache.VersionedStore
	Origin *origin.Pool
	Client *http.Client
	Logger logging.Logger

	// Manifest lists the assets warmed at install time. Local paths are
	// resolved against the origin and served on the proxy path; absolute
	// URLs (font and icon stylesheets) are fetched as-is and stored under
	// their full-URL keys. Those entries exist so an install only succeeds
	// when the complete offline set is retrievable — the proxy path only
	// sees same-origin request URIs and never serves them.
	Manifest []string

	OfflineFallback string
}

// Install warms the store with every manifest asset. Any failure aborts the
// whole install: a version either holds the complete manifest or is never
// marked installed.
func (l *Lifecycle) Install(ctx context.Context) error {
	for _, asset := range l.manifest() {
		ent, err := l.fetchAsset(ctx, asset)
		if err != nil {
			return fmt.Errorf("install %s: fetch %s: %w", l.Store.Version(), asset, err)
		}
		if ent.Status != http.StatusOK {
			return fmt.Errorf("install %s: fetch %s: status %d", l.Store.Version(), asset, ent.Status)
		}
		if err := l.Store.Put(ctx, cache.Key(http.MethodGet, asset), ent); err != nil {
			return fmt.Errorf("install %s: %w", l.Store.Version(), err)
		}
	}

	if err := l.Store.MarkInstalled(); err != nil {
		return err
	}
	l.Logger.Info("cache version installed", "version", l.Store.Version(), "assets", len(l.manifest()))
	return nil
}

// Activate promotes the installed version and drops every other one.
func (l *Lifecycle) Activate(ctx context.Context) error {
	if !l.Store.Installed() {
		return fmt.Errorf("activate %s: version is not installed", l.Store.Version())
	}
	if err := cache.DropOtherVersions(l.Root, l.Store.Version()); err != nil {
		return err
	}
	l.Logger.Info("cache version activated", "version", l.Store.Version())
	return nil
}

// Refresh re-fetches the same-origin manifest assets and overwrites their
// entries. Unlike Install, per-asset failures are tolerated: a stale entry
// beats no entry.
func (l *Lifecycle) Refresh(ctx context.Context) {
	for _, asset := range l.manifest() {
		if strings.HasPrefix(asset, "http://") || strings.HasPrefix(asset, "https://") {
			continue
		}
		ent, err := l.fetchAsset(ctx, asset)
		if err != nil || ent.Status != http.StatusOK {
			l.Logger.Error("refresh skipped", "asset", asset)
			continue
		}
		if err := l.Store.Put(ctx, cache.Key(http.MethodGet, asset), ent); err != nil {
			l.Logger.Error("refresh write failed", "asset", asset, "err", err.Error())
		}
	}
}

func (l *Lifecycle) manifest() []string {
	for _, asset := range l.Manifest {
		if asset == l.OfflineFallback {
			return l.Manifest
		}
	}
	return append(append([]string(nil), l.Manifest...), l.OfflineFallback)
}

func (l *Lifecycle) fetchAsset(ctx context.Context, asset string) (cache.Entry, error) {
	target := asset
	var ep *origin.Endpoint

	if !strings.HasPrefix(asset, "http://") && !strings.HasPrefix(asset, "https://") {
		picked, err := l.Origin.Pick()
		if err != nil {
			return cache.Entry{}, err
		}
		ep = picked
		target = ep.URL.String() + asset
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return cache.Entry{}, err
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		if ep != nil {
			l.Origin.ReportFailure(ep)
		}
		return cache.Entry{}, err
	}
	defer resp.Body.Close()
	if ep != nil {
		l.Origin.ReportSuccess(ep)
	}

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
