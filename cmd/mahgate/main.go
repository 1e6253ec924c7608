package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mahgate/internal/cache"
	"mahgate/internal/config"
	"mahgate/internal/form"
	"mahgate/internal/gateway"
	"mahgate/internal/logging"
	"mahgate/internal/metrics"
	"mahgate/internal/middleware"
	"mahgate/internal/origin"
	"mahgate/internal/queue"
	"mahgate/internal/syncer"
	"mahgate/internal/upstream"
)

func main() {
	configPath := flag.String("config", "./configs/mahgate.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	metrics.Init()
	logger := logging.New()

	var hc *origin.HealthCheckConfig
	if cfg.Origin.HealthCheck != nil {
		hc = &origin.HealthCheckConfig{
			Path:               cfg.Origin.HealthCheck.Path,
			Interval:           cfg.Origin.HealthCheck.Interval,
			Timeout:            cfg.Origin.HealthCheck.Timeout,
			UnhealthyThreshold: cfg.Origin.HealthCheck.UnhealthyThreshold,
			HealthyThreshold:   cfg.Origin.HealthCheck.HealthyThreshold,
		}
	}
	pool, err := origin.NewPool(cfg.Origin.Endpoints, hc)
	if err != nil {
		log.Fatalf("origin pool: %v", err)
	}
	pool.StartHealthChecks(bgCtx, &http.Client{})

	transport := upstream.NewTransport()
	client := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	store, lifecycle, err := bringUpCache(bgCtx, cfg, pool, client, logger)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer store.Close()

	q, err := queue.Open(cfg.Queue.Dir)
	if err != nil {
		log.Fatalf("open queue: %v", err)
	}
	defer q.Close()

	sync := syncer.New(q, client, logger, cfg.Queue.SyncTag)
	go sync.Run(bgCtx, pool.OnlineEvents(), cfg.Queue.DrainInterval)

	if cfg.Cache.RefreshEvery > 0 {
		go refreshLoop(bgCtx, lifecycle, cfg.Cache.RefreshEvery)
	}

	var routes []gateway.Route
	for _, r := range cfg.Routes {
		routes = append(routes, gateway.Route{
			Prefix:       r.PathPrefix,
			CacheEnabled: cfg.RouteCacheEnabled(r),
			Bypass:       r.Bypass,
		})
	}

	engine := gateway.NewEngine(gateway.NewDirector(routes), store, pool, transport, logger)
	engine.MaxCacheBodySize = cfg.Cache.MaxBodyBytes
	engine.OfflineFallback = cfg.Cache.OfflineFallback

	var mws []middleware.Middleware
	if len(cfg.Server.IPBlockCIDRs) > 0 {
		ipMw, err := middleware.IPFilter(logger, cfg.Server.IPBlockCIDRs)
		if err != nil {
			log.Fatalf("invalid ipBlockCIDRs: %v", err)
		}
		mws = append(mws, ipMw)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", middleware.Chain(engine, mws...))

	// Form posts go through the submitter, not the plain proxy path: when
	// the endpoint is unreachable they land in the durable queue and the
	// syncer delivers them once the origin comes back.
	if cfg.Submit.Endpoint != "" {
		u, err := url.Parse(cfg.Submit.Endpoint)
		if err != nil || u.Path == "" {
			log.Fatalf("invalid submit.endpoint %q: %v", cfg.Submit.Endpoint, err)
		}
		submitter := form.NewSubmitter(cfg.Submit.Endpoint, client, q, sync, logger)
		mux.Handle(u.Path, middleware.Chain(&form.Handler{Submitter: submitter}, mws...))
	}

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
	}

	go func() {
		log.Printf("Listening on %s (cache version %s)", srv.Addr, store.Version())
		if cfg.Server.TLS.Enabled {
			if err := srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile); err != nil && err != http.ErrServerClosed {
				log.Fatalf("server TLS error: %v", err)
			}
		} else {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("server error: %v", err)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// bringUpCache installs and activates the configured cache version. When the
// warm-up fails and an older installed version is still on disk, that
// version keeps serving, mirroring how a browser keeps the previous worker
// when a new one fails to install.
func bringUpCache(ctx context.Context, cfg *config.Config, pool *origin.Pool, client *http.Client, logger logging.Logger) (*cache.VersionedStore, *gateway.Lifecycle, error) {
	root := cfg.Cache.Dir

	store, err := cache.Open(root, cfg.Cache.Version)
	if err != nil {
		return nil, nil, err
	}

	lc := &gateway.Lifecycle{
		Root:            root,
		Store:           store,
		Origin:          pool,
		Client:          client,
		Logger:          logger,
		Manifest:        cfg.Cache.Precache,
		OfflineFallback: cfg.Cache.OfflineFallback,
	}

	if store.Installed() {
		if err := lc.Activate(ctx); err != nil {
			return nil, nil, err
		}
		return store, lc, nil
	}

	if err := lc.Install(ctx); err != nil {
		logger.Error("install failed, looking for a previous version", "version", cfg.Cache.Version, "err", err.Error())
		_ = store.Close()
		if rmErr := cache.Remove(root, cfg.Cache.Version); rmErr != nil {
			return nil, nil, rmErr
		}
		return fallbackCache(cfg, pool, client, logger)
	}

	if err := lc.Activate(ctx); err != nil {
		return nil, nil, err
	}
	return store, lc, nil
}

func fallbackCache(cfg *config.Config, pool *origin.Pool, client *http.Client, logger logging.Logger) (*cache.VersionedStore, *gateway.Lifecycle, error) {
	root := cfg.Cache.Dir
	versions, err := cache.Versions(root)
	if err != nil {
		return nil, nil, err
	}

	for i := len(versions) - 1; i >= 0; i-- {
		if !cache.Installed(root, versions[i]) {
			continue
		}
		store, err := cache.Open(root, versions[i])
		if err != nil {
			continue
		}
		logger.Info("serving previous cache version", "version", versions[i])
		lc := &gateway.Lifecycle{
			Root:            root,
			Store:           store,
			Origin:          pool,
			Client:          client,
			Logger:          logger,
			Manifest:        cfg.Cache.Precache,
			OfflineFallback: cfg.Cache.OfflineFallback,
		}
		return store, lc, nil
	}

	return nil, nil, errors.New("install failed and no previous cache version is available")
}

func refreshLoop(ctx context.Context, lc *gateway.Lifecycle, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lc.Refresh(ctx)
		}
	}
}
