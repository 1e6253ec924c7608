// Package origin tracks the site's origin servers: round-robin selection,
// health probing, and per-endpoint cooldown after repeated failures. The
// offline-to-online transition it detects is what wakes the background sync
// drain, standing in for the platform's connectivity-restored event.
package origin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"mahgate/internal/metrics"
)

type Endpoint struct {
	URL   *url.URL
	Alive bool

	hcFailures  int
	hcSuccesses int

	cbFailures       int
	circuitOpenUntil time.Time
}

type HealthCheckConfig struct {
	Path               string
	Interval           time.Duration
	Timeout            time.Duration
	UnhealthyThreshold int
	HealthyThreshold   int
}

type CooldownConfig struct {
	ConsecutiveFailures int
	Cooldown            time.Duration
}

type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	idx       int
	online    bool

	healthCfg *HealthCheckConfig
	cbCfg     CooldownConfig

	subs []chan struct{}
}

func NewPool(rawEndpoints []string, hc *HealthCheckConfig) (*Pool, error) {
	if len(rawEndpoints) == 0 {
		return nil, errors.New("origin pool needs at least one endpoint")
	}

	var endpoints []*Endpoint
	for _, raw := range rawEndpoints {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse origin endpoint %q: %w", raw, err)
		}
		endpoints = append(endpoints, &Endpoint{URL: u, Alive: true})
	}

	return &Pool{
		endpoints: endpoints,
		online:    true,
		healthCfg: hc,
		cbCfg: CooldownConfig{
			ConsecutiveFailures: 3,
			Cooldown:            15 * time.Second,
		},
	}, nil
}

// Pick returns the next usable endpoint in round-robin order, skipping
// endpoints that are unhealthy or cooling down.
func (p *Pool) Pick() (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	now := time.Now()

	for i := 0; i < n; i++ {
		ep := p.endpoints[p.idx]
		p.idx = (p.idx + 1) % n

		if !ep.Alive {
			continue
		}
		if !ep.circuitOpenUntil.IsZero() {
			if now.Before(ep.circuitOpenUntil) {
				continue
			}
			ep.circuitOpenUntil = time.Time{}
			ep.cbFailures = 0
		}
		return ep, nil
	}

	return nil, errors.New("origin has no usable endpoints")
}

func (p *Pool) ReportSuccess(ep *Endpoint) {
	p.mu.Lock()
	ep.cbFailures = 0
	wasOffline := !p.online
	p.online = true
	p.mu.Unlock()

	// A successful proxied request is as good as a probe.
	if wasOffline {
		p.notify()
	}
}

func (p *Pool) ReportFailure(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep.cbFailures++
	if ep.cbFailures >= p.cbCfg.ConsecutiveFailures {
		ep.circuitOpenUntil = time.Now().Add(p.cbCfg.Cooldown)
	}
}

// Online reports the pool's last known connectivity state.
func (p *Pool) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// OnlineEvents returns a channel that receives a value each time the origin
// transitions from unreachable back to reachable.
func (p *Pool) OnlineEvents() <-chan struct{} {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

func (p *Pool) notify() {
	p.mu.Lock()
	subs := append([]chan struct{}(nil), p.subs...)
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (p *Pool) StartHealthChecks(ctx context.Context, client *http.Client) {
	if p.healthCfg == nil {
		return
	}

	hc := *p.healthCfg
	if hc.Interval <= 0 {
		hc.Interval = 10 * time.Second
	}
	if hc.Timeout <= 0 {
		hc.Timeout = 1 * time.Second
	}
	if hc.UnhealthyThreshold <= 0 {
		hc.UnhealthyThreshold = 3
	}
	if hc.HealthyThreshold <= 0 {
		hc.HealthyThreshold = 1
	}

	ticker := time.NewTicker(hc.Interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.runHealthChecks(client, hc)
			}
		}
	}()
}

func (p *Pool) runHealthChecks(client *http.Client, hc HealthCheckConfig) {
	p.mu.Lock()
	endpoints := append([]*Endpoint(nil), p.endpoints...)
	p.mu.Unlock()

	for _, ep := range endpoints {
		urlCopy := *ep.URL
		urlCopy.Path = hc.Path

		hctx, cancel := context.WithTimeout(context.Background(), hc.Timeout)
		req, err := http.NewRequestWithContext(hctx, http.MethodGet, urlCopy.String(), nil)
		if err != nil {
			cancel()
			continue
		}

		resp, err := client.Do(req)
		ok := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 400
		if resp != nil {
			_ = resp.Body.Close()
		}
		cancel()

		p.mu.Lock()
		if ok {
			ep.hcFailures = 0
			ep.hcSuccesses++
			if ep.hcSuccesses >= hc.HealthyThreshold {
				ep.Alive = true
			}
		} else {
			ep.hcSuccesses = 0
			ep.hcFailures++
			if ep.hcFailures >= hc.UnhealthyThreshold {
				ep.Alive = false
			}
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	unhealthy := 0
	anyAlive := false
	for _, ep := range p.endpoints {
		if ep.Alive {
			anyAlive = true
		} else {
			unhealthy++
		}
	}
	wasOnline := p.online
	p.online = anyAlive
	p.mu.Unlock()

	metrics.SetOriginUnhealthy(float64(unhealthy))

	if !wasOnline && anyAlive {
		p.notify()
	}
}

// MarkOffline forces the offline state, used when every endpoint refuses
// connections before the next probe tick runs.
func (p *Pool) MarkOffline() {
	p.mu.Lock()
	p.online = false
	p.mu.Unlock()
}
