// Package health serves liveness and readiness probes for the checkout API.
//
// Every probe runs on its own ticker. A probe turns unhealthy after
// FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive successes, so a single slow ping does not pull
// the instance out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked dependency is healthy.
type CheckFunc func(ctx context.Context) error

// Probe describes one registered check. Zero thresholds default to 3 failures
// and 1 success.
type Probe struct {
	Name             string
	Timeout          time.Duration
	Check            CheckFunc
	FailureThreshold int
	SuccessThreshold int
}

// probe is a Probe plus its runtime state. Counters are owned by the single
// goroutine calling run; healthy and lastErr are read by handlers.
type probe struct {
	Probe

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func newProbe(p Probe) *probe {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 3
	}
	if p.SuccessThreshold <= 0 {
		p.SuccessThreshold = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = time.Second
	}
	c := &probe{Probe: p}
	c.healthy.Store(true)
	return c
}

func (c *probe) isHealthy() bool { return c.healthy.Load() }

func (c *probe) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	err := c.Check(ctx)
	c.lastErr.Store(&err)

	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.FailureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.oks++
	if c.oks >= c.SuccessThreshold {
		c.healthy.Store(true)
	}
}

// Health holds the liveness and readiness probes of one process.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New creates a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLiveness registers a probe that decides whether the process should be
// restarted.
func (h *Health) AddLiveness(p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(p))
}

// AddReadiness registers a probe that decides whether the instance should
// receive traffic.
func (h *Health) AddReadiness(p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(p))
}

// Start runs every registered probe every interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, 0, len(h.liveness)+len(h.readiness))
	probes = append(probes, h.liveness...)
	probes = append(probes, h.readiness...)
	h.mu.Unlock()

	for _, c := range probes {
		go loop(ctx, c, interval)
	}
}

func loop(ctx context.Context, c *probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

// Stop halts the probe goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. The server sets it after wiring
// and clears it when draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness probe passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(false) {
		if !c.isHealthy() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(live bool) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()
	src := h.readiness
	if live {
		src = h.liveness
	}
	out := make([]*probe, len(src))
	copy(out, src)
	return out
}

// Mount registers GET /livez and GET /readyz on r.
func (h *Health) Mount(r chi.Router) {
	r.Get("/livez", h.LiveEndpoint)
	r.Get("/readyz", h.ReadyEndpoint)
}

// LiveEndpoint answers 200 while every liveness probe passes, 503 otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, report(h.snapshot(true)))
}

// ReadyEndpoint answers 200 while IsReady holds, 503 otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	checks := report(h.snapshot(false))
	if !h.ready.Load() {
		checks = append(checks, result{name: "_readiness", message: "service is not ready"})
	}
	writeReport(w, checks)
}

type result struct {
	name    string
	healthy bool
	message string
}

func report(probes []*probe) []result {
	out := make([]result, 0, len(probes))
	for _, c := range probes {
		r := result{name: c.Name, healthy: c.isHealthy(), message: "ok"}
		if !r.healthy {
			r.message = "check is unhealthy"
			if err := c.lastError(); err != nil {
				r.message = err.Error()
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// writeReport renders {"status":"ok"|"unhealthy","checks":{name: message}}.
// Checks are listed only when something failed.
func writeReport(w http.ResponseWriter, checks []result) {
	ok := true
	for _, c := range checks {
		ok = ok && c.healthy
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) {
			if ok {
				e.Str("ok")
			} else {
				e.Str("unhealthy")
			}
		})
		if ok {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, c := range checks {
					if c.healthy {
						continue
					}
					e.Field(c.name, func(e *jx.Encoder) { e.Str(c.message) })
				}
			})
		})
	})

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
