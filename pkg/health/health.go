// Package health serves liveness and readiness probes.
//
// Checks run on demand when a probe endpoint is hit, concurrently and each
// under its own timeout. Results are memoized for a short period so an
// aggressive prober cannot turn into load on the database.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
}

// probe is a set of checks with a memoized last result.
type probe struct {
	mu      sync.Mutex
	checks  []check
	at      time.Time
	result  map[string]string
	hasLast bool
}

func (p *probe) add(c check) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks = append(p.checks, c)
	p.hasLast = false
}

// run returns failing check names mapped to their error text.
func (p *probe) run(ctx context.Context, now time.Time, ttl time.Duration) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasLast && now.Sub(p.at) < ttl {
		return p.result
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures = make(map[string]string)
	)
	for _, c := range p.checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			if err := c.fn(checkCtx); err != nil {
				mu.Lock()
				failures[c.name] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	p.at, p.result, p.hasLast = now, failures, true
	return failures
}

// Health manages liveness and readiness checks for a service.
type Health struct {
	ready     atomic.Bool
	ttl       time.Duration
	now       func() time.Time
	liveness  probe
	readiness probe
}

// New creates a Health whose check results are reused for ttl. The service
// starts not ready; call SetReady(true) once initialization is done.
func New(ttl time.Duration) *Health {
	return &Health{ttl: ttl, now: time.Now}
}

// AddLivenessCheck registers a check deciding whether the process should be
// restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.liveness.add(check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a check deciding whether the service should
// receive traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.readiness.add(check{name: name, timeout: timeout, fn: fn})
}

// SetReady toggles the manual readiness gate, typically to false on shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Ready reports whether the gate is open and every readiness check passes.
func (h *Health) Ready(ctx context.Context) error {
	if !h.ready.Load() {
		return errors.New("service is not ready")
	}
	for name, msg := range h.readiness.run(ctx, h.now(), h.ttl) {
		return errors.Errorf("%s: %s", name, msg)
	}
	return nil
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.liveness.run(r.Context(), h.now(), h.ttl))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	failures := h.readiness.run(r.Context(), h.now(), h.ttl)
	if !h.ready.Load() {
		failures = mergeFailure(failures, "_readiness", "service is not ready")
	}
	writeStatus(w, failures)
}

// mergeFailure copies failures so the memoized map is never modified.
func mergeFailure(failures map[string]string, name, msg string) map[string]string {
	out := make(map[string]string, len(failures)+1)
	for k, v := range failures {
		out[k] = v
	}
	out[name] = msg
	return out
}

// writeStatus encodes {"status":"ok"} or {"status":"unhealthy","checks":{...}}.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	status := http.StatusOK
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
