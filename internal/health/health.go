// Package health serves the liveness and readiness probes of the control
// server.
//
//   - /healthz always answers 200 while the process serves HTTP.
//   - /readyz answers 200 once startup finished and every [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map with the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/pagasa/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	ready    atomic.Bool
}

// New creates a [Handler] that is not ready until [Handler.SetReady] is
// called.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// SetReady marks startup as finished (or, with false, shutdown as begun).
func (h *Handler) SetReady(ready bool) { h.ready.Store(ready) }

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently with a [checkTimeout] deadline
// and reports 503 if any fails or startup has not finished.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers)+1)
	allOK := h.ready.Load()
	if !allOK {
		checks["startup"] = "fail: not ready"
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return
			}
			checks[c.Name] = "ok"
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Breakers returns a Checker that fails when every breaker reported by
// statuses is open, i.e. no backend of that kind can take a request.
func Breakers(name string, statuses func() []resilience.BreakerStatus) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			st := statuses()
			if len(st) == 0 {
				return nil
			}
			open := make([]string, 0, len(st))
			for _, s := range st {
				if s.State != resilience.StateOpen.String() {
					return nil
				}
				open = append(open, s.Name)
			}
			return fmt.Errorf("all breakers open: %s", strings.Join(open, ", "))
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
