package core

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthProbe is a named dependency check run by GET /health.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// healthProbeTimeout bounds each individual probe.
const healthProbeTimeout = 2 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleHealth runs all registered probes concurrently and reports aggregate
// status: 200 when everything passes, 503 when any probe fails.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.HealthProbes))
	healthy := true

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
			defer cancel()

			result := "ok"
			if err := p.Check(ctx); err != nil {
				result = err.Error()
			}

			mu.Lock()
			checks[p.Name()] = result
			if result != "ok" {
				healthy = false
			}
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	status := http.StatusOK
	resp := healthResponse{Status: "ok", Checks: checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
