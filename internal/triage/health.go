package triage

import (
	"context"
	"sync"
)

// Health states reported by Service.Health.
const (
	StatusHealthy  = "healthy"
	StatusPartial  = "partial"
	StatusDegraded = "degraded"
)

// HealthChecker is implemented by dependencies that expose a health check.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthReport summarizes dependency health.
type HealthReport struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health checks every configured dependency concurrently. The service is
// healthy when all respond, partial when some do and degraded when none do.
// Scoring still works in every state.
func (s *Service) Health(ctx context.Context) HealthReport {
	checks := map[string]HealthChecker{}
	if hc, ok := s.classifier.(HealthChecker); ok {
		checks["classifier"] = hc
	}
	if hc, ok := s.retriever.(HealthChecker); ok {
		checks["retriever"] = hc
	}
	if hc, ok := s.enricher.(HealthChecker); ok {
		checks["enricher"] = hc
	}

	report := HealthReport{Status: StatusHealthy, Dependencies: make(map[string]string, len(checks))}
	if len(checks) == 0 {
		return report
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, hc := range checks {
		name, hc := name, hc
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := "ok"
			if err := hc.Health(ctx); err != nil {
				state = err.Error()
			}
			mu.Lock()
			report.Dependencies[name] = state
			mu.Unlock()
		}()
	}
	wg.Wait()

	failed := 0
	for _, state := range report.Dependencies {
		if state != "ok" {
			failed++
		}
	}
	switch {
	case failed == len(checks):
		report.Status = StatusDegraded
	case failed > 0:
		report.Status = StatusPartial
	}
	return report
}
