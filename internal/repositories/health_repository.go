package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck probes one backing service for readiness.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// HealthRepository collects dependency status.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

type dependencyHealthRepository struct {
	checks []DependencyCheck
	now    func() time.Time
}

// NewDependencyHealthRepository runs checks concurrently on every Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, now func() time.Time) (HealthRepository, error) {
	for _, c := range checks {
		if strings.TrimSpace(c.Name) == "" || c.Check == nil {
			return nil, errors.New("health repository: every check needs a name and a function")
		}
	}
	if now == nil {
		now = time.Now
	}
	return &dependencyHealthRepository{checks: append([]DependencyCheck(nil), checks...), now: now}, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]domain.HealthCheck, len(r.checks))
	)
	for _, check := range r.checks {
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()
			timeout := check.Timeout
			if timeout <= 0 {
				timeout = defaultDependencyTimeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := r.now()
			err := check.Check(checkCtx)
			result := domain.HealthCheck{Status: domain.HealthStatusOK, Latency: r.now().Sub(start)}
			switch {
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded):
				result.Status, result.Detail = domain.HealthStatusError, "timeout"
			default:
				result.Status, result.Detail = domain.HealthStatusError, err.Error()
			}

			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		if result.Status != domain.HealthStatusOK {
			status = domain.HealthStatusError
		}
	}
	return domain.HealthReport{Status: status, Checks: results, GeneratedAt: r.now().UTC()}, nil
}
