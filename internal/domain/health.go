package domain

import "time"

// HealthStatus is the aggregated readiness state.
type HealthStatus string

const (
	HealthStatusOK    HealthStatus = "ok"
	HealthStatusError HealthStatus = "error"
)

// HealthCheck is the result of probing one dependency.
type HealthCheck struct {
	Status  HealthStatus
	Detail  string
	Latency time.Duration
}

// HealthReport aggregates dependency probes.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
