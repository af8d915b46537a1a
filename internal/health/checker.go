// Package health tracks process readiness for the /health endpoint.
package health

import (
	"time"
)

// Status is the health report served to callers.
type Status struct {
	Status        string  `json:"status"`
	ProtocolReady bool    `json:"protocol_ready"`
	UptimeSeconds float64 `json:"uptime"`
}

// Checker reports gateway health. Protocol readiness is sampled through the
// injected probe so the checker carries no relay dependency.
type Checker struct {
	started       time.Time
	protocolReady func() bool
}

// NewChecker creates a health checker.
func NewChecker(protocolReady func() bool) *Checker {
	return &Checker{
		started:       time.Now(),
		protocolReady: protocolReady,
	}
}

// Check returns the current health status. The gateway reports healthy even
// before the protocol session is up since the session authenticates lazily on
// first use.
func (c *Checker) Check() Status {
	return Status{
		Status:        "ok",
		ProtocolReady: c.protocolReady(),
		UptimeSeconds: time.Since(c.started).Seconds(),
	}
}
