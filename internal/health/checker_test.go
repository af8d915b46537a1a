package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckerReportsReadiness(t *testing.T) {
	ready := false

	checker := NewChecker(func() bool { return ready })

	status := checker.Check()
	assert.Equal(t, "ok", status.Status)
	assert.False(t, status.ProtocolReady)
	assert.GreaterOrEqual(t, status.UptimeSeconds, 0.0)

	ready = true
	assert.True(t, checker.Check().ProtocolReady)
}
