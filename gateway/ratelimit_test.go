package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientLimiterEnforcesBurst(t *testing.T) {
	l := newClientLimiter(10, 2)

	assert.True(t, l.allow("panel"))
	assert.True(t, l.allow("panel"))
	assert.False(t, l.allow("panel"))
}

func TestClientLimiterIsolatesClients(t *testing.T) {
	l := newClientLimiter(10, 1)

	assert.True(t, l.allow("panel"))
	assert.False(t, l.allow("panel"))
	assert.True(t, l.allow("wall-switch"))
}

func TestClientLimiterEvictsIdleBuckets(t *testing.T) {
	l := newClientLimiter(10, 1)

	l.allow("idle")
	l.allow("fresh")

	// Age the idle bucket past eviction and arm the next sweep.
	l.mu.Lock()
	l.clients["idle"].lastSeen = time.Now().Add(-2 * limiterIdleEviction)
	l.lastSweep = time.Now().Add(-2 * limiterSweepInterval)
	l.mu.Unlock()

	l.allow("fresh")

	l.mu.Lock()
	defer l.mu.Unlock()
	_, idleKept := l.clients["idle"]
	_, freshKept := l.clients["fresh"]
	assert.False(t, idleKept)
	assert.True(t, freshKept)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/thermo", nil)
	req.Header.Set("X-Homey-Client", "panel-7")
	assert.Equal(t, "panel-7", clientKey(req, "X-Homey-Client"))

	req = httptest.NewRequest("GET", "/api/v1/thermo", nil)
	req.RemoteAddr = "10.1.2.3:5521"
	assert.Equal(t, "10.1.2.3", clientKey(req, "X-Homey-Client"))

	req.RemoteAddr = "badaddr"
	assert.Equal(t, "badaddr", clientKey(req, "X-Homey-Client"))

	req.RemoteAddr = "10.1.2.3:5521"
	assert.Equal(t, "10.1.2.3", clientKey(req, ""))
}
