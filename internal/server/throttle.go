package server

import (
	"net"
	"sync"
	"time"
)

const (
	throttleSweep = time.Minute
	throttleIdle  = 5 * time.Minute
)

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// throttle is a per-host token bucket for new connections.
type throttle struct {
	mu     sync.Mutex
	hosts  map[string]*bucket
	perSec float64
	burst  float64 // 2x perSec, at least 1
	now    func() time.Time
}

func newThrottle(perSec float64) *throttle {
	burst := perSec * 2
	if burst < 1 {
		burst = 1
	}
	return &throttle{
		hosts:  make(map[string]*bucket),
		perSec: perSec,
		burst:  burst,
		now:    time.Now,
	}
}

// allow consumes one token for host and reports whether one was available.
func (t *throttle) allow(host string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.hosts[host]
	if !ok {
		t.hosts[host] = &bucket{tokens: t.burst - 1, lastCheck: now}
		return true
	}

	b.tokens += now.Sub(b.lastCheck).Seconds() * t.perSec
	if b.tokens > t.burst {
		b.tokens = t.burst
	}
	b.lastCheck = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// sweepLoop drops idle hosts every interval until done is closed.
func (t *throttle) sweepLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-done:
			return
		}
	}
}

func (t *throttle) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-throttleIdle)
	for host, b := range t.hosts {
		if b.lastCheck.Before(cutoff) {
			delete(t.hosts, host)
		}
	}
}

func (t *throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hosts)
}

// hostOf strips the port from a TCP address.
func hostOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
