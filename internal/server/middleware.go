package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter applies per-IP request rate limiting. Limits are generous;
// this exists to keep a misbehaving dashboard tab from hammering the
// daemon, not to meter real traffic.
type ipLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipEntry
	rate      rate.Limit
	burst     int
	lastPrune time.Time
}

type ipEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const (
	pruneEvery = 5 * time.Minute
	pruneAfter = 10 * time.Minute
)

func newIPLimiter(reqPerSec float64, burst int) *ipLimiter {
	return &ipLimiter{
		limiters:  make(map[string]*ipEntry),
		rate:      rate.Limit(reqPerSec),
		burst:     burst,
		lastPrune: time.Now(),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	now := time.Now()
	// Evict stale entries lazily; no background goroutine to leak.
	if now.Sub(l.lastPrune) > pruneEvery {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > pruneAfter {
				delete(l.limiters, k)
			}
		}
		l.lastPrune = now
	}
	e, ok := l.limiters[ip]
	if !ok {
		e = &ipEntry{lim: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = now
	l.mu.Unlock()
	return e.lim.Allow()
}

func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
