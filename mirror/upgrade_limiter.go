package mirror

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// token bucket per remote host for upgrade requests. idle hosts are evicted
type upgradeLimiter struct {
	limit   rate.Limit
	burst   int
	idleTtl time.Duration

	stateLock sync.Mutex
	hosts     map[string]*upgradeLimiterEntry
	hits      uint64
}

type upgradeLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// nil if the limit is disabled
func newUpgradeLimiter(ratePerSecond float64, burst int, idleTtl time.Duration) *upgradeLimiter {
	if ratePerSecond <= 0 || burst <= 0 {
		return nil
	}
	if idleTtl <= 0 {
		idleTtl = 10 * time.Minute
	}
	return &upgradeLimiter{
		limit:   rate.Limit(ratePerSecond),
		burst:   burst,
		idleTtl: idleTtl,
		hosts:   map[string]*upgradeLimiterEntry{},
	}
}

func (self *upgradeLimiter) Allow(host string, now time.Time) bool {
	if self == nil {
		return true
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return true
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.hosts[host]
	if !ok {
		entry = &upgradeLimiterEntry{
			limiter: rate.NewLimiter(self.limit, self.burst),
		}
		self.hosts[host] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)

	self.hits += 1
	if self.hits%512 == 0 {
		cutoff := now.Add(-self.idleTtl)
		for h, e := range self.hosts {
			if e.lastSeen.Before(cutoff) {
				delete(self.hosts, h)
			}
		}
	}

	return allowed
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
