// Package ratelimit gates outbound fetches with per-domain token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"trustaudit/internal/logging"
)

// Limiter blocks until n tokens are available for domain.
type Limiter interface {
	Acquire(ctx context.Context, domain string, n int) error
}

// Rate describes one bucket: refill per minute and capacity.
type Rate struct {
	PerMinute float64
	Burst     int
}

func (r Rate) limit() rate.Limit {
	return rate.Limit(r.PerMinute / 60.0)
}

func (r Rate) burst() int {
	if r.Burst < 1 {
		return 1
	}
	return r.Burst
}

// DomainLimiter keeps one in-process token bucket per domain. Buckets are
// created lazily and refill from elapsed wall-clock time on each call.
type DomainLimiter struct {
	mu        sync.Mutex
	def       Rate
	overrides map[string]Rate
	buckets   map[string]*rate.Limiter
}

// NewDomainLimiter creates a limiter with a default rate and per-domain overrides.
func NewDomainLimiter(def Rate, domains map[string]Rate) *DomainLimiter {
	overrides := make(map[string]Rate, len(domains))
	for d, r := range domains {
		overrides[normalizeDomain(d)] = r
	}
	return &DomainLimiter{
		def:       def,
		overrides: overrides,
		buckets:   make(map[string]*rate.Limiter),
	}
}

func (l *DomainLimiter) bucket(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[domain]; ok {
		return b
	}
	r, ok := l.overrides[domain]
	if !ok {
		r = l.def
	}
	b := rate.NewLimiter(r.limit(), r.burst())
	l.buckets[domain] = b
	return b
}

// Acquire waits for n tokens. Requests larger than the bucket's capacity are
// satisfied in capacity-sized chunks.
func (l *DomainLimiter) Acquire(ctx context.Context, domain string, n int) error {
	if n < 1 {
		n = 1
	}
	domain = normalizeDomain(domain)
	b := l.bucket(domain)

	for n > 0 {
		chunk := n
		if burst := b.Burst(); chunk > burst {
			chunk = burst
		}
		if err := b.WaitN(ctx, chunk); err != nil {
			return fmt.Errorf("rate limit wait for %s: %w", domain, err)
		}
		n -= chunk
	}
	logging.RateLimitDebug("acquired tokens for %s", domain)
	return nil
}

// Rate returns the configured rate for domain.
func (l *DomainLimiter) Rate(domain string) Rate {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.overrides[normalizeDomain(domain)]; ok {
		return r
	}
	return l.def
}

// DomainOf extracts the host portion of a URL for bucket selection.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return normalizeDomain(rawURL)
	}
	return normalizeDomain(u.Hostname())
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
