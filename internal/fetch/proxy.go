package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"sitewatch/internal/monitor"
	"sitewatch/internal/store"
)

// ProxyRotator hands out proxies round-robin from a reloadable pool. The
// rotation cursor is mutex-guarded; Reload swaps the whole pool atomically
// and reshuffles it.
type ProxyRotator struct {
	source store.ProxyStore
	logger *zap.Logger

	mu      sync.Mutex
	entries []monitor.ProxyEndpoint
	idx     int
	rng     *rand.Rand
}

// NewProxyRotator constructs a rotator over the given pool source. Call
// Reload before first use.
func NewProxyRotator(source store.ProxyStore, seed int64, logger *zap.Logger) *ProxyRotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProxyRotator{
		source: source,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Reload replaces the pool from the external configuration. A load error
// leaves the previous pool in place.
func (r *ProxyRotator) Reload(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	entries, err := r.source.ListActiveProxies(ctx)
	if err != nil {
		return fmt.Errorf("load proxy pool: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	r.entries = entries
	r.idx = 0
	r.logger.Info("proxy pool reloaded", zap.Int("proxies", len(entries)))
	return nil
}

// HasProxies reports whether the pool is non-empty.
func (r *ProxyRotator) HasProxies() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries) > 0
}

// Next advances the cursor and returns the proxy URL matching the request
// scheme, falling back to whichever URL the entry carries.
func (r *ProxyRotator) Next(scheme string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return "", false
	}
	entry := r.entries[r.idx]
	r.idx = (r.idx + 1) % len(r.entries)

	if scheme == "https" && entry.HTTPSURL != "" {
		return entry.HTTPSURL, true
	}
	if entry.HTTPURL != "" {
		return entry.HTTPURL, true
	}
	if entry.HTTPSURL != "" {
		return entry.HTTPSURL, true
	}
	return "", false
}

// ProxyFunc adapts the rotator to colly's per-request proxy selection.
// Returning a nil URL means a direct connection.
func (r *ProxyRotator) ProxyFunc(req *http.Request) (*url.URL, error) {
	raw, ok := r.Next(req.URL.Scheme)
	if !ok {
		return nil, nil
	}
	proxyURL, err := url.Parse(raw)
	if err != nil {
		r.logger.Warn("invalid proxy url skipped", zap.String("proxy", raw), zap.Error(err))
		return nil, nil
	}
	return proxyURL, nil
}
