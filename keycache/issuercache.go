// Package keycache implements the single process-wide piece of shared
// state the core's design notes call out: a read-biased cache of the
// Issuer's current public key, lazily fetched and refreshed on demand
// when a certificate fails to verify against the cached value.
package keycache

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/singleflight"

	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/metrics"
)

// Fetcher retrieves the Issuer's current public key over the wire (the
// Issuer's `/issuer/public_key` endpoint, §6.2).
type Fetcher func() (*chancrypto.PublicKey, error)

// Cache is a single cell protected by a read-biased lock (sync.RWMutex):
// reads (Current) take the read lock and are the hot path; writes
// (Refresh, and the periodic background refresh) take the write lock and
// are rare. Lazy on first use, and refreshed on every Refresh call
// regardless of age, so an invalid-certificate verify failure always gets
// one fresh look at the Issuer's key before being reported as final.
type Cache struct {
	fetch Fetcher

	mu  sync.RWMutex
	key *chancrypto.PublicKey

	group singleflight.Group

	refreshTicker *ticker.Ticker
	quit          chan struct{}
	wg            sync.WaitGroup
}

// New creates a Cache that fetches via fetch. If refreshEvery is nonzero,
// Start launches a background goroutine that re-fetches on that interval,
// so a routine key rotation at the Issuer is picked up without waiting for
// a certificate to fail verification first.
func New(fetch Fetcher, refreshEvery time.Duration) *Cache {
	c := &Cache{fetch: fetch, quit: make(chan struct{})}
	if refreshEvery > 0 {
		c.refreshTicker = ticker.New(refreshEvery)
	}
	return c
}

// Start launches the background refresh loop, if one was configured.
func (c *Cache) Start() {
	if c.refreshTicker == nil {
		return
	}
	c.refreshTicker.Resume()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.refreshTicker.Ticks():
				c.Refresh()
			case <-c.quit:
				return
			}
		}
	}()
}

// Stop shuts the background refresh loop down, if one was running.
func (c *Cache) Stop() {
	if c.refreshTicker == nil {
		return
	}
	close(c.quit)
	c.wg.Wait()
	c.refreshTicker.Stop()
}

// Current returns the cached key, fetching it first if this is the first
// call.
func (c *Cache) Current() (*chancrypto.PublicKey, error) {
	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()
	if key != nil {
		return key, nil
	}
	return c.Refresh()
}

// Refresh unconditionally re-fetches the Issuer's public key and replaces
// the cached value. A stale cache must never silently validate a
// certificate signed by a rotated key, so callers force exactly one
// Refresh before reporting invalid_certificate on a verify failure.
//
// Concurrent callers (e.g. a burst of certificate verify failures arriving
// at once) collapse onto a single in-flight fetch via singleflight, so a
// flood of simultaneous refreshes never turns into a flood of requests to
// the Issuer.
func (c *Cache) Refresh() (*chancrypto.PublicKey, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		key, err := c.fetch()
		if err != nil {
			metrics.IssuerKeyRefreshTotal.WithLabelValues("failure").Inc()
			return nil, err
		}

		c.mu.Lock()
		c.key = key
		c.mu.Unlock()
		metrics.IssuerKeyRefreshTotal.WithLabelValues("success").Inc()
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*chancrypto.PublicKey), nil
}
