// Package names resolves ledger addresses to human-readable display names
// and avatars. Results are cached for the life of the session: an address
// is looked up at most once, concurrent requests for the same address share
// one lookup, and a failed lookup is remembered as "no name".
package names

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/metrics"
)

const defaultLookupTimeout = 10 * time.Second

// Entry is the cached identity for one address. A resolved entry with no
// display name means the lookup found nothing or failed. Key is the
// case-folded cache key; Address keeps the casing of the first request.
type Entry struct {
	Key         ledger.Address `json:"key"`
	Address     ledger.Address `json:"address"`
	DisplayName string         `json:"displayName,omitempty"`
	AvatarURL   string         `json:"avatarUrl,omitempty"`
	Resolved    bool           `json:"resolved"`
}

// Label is the display name, or the shortened address when there is none.
func (e Entry) Label() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	if e.Address != "" {
		return ShortAddress(e.Address)
	}
	return ShortAddress(e.Key)
}

// ShortAddress abbreviates an address to its first 6 and last 4
// characters. Addresses of 10 characters or fewer are returned unchanged.
func ShortAddress(addr ledger.Address) string {
	s := string(addr)
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// Lookup is the remote naming service.
type Lookup interface {
	// LookupAddress returns the primary name for addr, or "" when none.
	LookupAddress(ctx context.Context, addr ledger.Address) (string, error)
	// Avatar returns the avatar URL for name, or "" when none.
	Avatar(ctx context.Context, name string) (string, error)
}

// LookupError reports a failed resolution. The address still renders with
// its short form.
type LookupError struct {
	Key ledger.Address
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s: %v", e.Key, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// IsLookupError reports whether err is a LookupError.
func IsLookupError(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}

// Resolver caches identity lookups by case-folded address.
type Resolver struct {
	lookup  Lookup
	timeout time.Duration

	mu    sync.RWMutex
	cache map[ledger.Address]Entry
	gen   uint64 // bumped by Forget
	group singleflight.Group

	log *logrus.Entry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout bounds each remote lookup.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewResolver creates a resolver over lookup. A nil lookup resolves every
// address to its short form without network access.
func NewResolver(lookup Lookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:  lookup,
		timeout: defaultLookupTimeout,
		cache:   make(map[ledger.Address]Entry),
		log:     logrus.WithField("component", "names"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cached returns the resolved entry for key without touching the network.
func (r *Resolver) Cached(key ledger.Address) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[key.Normalize()]
	return e, ok
}

// Resolve returns the entry for key. Cached entries return immediately;
// otherwise callers for the same key share one lookup. The lookup runs to
// completion even if ctx ends first, so its result still lands in the
// cache. On failure the returned entry is the negative one that was cached,
// together with a LookupError.
func (r *Resolver) Resolve(ctx context.Context, key ledger.Address) (Entry, error) {
	k := key.Normalize()
	if e, ok := r.Cached(k); ok {
		metrics.LookupsTotal.WithLabelValues(metrics.LookupCacheHit).Inc()
		return e, nil
	}

	r.mu.RLock()
	gen := r.gen
	r.mu.RUnlock()

	// Lookups started before a Forget neither serve nor fill the new cache.
	ch := r.group.DoChan(fmt.Sprintf("%d/%s", gen, k), func() (any, error) {
		if e, ok := r.Cached(k); ok {
			return e, nil
		}
		e, err := r.fetch(k, key)
		r.mu.Lock()
		if r.gen == gen {
			r.cache[k] = e
		}
		r.mu.Unlock()
		return e, err
	})

	select {
	case res := <-ch:
		return res.Val.(Entry), res.Err
	case <-ctx.Done():
		return Entry{Key: k, Address: key}, ctx.Err()
	}
}

// Forget drops every cached entry. Used when the session ends.
func (r *Resolver) Forget() {
	r.mu.Lock()
	r.cache = make(map[ledger.Address]Entry)
	r.gen++
	r.mu.Unlock()
}

func (r *Resolver) fetch(k, addr ledger.Address) (Entry, error) {
	entry := Entry{Key: k, Address: addr, Resolved: true}
	if r.lookup == nil {
		metrics.LookupsTotal.WithLabelValues(metrics.LookupUnresolved).Inc()
		return entry, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	name, err := r.lookup.LookupAddress(ctx, k)
	if err != nil {
		metrics.LookupsTotal.WithLabelValues(metrics.LookupFailed).Inc()
		r.log.WithError(err).WithField("address", k).Warn("name lookup failed")
		return entry, &LookupError{Key: k, Err: err}
	}
	if name == "" {
		metrics.LookupsTotal.WithLabelValues(metrics.LookupUnresolved).Inc()
		return entry, nil
	}
	entry.DisplayName = name

	avatar, err := r.lookup.Avatar(ctx, name)
	if err != nil {
		r.log.WithError(err).WithField("name", name).Debug("avatar lookup failed")
	} else {
		entry.AvatarURL = avatar
	}

	metrics.LookupsTotal.WithLabelValues(metrics.LookupResolved).Inc()
	r.log.WithFields(logrus.Fields{"address": k, "name": name}).Debug("resolved name")
	return entry, nil
}
