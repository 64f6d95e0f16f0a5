package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/solarmind/solarmind/pkg/log"
)

// Recommended TTLs of the aggregated views.
const (
	StatusTTL   = 30 * time.Second
	ReportTTL   = 120 * time.Second
	HistoryTTL  = 600 * time.Second
	IntradayTTL = 300 * time.Second

	DefaultSize = 128
)

var (
	lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarmind",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Response cache lookups by operation and result.",
	}, []string{"operation", "result"})
)

func init() {
	prometheus.MustRegister(lookupsTotal)
}

type entry struct {
	expiresAt time.Time
	payload   interface{}
}

// Cache is a bounded in-memory cache of computed payloads with per-entry
// expiry. Concurrent misses of a key share a single compute; failed computes
// are never stored.
type Cache struct {
	entries *lru.Cache
	group   singleflight.Group
	now     func() time.Time
}

// New returns a cache holding at most size entries.
func New(size int) (*Cache, error) {
	c := &Cache{now: time.Now}
	if err := c.allocate(size); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) allocate(size int) error {
	entries, err := lru.New(size)
	if err != nil {
		return fmt.Errorf("failed to create lru cache: %w", err)
	}
	c.entries = entries
	return nil
}

// SetClock replaces the clock used for expiry.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Configured registers the cache flags and returns a cache sized by them.
func Configured() *Cache {
	size := lflag.String("cache-size", strconv.Itoa(DefaultSize), "Maximum number of cached responses")

	c := &Cache{now: time.Now}

	lflag.Do(func() {
		n, err := strconv.Atoi(*size)
		if err != nil || n < 1 {
			panic(fmt.Errorf("invalid cache-size: %q", *size))
		}
		if err := c.allocate(n); err != nil {
			panic(err)
		}
	})

	return c
}

// operation is the metric label of key, the part before the first colon.
func operation(key string) string {
	op, _, _ := strings.Cut(key, ":")
	return op
}

func (c *Cache) lookup(key string) (interface{}, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return nil, false
	}
	return e.payload, true
}

// GetOrCompute returns the cached payload of key when present and not
// expired, with hit set. Otherwise it calls fn and stores its result for ttl.
//
// fn runs detached from the cancellation of ctx, keeping its values, so a
// caller that goes away neither aborts the shared compute nor fails the other
// callers waiting on it. Only that caller returns early with ctx.Err().
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) (interface{}, error)) (interface{}, bool, error) {
	if payload, ok := c.lookup(key); ok {
		lookupsTotal.WithLabelValues(operation(key), "hit").Inc()
		return payload, true, nil
	}

	computeCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// a flight that just finished may have filled the key
		if payload, ok := c.lookup(key); ok {
			return payload, nil
		}
		payload, err := fn(computeCtx)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, entry{expiresAt: c.now().Add(ttl), payload: payload})
		return payload, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		lookupsTotal.WithLabelValues(operation(key), "canceled").Inc()
		return nil, false, ctx.Err()
	}
	if res.Err != nil {
		lookupsTotal.WithLabelValues(operation(key), "error").Inc()
		return nil, false, res.Err
	}
	lookupsTotal.WithLabelValues(operation(key), "miss").Inc()
	if res.Shared {
		log.Ctx(ctx).DebugContext(ctx, "shared cache compute", slog.String("key", key))
	}
	return res.Val, false, nil
}

// Get is GetOrCompute for a typed payload.
func Get[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	v, hit, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, false, fmt.Errorf("cached value for %s is %T", key, v)
	}
	return t, hit, nil
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	return c.entries.Len()
}
