package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/resilience"
)

const keyPrefix = "search:"

// QueryCache stores search responses in Redis keyed by the canonical plan
// and the index generation, so any index write makes older entries
// unreachable. Redis failures trip a circuit breaker and degrade to
// uncached searches.
type QueryCache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		breaker: resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, to resilience.State) {
				m.BreakerState(name, int(to))
			},
		}),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Cacheable reports whether responses for plan may be cached. Popularity
// order changes with every click, so it is always computed fresh.
func Cacheable(plan *parser.Plan) bool {
	return !plan.Empty() && plan.Query.Sort.Field != parser.SortPopularity
}

func (c *QueryCache) Get(ctx context.Context, plan *parser.Plan, generation uint64) (*executor.Response, bool) {
	key := c.buildKey(plan, generation)
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.client.GetBytes(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	if data == nil {
		c.miss()
		return nil, false
	}
	var resp executor.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheResult(true)
	c.logger.Debug("cache hit", "query", plan.Query.Query, "key", key)
	return &resp, true
}

func (c *QueryCache) Set(ctx context.Context, plan *parser.Plan, generation uint64, resp *executor.Response) {
	key := c.buildKey(plan, generation)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, key, data, c.cfg.CacheTTL)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for plan, or runs computeFn once
// per key across concurrent callers and caches its result.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	plan *parser.Plan,
	generation uint64,
	computeFn func() (*executor.Response, error),
) (*executor.Response, bool, error) {
	if resp, ok := c.Get(ctx, plan, generation); ok {
		return resp, true, nil
	}
	key := c.buildKey(plan, generation)
	val, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, plan, generation, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.Response), false, nil
}

// Invalidate deletes every cached response.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.DeleteMatching(ctx, keyPrefix+"*", nil)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

// PruneStale deletes responses cached for generations older than current.
// They can no longer be hit and would otherwise linger until their TTL.
func (c *QueryCache) PruneStale(ctx context.Context, current uint64) (int64, error) {
	deleted, err := c.client.DeleteMatching(ctx, keyPrefix+"g*", func(key string) bool {
		gen, ok := keyGeneration(key)
		return ok && gen < current
	})
	if err != nil {
		return deleted, fmt.Errorf("pruning cache: %w", err)
	}
	if deleted > 0 {
		c.logger.Debug("cache pruned", "generation", current, "keys_deleted", deleted)
	}
	return deleted, nil
}

// Entries counts the cached responses across all generations.
func (c *QueryCache) Entries(ctx context.Context) (int64, error) {
	return c.client.CountMatching(ctx, keyPrefix+"*")
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheResult(false)
}

// buildKey yields search:g<generation>:<hash of the canonical plan>.
func (c *QueryCache) buildKey(plan *parser.Plan, generation uint64) string {
	hash := sha256.Sum256([]byte(plan.Canonical()))
	return fmt.Sprintf("%sg%d:%x", keyPrefix, generation, hash[:16])
}

func keyGeneration(key string) (uint64, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix+"g")
	if !ok {
		return 0, false
	}
	raw, _, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, false
	}
	gen, err := strconv.ParseUint(raw, 10, 64)
	return gen, err == nil
}
