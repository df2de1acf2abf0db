package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	counterTTL      = 48 * time.Hour
	counterCacheTTL = 5 * time.Minute
)

// ErrorCounter counts findings per sending node. Counters live in Redis
// when a client is given and in memory otherwise; the first finding of a
// node creates its counter, later ones increment it.
type ErrorCounter struct {
	redis *redis.Client
	log   *logrus.Entry

	// Local cache of counter values
	cache     sync.Map // sender -> int64
	cacheTime sync.Map // sender -> time.Time
	mu        sync.Mutex
	now       func() time.Time
}

// NewErrorCounter creates a counter. redisClient may be nil.
func NewErrorCounter(redisClient *redis.Client) *ErrorCounter {
	return &ErrorCounter{
		redis: redisClient,
		log:   logrus.WithField("component", "counter"),
		now:   time.Now,
	}
}

func counterKey(sender string) string {
	return "rpl:node:" + sender + ":errors"
}

func (c *ErrorCounter) Name() string { return "counter" }

// Write increments the counter of the finding's sender.
func (c *ErrorCounter) Write(ctx context.Context, f models.Finding) error {
	if f.Sender == "" {
		return nil
	}
	n, err := c.Increment(ctx, f.Sender)
	if err != nil {
		return err
	}
	if n == 1 {
		c.log.WithFields(logrus.Fields{"sender": f.Sender, "code": f.Code}).Debug("New node error counter")
	}
	return nil
}

// Increment bumps the counter of sender and returns its new value.
func (c *ErrorCounter) Increment(ctx context.Context, sender string) (int64, error) {
	if c.redis == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		var n int64 = 1
		if val, ok := c.cache.Load(sender); ok {
			n = val.(int64) + 1
		}
		c.store(sender, n)
		return n, nil
	}

	key := counterKey(sender)
	n, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if err := c.redis.Expire(ctx, key, counterTTL).Err(); err != nil {
		c.log.WithError(err).Debug("Redis expire error")
	}
	c.store(sender, n)
	return n, nil
}

// Count returns the current counter of sender, or 0 if it has none.
func (c *ErrorCounter) Count(ctx context.Context, sender string) int64 {
	if val, ok := c.cache.Load(sender); ok {
		if c.redis == nil {
			return val.(int64)
		}
		if t, ok := c.cacheTime.Load(sender); ok && c.now().Sub(t.(time.Time)) < counterCacheTTL {
			return val.(int64)
		}
	}

	if c.redis == nil {
		return 0
	}
	n, err := c.redis.Get(ctx, counterKey(sender)).Int64()
	if err != nil {
		return 0
	}
	c.store(sender, n)
	return n
}

func (c *ErrorCounter) store(sender string, n int64) {
	c.cache.Store(sender, n)
	c.cacheTime.Store(sender, c.now())
}

func (c *ErrorCounter) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
