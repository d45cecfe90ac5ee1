package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/ports"
)

type localEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

func (e localEntry) liveAt(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// LocalCache is a bounded in-process LRU with per-key expiry, for
// single-instance deployments. Expired keys are dropped on read and by a
// periodic sweep.
type LocalCache struct {
	entries *lru.Cache[string, localEntry]
	log     *zap.Logger
	now     func() time.Time
	stop    context.CancelFunc
}

func NewLocalCache(maxEntries int, sweepEvery time.Duration, log *zap.Logger) (*LocalCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	entries, err := lru.New[string, localEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	c := &LocalCache{entries: entries, log: log, now: time.Now, stop: stop}
	go c.sweepLoop(ctx, sweepEvery)

	log.Info("Local cache ready", zap.Int("max_entries", maxEntries))
	return c, nil
}

// encode stores strings and bytes as-is and anything else as JSON, matching
// what the Redis client writes.
func encode(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("local cache: encode: %w", err)
	}
	return string(raw), nil
}

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	e, ok := c.entries.Get(key)
	if !ok {
		return "", ports.ErrCacheMiss
	}
	if !e.liveAt(c.now()) {
		c.entries.Remove(key)
		return "", ports.ErrCacheMiss
	}
	return e.value, nil
}

func (c *LocalCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	s, err := encode(value)
	if err != nil {
		return err
	}
	e := localEntry{value: s}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries.Add(key, e)
	return nil
}

func (c *LocalCache) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

func (c *LocalCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) && c.entries.Remove(key) {
			n++
		}
	}
	return n, nil
}

func (c *LocalCache) Len() int { return c.entries.Len() }

func (c *LocalCache) Ping(context.Context) error { return nil }

func (c *LocalCache) Close() error {
	c.stop()
	return nil
}

func (c *LocalCache) sweepLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.sweep(); n > 0 {
				c.log.Debug("Expired cache entries removed", zap.Int("count", n))
			}
		}
	}
}

func (c *LocalCache) sweep() int {
	now := c.now()
	n := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && !e.liveAt(now) {
			c.entries.Remove(key)
			n++
		}
	}
	return n
}
