package allowlist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOpts struct {
	Addr, Password, Key, InvalidateChannel string
	DB      int
	Timeout time.Duration
}

// RedisSource reads the allowlist from a hash where each field is a device
// identifier and the value its active flag. Publishing anything on the
// invalidation channel asks the store to refresh right away.
type RedisSource struct {
	rdb     *redis.Client
	key     string
	channel string
}

func NewRedisSource(o RedisOpts) *RedisSource {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return &RedisSource{
		rdb:     rdb,
		key:     firstNonEmpty(o.Key, "devices:allowlist"),
		channel: firstNonEmpty(o.InvalidateChannel, "devices:invalidate"),
	}
}

func (r *RedisSource) Fetch(ctx context.Context) ([]Row, error) {
	vals, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", r.key, err)
	}
	return rowsFromHash(vals), nil
}

func (r *RedisSource) Invalidations(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	pubsub := r.rdb.Subscribe(ctx, r.channel)

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				// coalesce bursts into a single pending refresh
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

func (r *RedisSource) Close() error { return r.rdb.Close() }

func rowsFromHash(vals map[string]string) []Row {
	rows := make([]Row, 0, len(vals))
	for id, v := range vals {
		rows = append(rows, Row{Identifier: id, Active: parseActive(v)})
	}
	return rows
}

// parseActive maps a hash value to an active flag; unknown values count as
// "not stated".
func parseActive(v string) *bool {
	var b bool
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		b = true
	case "false", "0", "no", "off":
		b = false
	default:
		return nil
	}
	return &b
}

func firstNonEmpty(s, def string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return def
}

var (
	_ Source      = (*RedisSource)(nil)
	_ Invalidator = (*RedisSource)(nil)
)
