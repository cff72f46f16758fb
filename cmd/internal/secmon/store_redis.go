package secmon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisScanCount = 500

// RedisStore shares event rings, activity windows, and alerts across instances.
//
// Rings and windows are lists written with LPUSH+LTRIM (newest first) and expire
// after the retention period. Alerts are members of one set.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

// NewRedisStore wraps an existing client. Close does not close rdb.
func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultConfig().Retention
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

// OpenRedisStore connects to url (redis:// or rediss://). Close closes the client.
func OpenRedisStore(url, prefix string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("secmon: redis url: %w", err)
	}
	s := NewRedisStore(redis.NewClient(opt), prefix, ttl)
	s.owned = true
	return s, nil
}

func (s *RedisStore) eventsKey(source string, t EventType) string {
	return s.prefix + "events:{" + source + "}:" + string(t)
}

func (s *RedisStore) activityKey(source string) string {
	return s.prefix + "activity:{" + source + "}"
}

func (s *RedisStore) alertsKey() string { return s.prefix + "alerts" }

// Init verifies connectivity.
func (s *RedisStore) Init(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("secmon: redis ping: %w", err)
	}
	return nil
}

// Clear deletes every key under the prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx, escapeGlob(s.prefix)+"*")
	if err != nil {
		return err
	}
	for len(keys) > 0 {
		n := min(len(keys), redisScanCount)
		if err := s.rdb.Del(ctx, keys[:n]...).Err(); err != nil {
			return fmt.Errorf("secmon: redis clear: %w", err)
		}
		keys = keys[n:]
	}
	return nil
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) Append(ctx context.Context, ev StoredEvent, limit int) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("secmon: encode event: %w", err)
	}
	key := s.eventsKey(ev.Source(), ev.Type)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, b)
		if limit > 0 {
			p.LTrim(ctx, key, 0, int64(limit-1))
		}
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("secmon: redis append: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendActivity(ctx context.Context, source string, a Activity, limit int) ([]Activity, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("secmon: encode activity: %w", err)
	}
	key := s.activityKey(source)

	var rng *redis.StringSliceCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, b)
		if limit > 0 {
			p.LTrim(ctx, key, 0, int64(limit-1))
		}
		p.Expire(ctx, key, s.ttl)
		rng = p.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("secmon: redis append activity: %w", err)
	}

	vals := rng.Val()
	out := make([]Activity, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var act Activity
		if err := json.Unmarshal([]byte(vals[i]), &act); err != nil {
			continue
		}
		out = append(out, act)
	}
	return out, nil
}

func (s *RedisStore) MarkAlert(ctx context.Context, source, detector string) (bool, error) {
	n, err := s.rdb.SAdd(ctx, s.alertsKey(), source+"|"+detector).Result()
	if err != nil {
		return false, fmt.Errorf("secmon: redis mark alert: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) ClearAlerts(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.alertsKey()).Err(); err != nil {
		return fmt.Errorf("secmon: redis clear alerts: %w", err)
	}
	return nil
}

func (s *RedisStore) Snapshot(ctx context.Context) (Snapshot, error) {
	var out Snapshot

	keys, err := s.scan(ctx, escapeGlob(s.prefix+"events:")+"*")
	if err != nil {
		return Snapshot{}, err
	}
	if out.Events, err = s.readEvents(ctx, keys); err != nil {
		return Snapshot{}, err
	}

	alerts, err := s.rdb.SCard(ctx, s.alertsKey()).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("secmon: redis alerts: %w", err)
	}
	out.ActiveAlerts = int(alerts)

	windows, err := s.scan(ctx, escapeGlob(s.prefix+"activity:")+"*")
	if err != nil {
		return Snapshot{}, err
	}
	out.ActivitySources = len(windows)
	return out, nil
}

func (s *RedisStore) EventsForSource(ctx context.Context, source string) ([]StoredEvent, error) {
	keys, err := s.scan(ctx, escapeGlob(s.prefix+"events:{"+source+"}:")+"*")
	if err != nil {
		return nil, err
	}
	return s.readEvents(ctx, keys)
}

func (s *RedisStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.scan(ctx, escapeGlob(s.prefix+"events:")+"*")
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, key := range keys {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			vals, err := tx.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				return err
			}
			kept := make([]any, 0, len(vals))
			for _, v := range vals {
				var ev StoredEvent
				if err := json.Unmarshal([]byte(v), &ev); err != nil || !ev.Timestamp.After(cutoff) {
					continue
				}
				kept = append(kept, v)
			}
			if len(kept) == len(vals) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				if len(kept) > 0 {
					p.RPush(ctx, key, kept...)
					p.Expire(ctx, key, s.ttl)
				}
				return nil
			})
			if err == nil {
				dropped += len(vals) - len(kept)
			}
			return err
		}, key)
		// A concurrent writer won; the next sweep retries this key.
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return dropped, fmt.Errorf("secmon: redis prune: %w", err)
		}
	}

	windows, err := s.scan(ctx, escapeGlob(s.prefix+"activity:")+"*")
	if err != nil {
		return dropped, err
	}
	for _, key := range windows {
		vals, err := s.rdb.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return dropped, fmt.Errorf("secmon: redis prune: %w", err)
		}
		window := make([]Activity, 0, len(vals))
		for _, v := range vals {
			var a Activity
			if json.Unmarshal([]byte(v), &a) == nil {
				window = append(window, a)
			}
		}
		if !windowAlive(window, cutoff) {
			if err := s.rdb.Del(ctx, key).Err(); err != nil {
				return dropped, fmt.Errorf("secmon: redis prune: %w", err)
			}
		}
	}
	return dropped, nil
}

func (s *RedisStore) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	it := s.rdb.Scan(ctx, 0, match, redisScanCount).Iterator()
	for it.Next(ctx) {
		keys = append(keys, it.Val())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("secmon: redis scan: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) readEvents(ctx context.Context, keys []string) ([]StoredEvent, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.StringSliceCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = p.LRange(ctx, key, 0, -1)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("secmon: redis read: %w", err)
	}

	var out []StoredEvent
	for _, cmd := range cmds {
		for _, v := range cmd.Val() {
			var ev StoredEvent
			if err := json.Unmarshal([]byte(v), &ev); err != nil {
				continue
			}
			out = append(out, ev)
		}
	}
	return out, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
