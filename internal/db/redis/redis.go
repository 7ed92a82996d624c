// Package redis implements the entity store on Redis.
//
// Each key is a hash with two fields: "val" (JSON document) and "ver"
// (revision). Conditional writes run as a Lua script so the version check
// and the write are atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/config"
	"serotonyl.ru/filegate-bot/internal/store"
)

const (
	fieldValue   = "val"
	fieldVersion = "ver"
	fieldUpdated = "upd"

	// Script results that are not versions.
	resultConflict = -1
	resultMissing  = -2
)

// KEYS[1] key; ARGV[1] value, ARGV[2] expected version, ARGV[3] unix millis.
var putScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
local expected = tonumber(ARGV[2])
if expected == 0 and cur then return -1 end
if expected > 0 and (not cur or tonumber(cur) ~= expected) then return -1 end
local nv = (tonumber(cur) or 0) + 1
redis.call('HSET', KEYS[1], 'val', ARGV[1], 'ver', nv, 'upd', ARGV[3])
return nv
`)

// KEYS[1] key; ARGV[1] expected version.
var deleteScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
if not cur then return -2 end
local expected = tonumber(ARGV[1])
if expected >= 0 and tonumber(cur) ~= expected then return -1 end
redis.call('DEL', KEYS[1])
return 1
`)

// KV is the Redis entity store.
type KV struct {
	rdb       goredis.UniversalClient
	namespace string
}

var _ store.KV = (*KV)(nil)

// Connect opens a client from config and pings the server.
func Connect(ctx context.Context, cfg *config.Config) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}

	log.WithField("addr", cfg.RedisAddr).Info("Connected to Redis")
	return rdb, nil
}

// NewKV wraps a client. namespace is prepended to every key so several bots
// can share one database.
func NewKV(rdb goredis.UniversalClient, namespace string) *KV {
	return &KV{rdb: rdb, namespace: namespace}
}

func (k *KV) key(key string) string { return k.namespace + key }

func (k *KV) Get(ctx context.Context, key string) (store.Record, error) {
	vals, err := k.rdb.HMGet(ctx, k.key(key), fieldValue, fieldVersion, fieldUpdated).Result()
	if err != nil {
		return store.Record{}, classify("get "+key, err)
	}
	return decode(key, vals)
}

func (k *KV) Put(ctx context.Context, key string, value []byte, expected store.Version) (store.Version, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	res, err := putScript.Run(ctx, k.rdb, []string{k.key(key)}, value, int64(expected), now).Int64()
	if err != nil {
		return 0, classify("put "+key, err)
	}
	if res == resultConflict {
		return 0, store.ErrVersionConflict
	}
	return store.Version(res), nil
}

func (k *KV) Delete(ctx context.Context, key string, expected store.Version) error {
	res, err := deleteScript.Run(ctx, k.rdb, []string{k.key(key)}, int64(expected)).Int64()
	if err != nil {
		return classify("delete "+key, err)
	}
	switch res {
	case resultMissing:
		return store.ErrNotFound
	case resultConflict:
		return store.ErrVersionConflict
	}
	return nil
}

// List scans keys by pattern. SCAN gives no ordering, so keys are sorted
// after collection; the limit applies to the sorted result.
func (k *KV) List(ctx context.Context, prefix string, limit int) ([]store.Record, error) {
	pattern := k.key(escapeGlob(prefix)) + "*"

	var keys []string
	iter := k.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), k.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, classify("list "+prefix, err)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]store.Record, 0, len(keys))
	for _, key := range keys {
		rec, err := k.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue // deleted between SCAN and HMGET
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decode(key string, vals []interface{}) (store.Record, error) {
	if len(vals) != 3 || vals[0] == nil || vals[1] == nil {
		return store.Record{}, store.ErrNotFound
	}
	value, _ := vals[0].(string)
	verStr, _ := vals[1].(string)
	ver, err := strconv.ParseInt(verStr, 10, 64)
	if err != nil {
		return store.Record{}, fmt.Errorf("get %s: bad version %q", key, verStr)
	}
	rec := store.Record{Key: key, Value: []byte(value), Version: store.Version(ver)}
	if updStr, ok := vals[2].(string); ok {
		if ms, err := strconv.ParseInt(updStr, 10, 64); err == nil {
			rec.UpdatedAt = time.UnixMilli(ms)
		}
	}
	return rec, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, goredis.Nil) {
		return store.ErrNotFound
	}
	return common.Unavailable(op, err)
}
