package coordination

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore Redis 协调存储实现
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Lua 脚本保证比较类操作的原子性（与值比较和后续写入必须在一个步骤内完成）
const (
	casScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("set", KEYS[1], ARGV[2], "PX", ARGV[3]) and 1 or 0
		else
			return 0
		end
	`

	cadScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	expireScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// NewRedisStore 创建 Redis 协调存储
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// wrapErr 将 redis 错误统一映射为存储不可达
func wrapErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// SetNX 当 key 不存在时原子写入
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, value, ttl).Result()
	if err != nil {
		return false, wrapErr("setnx", err)
	}
	return ok, nil
}

// Get 读取 key
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", wrapErr("get", err)
	}
	return val, nil
}

// CompareAndSwap 值匹配时替换并刷新 TTL
func (s *RedisStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	result, err := s.client.Eval(ctx, casScript, []string{s.prefix + key}, old, new, ttl.Milliseconds()).Result()
	if err != nil {
		return false, wrapErr("cas", err)
	}
	return result.(int64) == 1, nil
}

// CompareAndDelete 值匹配时删除
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	result, err := s.client.Eval(ctx, cadScript, []string{s.prefix + key}, value).Result()
	if err != nil {
		return false, wrapErr("cad", err)
	}
	return result.(int64) == 1, nil
}

// CompareAndExpire 值匹配时刷新 TTL
func (s *RedisStore) CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	result, err := s.client.Eval(ctx, expireScript, []string{s.prefix + key}, value, ttl.Milliseconds()).Result()
	if err != nil {
		return false, wrapErr("expire", err)
	}
	return result.(int64) == 1, nil
}

// Set 无条件写入
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return wrapErr("set", err)
	}
	return nil
}

// Delete 删除 key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return wrapErr("del", err)
	}
	return nil
}

// Increment 原子自增并保证 TTL
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	fullKey := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.PExpire(ctx, fullKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, wrapErr("incr", err)
	}
	return incr.Val(), nil
}

// WindowAdd 向滑动窗口（ZSet，score 为微秒时间戳）追加事件
func (s *RedisStore) WindowAdd(ctx context.Context, key, member string, at time.Time, ttl time.Duration) error {
	fullKey := s.prefix + key

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, fullKey, redis.Z{
		Score:  float64(at.UnixMicro()),
		Member: member,
	})
	pipe.PExpire(ctx, fullKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("window add", err)
	}
	return nil
}

// WindowCount 清除过期事件后统计窗口内事件数
func (s *RedisStore) WindowCount(ctx context.Context, key string, since time.Time) (int64, error) {
	fullKey := s.prefix + key
	cutoff := strconv.FormatInt(since.UnixMicro(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "0", "("+cutoff)
	card := pipe.ZCard(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, wrapErr("window count", err)
	}
	return card.Val(), nil
}

// WindowOldest 返回窗口内最早事件的时间
func (s *RedisStore) WindowOldest(ctx context.Context, key string) (time.Time, error) {
	result, err := s.client.ZRangeWithScores(ctx, s.prefix+key, 0, 0).Result()
	if err != nil {
		return time.Time{}, wrapErr("window oldest", err)
	}
	if len(result) == 0 {
		return time.Time{}, nil
	}
	return time.UnixMicro(int64(result[0].Score)), nil
}

// TTL 返回剩余存活时间
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.prefix+key).Result()
	if err != nil {
		return 0, wrapErr("ttl", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Ping 健康检查
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
