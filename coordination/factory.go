package coordination

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config 协调存储配置
type Config struct {
	Type   string
	Prefix string
	Redis  RedisConfig
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewStore 根据配置创建协调存储实例
// memory 类型仅用于单实例部署，多实例必须使用 redis
func NewStore(config *Config) (Store, error) {
	switch config.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			PoolSize: config.Redis.PoolSize,
		})
		return NewRedisStore(client, config.Prefix), nil

	case "memory", "":
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported coordination store type: %s", config.Type)
	}
}
