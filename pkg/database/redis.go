package database

import (
	"context"

	"github.com/go-redis/redis/v8"

	"material-search-go/pkg/log"
)

// RDB 为可选的 Redis 客户端，仅用于缓存文本查询向量。未启用时保持为 nil。
var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := RDB.Ping(ctx).Err(); err != nil {
		// 缓存不可用不影响主流程，降级为每次都调用 embedding 服务
		log.Error("failed to connect to redis, embedding cache disabled", err)
		RDB = nil
		return
	}

	log.Info("Redis client connected successfully")
}
