// Package cache 提供调度状态缓存抽象
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/paituan/paituan/pkg/logger"
	"github.com/paituan/paituan/pkg/model"
)

// Redis 基于Redis的调度状态缓存（生产环境使用）
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis 创建Redis缓存
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// NewRedisFromAddr 按地址创建Redis缓存并测试连接
func NewRedisFromAddr(addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis连接测试失败: %w", err)
	}

	logger.Info().Str("addr", addr).Msg("Redis缓存连接成功")
	return NewRedis(client, ttl), nil
}

// Get 返回缓存的状态
// 缓存读取失败按未命中处理，不向调用方传播错误。
func (c *Redis) Get(ctx context.Context, orgID uuid.UUID, date string) (*model.DispatchStatus, bool) {
	data, err := c.client.Get(ctx, Key(orgID, date)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn().Err(err).Str("date", date).Msg("读取调度状态缓存失败")
		return nil, false
	}

	var status model.DispatchStatus
	if err := json.Unmarshal(data, &status); err != nil {
		logger.Warn().Err(err).Str("date", date).Msg("调度状态缓存反序列化失败")
		return nil, false
	}

	return &status, true
}

// Set 写入状态
func (c *Redis) Set(ctx context.Context, status *model.DispatchStatus, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("调度状态序列化失败: %w", err)
	}

	if err := c.client.Set(ctx, Key(status.OrgID, status.Date), data, ttl).Err(); err != nil {
		return fmt.Errorf("写入调度状态缓存失败: %w", err)
	}

	return nil
}

// Delete 失效缓存项
func (c *Redis) Delete(ctx context.Context, orgID uuid.UUID, date string) error {
	if err := c.client.Del(ctx, Key(orgID, date)).Err(); err != nil {
		return fmt.Errorf("失效调度状态缓存失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (c *Redis) Close() error {
	return c.client.Close()
}
