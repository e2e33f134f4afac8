// Package cache 提供调度状态缓存抽象
//
// 缓存仅作为新鲜度提示：所有正确性检查（容量、冲突、重复分配）
// 都在提交时回查持久层，不信任缓存内容。
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paituan/paituan/pkg/model"
)

// StatusCache 按（组织，日期）键缓存调度状态
type StatusCache interface {
	// Get 返回缓存的状态；未命中或已过期返回 (nil, false)
	Get(ctx context.Context, orgID uuid.UUID, date string) (*model.DispatchStatus, bool)

	// Set 写入状态，ttl<=0 时使用实现方默认TTL
	Set(ctx context.Context, status *model.DispatchStatus, ttl time.Duration) error

	// Delete 失效某（组织，日期）的缓存项
	Delete(ctx context.Context, orgID uuid.UUID, date string) error
}

// DefaultTTL 缓存项默认生存时间
const DefaultTTL = 5 * time.Minute

type memoryEntry struct {
	status    *model.DispatchStatus
	expiresAt time.Time
}

// Memory 进程内TTL缓存（懒惰过期，读时剔除）
type Memory struct {
	entries map[string]memoryEntry
	ttl     time.Duration
	mu      sync.RWMutex
}

// NewMemory 创建进程内缓存
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

// Key 构造缓存键 dispatch:{org}:{date}
func Key(orgID uuid.UUID, date string) string {
	return "dispatch:" + orgID.String() + ":" + date
}

// Get 返回缓存的状态
func (c *Memory) Get(_ context.Context, orgID uuid.UUID, date string) (*model.DispatchStatus, bool) {
	key := Key(orgID, date)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// 过期后读时剔除
		if e, ok := c.entries[key]; ok && time.Now().After(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.status, true
}

// Set 写入状态
func (c *Memory) Set(_ context.Context, status *model.DispatchStatus, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	c.entries[Key(status.OrgID, status.Date)] = memoryEntry{
		status:    status,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()

	return nil
}

// Delete 失效缓存项
func (c *Memory) Delete(_ context.Context, orgID uuid.UUID, date string) error {
	c.mu.Lock()
	delete(c.entries, Key(orgID, date))
	c.mu.Unlock()
	return nil
}

// Len 返回当前缓存项数（测试用）
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
