package contract

import (
	"fmt"
	"strings"
	"sync"

	"abiscope/internal/codec"
	"abiscope/pkg/models"
)

// Key 缓存键：链ID + 小写地址
type Key struct {
	ChainID uint64
	Address string
}

// NewKey 创建缓存键，地址统一为小写
func NewKey(chainID uint64, address string) Key {
	return Key{ChainID: chainID, Address: strings.ToLower(address)}
}

// String 持久化层使用的键
func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.ChainID, k.Address)
}

// Resolution 一次解析的结果
type Resolution struct {
	Interface *codec.ContractInterface
	Address   *models.ResolvedAddress
}

// Cache 进程内接口缓存，键不同即为不同条目
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*Resolution
}

// NewCache 创建缓存
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]*Resolution)}
}

// Get 读取
func (c *Cache) Get(key Key) (*Resolution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[key]
	return res, ok
}

// Put 写入
func (c *Cache) Put(key Key, res *Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = res
}

// Invalidate 删除单个条目，返回条目是否存在
func (c *Cache) Invalidate(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Len 条目数
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear 清空
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*Resolution)
}
