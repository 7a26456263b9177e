package storage

import (
	"context"
	"sync"

	chatmodel "SanteProject/module/chat/model"
)

// MemoryCache 进程内实现：demo、测试和"没有可用持久层"时的兜底。
// 同样走 Encode/Decode，损坏路径和真实现一致可测。
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string][]byte)}
}

func (c *MemoryCache) Load(_ context.Context, conversationID string) ([]*chatmodel.Message, error) {
	c.mu.RLock()
	raw, ok := c.data[conversationID]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	msgs, err := DecodeSnapshot(raw)
	if err != nil {
		// 损坏条目当场丢弃，下一次 Load 干净返回空
		c.mu.Lock()
		delete(c.data, conversationID)
		c.mu.Unlock()
		return nil, err
	}
	return msgs, nil
}

func (c *MemoryCache) Save(_ context.Context, conversationID string, msgs []*chatmodel.Message) error {
	raw, err := EncodeSnapshot(msgs)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[conversationID] = raw
	c.mu.Unlock()
	return nil
}

// Corrupt 测试辅助：把某个会话的条目写成非法字节。
func (c *MemoryCache) Corrupt(conversationID string) {
	c.mu.Lock()
	c.data[conversationID] = []byte("{not json")
	c.mu.Unlock()
}
