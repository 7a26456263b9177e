package pebbledb

import (
	"context"

	"SanteProject/logger"
	chatmodel "SanteProject/module/chat/model"
	"SanteProject/service/storage"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Cache 嵌入式键值缓存（设备端形态）。一个会话一条记录，整份快照
// JSON 落盘；读路径损坏即删除条目并上报 CacheCorrupt，永不致命。
type Cache struct {
	db *pebble.DB
}

// Open opens (or creates) the pebble database at path.
func Open(path string) (*Cache, error) {
	logger.Info("opening conversation cache", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble open failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func key(conversationID string) []byte {
	return []byte("conv:" + conversationID + ":snapshot")
}

func (c *Cache) Load(_ context.Context, conversationID string) ([]*chatmodel.Message, error) {
	raw, closer, err := c.db.Get(key(conversationID))
	if err == pebble.ErrNotFound {
		return nil, nil // 全新安装：空结果，不是错误
	}
	if err != nil {
		return nil, err
	}
	data := append([]byte(nil), raw...)
	_ = closer.Close()

	msgs, derr := storage.DecodeSnapshot(data)
	if derr != nil {
		_ = c.db.Delete(key(conversationID), pebble.Sync)
		logger.Warn("discarded corrupted cache entry",
			zap.String("conversation_id", conversationID), zap.Error(derr))
		return nil, derr
	}
	return msgs, nil
}

func (c *Cache) Save(_ context.Context, conversationID string, msgs []*chatmodel.Message) error {
	raw, err := storage.EncodeSnapshot(msgs)
	if err != nil {
		return err
	}
	return c.db.Set(key(conversationID), raw, pebble.Sync)
}
