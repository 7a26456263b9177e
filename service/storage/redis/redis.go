package redis

import (
	"context"
	"sync"
	"time"

	chatmodel "SanteProject/module/chat/model"
	"SanteProject/service/storage"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce sync.Once
	redisMgr  *Manager
)

type Manager struct {
	client *redis.Client
}

// Config 用于初始化 Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Init 初始化 Redis 管理器（单例）
func Init(c Config) error {
	var initErr error
	redisOnce.Do(func() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
			PoolSize: c.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			initErr = err
			return
		}

		redisMgr = &Manager{client: rdb}
	})
	return initErr
}

// Client 获取 Redis Client
func Client() *redis.Client {
	if redisMgr == nil {
		panic("redis not initialized, call Init first")
	}
	return redisMgr.client
}

// Close 关闭连接
func Close() error {
	if redisMgr != nil && redisMgr.client != nil {
		return redisMgr.client.Close()
	}
	return nil
}

// ---- ConversationCache adapter ----

// Cache redis 版会话快照缓存。适合网页端/多实例客服工作台这类
// 没有本地磁盘、但有共享 redis 的部署形态。
type Cache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewCache ttl<=0 表示不过期。
func NewCache(rdb redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// NewCacheFromManager 用 Init 建好的单例连接构造缓存；Init 之前调用
// 和 Client 一样直接 panic。
func NewCacheFromManager(ttl time.Duration) *Cache {
	return NewCache(Client(), ttl)
}

func key(conversationID string) string {
	return "sante:conv:" + conversationID + ":snapshot"
}

func (c *Cache) Load(ctx context.Context, conversationID string) ([]*chatmodel.Message, error) {
	raw, err := c.rdb.Get(ctx, key(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, nil // 全新安装/从未保存过：不是错误
	}
	if err != nil {
		return nil, err
	}
	msgs, derr := storage.DecodeSnapshot(raw)
	if derr != nil {
		// 损坏条目丢弃，别让下次打开再踩一遍
		_ = c.rdb.Del(ctx, key(conversationID)).Err()
		return nil, derr
	}
	return msgs, nil
}

func (c *Cache) Save(ctx context.Context, conversationID string, msgs []*chatmodel.Message) error {
	raw, err := storage.EncodeSnapshot(msgs)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(conversationID), raw, c.ttl).Err()
}
