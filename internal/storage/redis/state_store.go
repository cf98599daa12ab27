package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"CrabDAO-Agent/internal/state"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "crabdao:agent-state"

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// commander is the part of *redis.Client the store relies on.
type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// StateStore implements state.Store on a Redis string key.
type StateStore struct {
	client commander
	key    string
}

// NewStateStore 创建 Redis 客户端并检查连通性。
func NewStateStore(ctx context.Context, cfg Config) (*StateStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newStateStore(client, cfg.Key), nil
}

func newStateStore(client commander, key string) *StateStore {
	if strings.TrimSpace(key) == "" {
		key = defaultKey
	}
	return &StateStore{client: client, key: key}
}

// Load 读取状态键，键不存在时返回 state.ErrNotFound。
func (s *StateStore) Load(ctx context.Context) (*state.AgentState, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取 Redis 状态失败: %w", err)
	}
	var st state.AgentState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("解析 Redis 状态失败: %w", err)
	}
	return &st, nil
}

// Save 整体覆盖状态键，不设置过期时间。
func (s *StateStore) Save(ctx context.Context, st *state.AgentState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}
	if err := s.client.Set(ctx, s.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("写入 Redis 状态失败: %w", err)
	}
	return nil
}

// Close 关闭客户端连接。
func (s *StateStore) Close() error {
	return s.client.Close()
}

var _ state.Store = (*StateStore)(nil)
