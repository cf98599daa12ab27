package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"CrabDAO-Agent/internal/state"
)

const defaultStateID = "crabdao"

// StateStore implements state.Store on a single row of the agent_state table.
type StateStore struct {
	db  *sql.DB
	id  string
	now func() time.Time
}

// NewStateStore 创建连接池并执行内嵌迁移。id 为空时使用默认行标识。
func NewStateStore(ctx context.Context, cfg Config, id string) (*StateStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return newStateStore(db, id), nil
}

func newStateStore(db *sql.DB, id string) *StateStore {
	if strings.TrimSpace(id) == "" {
		id = defaultStateID
	}
	return &StateStore{db: db, id: id, now: time.Now}
}

// Load 读取状态行，不存在时返回 state.ErrNotFound。
func (s *StateStore) Load(ctx context.Context) (*state.AgentState, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM agent_state WHERE id = ?`, s.id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询 agent_state 失败: %w", err)
	}

	var st state.AgentState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("解析 agent_state 失败: %w", err)
	}
	return &st, nil
}

// Save 以 upsert 方式整体替换状态行。
func (s *StateStore) Save(ctx context.Context, st *state.AgentState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}
	const upsert = `INSERT INTO agent_state (id, payload, updated_at) VALUES (?, ?, ?)
    ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, upsert, s.id, payload, s.now().UTC()); err != nil {
		return fmt.Errorf("写入 agent_state 失败: %w", err)
	}
	return nil
}

// Close 关闭连接池。
func (s *StateStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ state.Store = (*StateStore)(nil)
