package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the record in a single JSON document on local disk.
type FileStore struct {
	path string
}

// NewFileStore 创建文件存储，父目录会在首次写入时创建。
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("状态文件路径不能为空")
	}
	return &FileStore{path: path}, nil
}

// Path returns the location of the state file.
func (f *FileStore) Path() string { return f.path }

// Load 读取并解析状态文件。
func (f *FileStore) Load(_ context.Context) (*AgentState, error) {
	content, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取状态文件失败: %w", err)
	}
	var st AgentState
	if err := json.Unmarshal(content, &st); err != nil {
		return nil, fmt.Errorf("解析状态文件失败: %w", err)
	}
	return &st, nil
}

// Save 先写临时文件再重命名，避免进程中断时留下半截 JSON。
func (f *FileStore) Save(_ context.Context, st *AgentState) error {
	encoded, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建状态目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".agent-state-*.json")
	if err != nil {
		return fmt.Errorf("创建临时状态文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入状态文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("写入状态文件失败: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("替换状态文件失败: %w", err)
	}
	return nil
}

// Close implements Store.
func (f *FileStore) Close() error { return nil }
