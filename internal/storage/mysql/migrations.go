package mysql

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"CrabDAO-Agent/deploy/migrations"
	xerrors "CrabDAO-Agent/internal/errors"
)

// 迁移记录单独成表，避免与同库的其他服务共用 schema_migrations。
const migrationTable = "crabdao_state_migrations"

const (
	createMigrationTableSQL = `CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    version VARCHAR(32) NOT NULL PRIMARY KEY,
    file_name VARCHAR(255) NOT NULL,
    applied_at DATETIME(6) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	selectAppliedSQL = `SELECT version FROM ` + migrationTable
	insertAppliedSQL = `INSERT INTO ` + migrationTable + ` (version, file_name, applied_at) VALUES (?, ?, ?)`
)

var embeddedMigrations = migrations.Files

// stateMigration 对应一个 NNNN_description.sql 文件。
type stateMigration struct {
	version string
	file    string
	stmts   []string
}

type migrator struct {
	db     *sql.DB
	source fs.FS
	now    func() time.Time
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	m := &migrator{db: db, source: embeddedMigrations, now: time.Now}
	return m.run(ctx)
}

// run 按版本顺序执行尚未记录的迁移，每个文件一个事务。
func (m *migrator) run(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createMigrationTableSQL); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建迁移记录表失败")
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	files, err := readStateMigrations(m.source)
	if err != nil {
		return err
	}
	for _, mig := range files {
		if applied[mig.version] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}

func (m *migrator) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, selectAppliedSQL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取已应用迁移失败")
	}
	defer rows.Close()

	versions := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析迁移版本失败")
		}
		versions[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取已应用迁移失败")
	}
	return versions, nil
}

func (m *migrator) apply(ctx context.Context, mig stateMigration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启迁移事务失败")
	}
	for _, stmt := range mig.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("执行迁移 %s 失败", mig.file))
		}
	}
	if _, err := tx.ExecContext(ctx, insertAppliedSQL, mig.version, mig.file, m.now().UTC()); err != nil {
		_ = tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("记录迁移 %s 失败", mig.file))
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交迁移事务失败")
	}
	return nil
}

// readStateMigrations 读取 source 根目录下的 .sql 文件并按版本排序。
// 文件名必须带数字版本前缀，版本重复视为错误。
func readStateMigrations(source fs.FS) ([]stateMigration, error) {
	names, err := fs.Glob(source, "*.sql")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "列出迁移文件失败")
	}

	seen := make(map[string]string, len(names))
	files := make([]stateMigration, 0, len(names))
	for _, name := range names {
		version, ok := migrationVersion(name)
		if !ok {
			return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("迁移文件 %s 缺少数字版本前缀", name))
		}
		if prev, dup := seen[version]; dup {
			return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("迁移版本 %s 重复: %s, %s", version, prev, name))
		}
		seen[version] = name

		content, err := fs.ReadFile(source, name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取迁移文件 %s 失败", name))
		}
		stmts := splitStatements(string(content))
		if len(stmts) == 0 {
			continue
		}
		files = append(files, stateMigration{version: version, file: name, stmts: stmts})
	}

	slices.SortFunc(files, func(a, b stateMigration) int {
		return cmp.Compare(a.version, b.version)
	})
	return files, nil
}

// splitStatements 去掉整行 -- 注释后按分号切分。
func splitStatements(content string) []string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, stmt := range strings.Split(strings.Join(kept, "\n"), ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			stmts = append(stmts, trimmed)
		}
	}
	return stmts
}

func migrationVersion(name string) (string, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found || prefix == "" {
		return "", false
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return prefix, true
}
