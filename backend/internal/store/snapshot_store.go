package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// SnapshotStore：文档物化状态与仓库导出的落库。
// 内存是权威，这里只是进程重启后的恢复点
type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// EnsureSchema：同版本重复插入靠主键 (document_id, version) 拦截
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS document_snapshots (
			document_id VARCHAR(64) NOT NULL,
			version BIGINT UNSIGNED NOT NULL,
			content JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (document_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS repository_exports (
			repository_id VARCHAR(64) NOT NULL,
			payload JSON NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (repository_id)
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SnapshotStore) SaveDocumentSnapshot(ctx context.Context, docID string, version uint64, state map[string]any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO document_snapshots (document_id, version, content)
		VALUES (?, ?, ?)`,
		docID,
		version,
		payload,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		// 同版本重复落盘直接当成功
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}

func (s *SnapshotStore) LoadDocumentSnapshot(ctx context.Context, docID string) (map[string]any, uint64, error) {
	var payload []byte
	var version uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT content, version FROM document_snapshots
		WHERE document_id = ? ORDER BY version DESC LIMIT 1`,
		docID,
	).Scan(&payload, &version)
	if err != nil {
		return nil, 0, err
	}
	var state map[string]any
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, 0, err
	}
	return state, version, nil
}

// SaveRepositoryExport：版本仓库整体导出落库，最近一次覆盖式保存
func (s *SnapshotStore) SaveRepositoryExport(ctx context.Context, repoID string, export any) error {
	payload, err := json.Marshal(export)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repository_exports (repository_id, payload)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload)`,
		repoID,
		payload,
	)
	return err
}

func (s *SnapshotStore) LoadRepositoryExport(ctx context.Context, repoID string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM repository_exports WHERE repository_id = ?`,
		repoID,
	).Scan(&payload)
	return payload, err
}
