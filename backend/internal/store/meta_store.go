package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// 工作区/文档元数据行（gorm）

type WorkspaceRow struct {
	ID   string `gorm:"primaryKey;size:64"`
	Name string `gorm:"size:255"`
}

func (WorkspaceRow) TableName() string { return "workspaces" }

type DocumentRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	WorkspaceID string `gorm:"size:64;index"`
}

func (DocumentRow) TableName() string { return "documents" }

type MetaStore struct {
	db *gorm.DB
}

func NewMetaStore(db *gorm.DB) *MetaStore {
	return &MetaStore{db: db}
}

func (s *MetaStore) AutoMigrate() error {
	return s.db.AutoMigrate(&WorkspaceRow{}, &DocumentRow{})
}

func (s *MetaStore) SaveWorkspace(ctx context.Context, id, name string) error {
	row := WorkspaceRow{ID: id, Name: name}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *MetaStore) SaveDocument(ctx context.Context, id, workspaceID string) error {
	row := DocumentRow{ID: id, WorkspaceID: workspaceID}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *MetaStore) GetWorkspace(ctx context.Context, id string) (*WorkspaceRow, error) {
	var row WorkspaceRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // 没找到，返回 nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (s *MetaStore) ListWorkspaceDocuments(ctx context.Context, workspaceID string) ([]DocumentRow, error) {
	var rows []DocumentRow
	err := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Find(&rows).Error
	return rows, err
}
