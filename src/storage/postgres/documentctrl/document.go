package documentctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Status tracks a document through the ingestion pipeline.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

type Document struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Filename     string    `gorm:"not null" json:"filename"`
	ObjectKey    string    `gorm:"not null;column:object_key" json:"object_key"`
	Status       Status    `gorm:"not null;index" json:"status"`
	ErrorMessage string    `gorm:"column:error_message" json:"error_message,omitempty"`
	ChunkCount   int       `gorm:"not null;default:0" json:"chunk_count"`
	ChunkSize    int       `gorm:"not null" json:"chunk_size"`
	ChunkOverlap int       `gorm:"not null" json:"chunk_overlap"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type DocumentService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewDocumentService(db *gorm.DB) (*DocumentService, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &DocumentService{
		db:        db,
		snowflake: node,
	}, nil
}

func (s *DocumentService) Create(ctx context.Context, filename, objectKey string, chunkSize, chunkOverlap int) (*Document, error) {
	doc := &Document{
		ID:           s.snowflake.Generate().Int64(),
		Filename:     filename,
		ObjectKey:    objectKey,
		Status:       StatusPending,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	}

	result := s.db.WithContext(ctx).Create(doc)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create document: %v", result.Error)
	}

	return doc, nil
}

func (s *DocumentService) GetByID(ctx context.Context, id int64) (*Document, error) {
	var doc Document
	result := s.db.WithContext(ctx).First(&doc, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %v", result.Error)
	}
	return &doc, nil
}

// List returns documents newest first. A non-positive limit returns all
// documents; gorm would otherwise render it as a literal LIMIT 0.
func (s *DocumentService) List(ctx context.Context, limit, offset int) ([]Document, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var docs []Document
	result := query.Find(&docs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list documents: %v", result.Error)
	}
	return docs, nil
}

func (s *DocumentService) ListByStatus(ctx context.Context, status Status) ([]Document, error) {
	var docs []Document
	result := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Find(&docs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list documents: %v", result.Error)
	}
	return docs, nil
}

// UpdateStatus transitions a document's processing state. The error message is
// cleared on non-failed transitions.
func (s *DocumentService) UpdateStatus(ctx context.Context, id int64, status Status, errorMessage string) error {
	result := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update document status: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("document not found: %d", id)
	}
	return nil
}

// MarkReady flips the document to ready and records its final chunk count.
func (s *DocumentService) MarkReady(ctx context.Context, id int64, chunkCount int) error {
	result := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        StatusReady,
		"error_message": "",
		"chunk_count":   chunkCount,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to mark document ready: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("document not found: %d", id)
	}
	return nil
}

func (s *DocumentService) Delete(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Delete(&Document{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete document: %v", result.Error)
	}
	return nil
}
