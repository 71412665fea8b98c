package chunkctrl

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Chunk struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	DocumentID    int64     `gorm:"not null;index" json:"document_id"`
	ChunkIndex    int       `gorm:"not null;column:chunk_index" json:"chunk_index"`
	Content       string    `gorm:"not null;type:text" json:"content"`
	ContentLength int       `gorm:"not null" json:"content_length"`
	PageNumber    int       `gorm:"column:page_number" json:"page_number,omitempty"`
	Heading       string    `gorm:"column:heading" json:"heading,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type ChunkService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewChunkService(db *gorm.DB) (*ChunkService, error) {
	node, err := snowflake.NewNode(2) // Node number 2 for chunks
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &ChunkService{
		db:        db,
		snowflake: node,
	}, nil
}

// ReplaceForDocument swaps the complete chunk set of a document inside one
// transaction. Readers never observe a mix of old and new chunks.
func (s *ChunkService) ReplaceForDocument(ctx context.Context, documentID int64, chunks []Chunk) ([]Chunk, error) {
	for i := range chunks {
		chunks[i].ID = s.snowflake.Generate().Int64()
		chunks[i].DocumentID = documentID
		chunks[i].ContentLength = len(chunks[i].Content)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.Create(&chunks).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace chunks: %v", err)
	}

	return chunks, nil
}

func (s *ChunkService) GetByIDs(ctx context.Context, ids []int64) ([]Chunk, error) {
	if len(ids) == 0 {
		return []Chunk{}, nil
	}

	var chunks []Chunk
	result := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&chunks)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get chunks: %v", result.Error)
	}
	return chunks, nil
}

func (s *ChunkService) GetByDocumentID(ctx context.Context, documentID int64) ([]Chunk, error) {
	var chunks []Chunk
	result := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get chunks: %v", result.Error)
	}
	return chunks, nil
}

func (s *ChunkService) CountByDocumentID(ctx context.Context, documentID int64) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&Chunk{}).Where("document_id = ?", documentID).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count chunks: %v", result.Error)
	}
	return count, nil
}

func (s *ChunkService) DeleteByDocumentID(ctx context.Context, documentID int64) error {
	result := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&Chunk{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete chunks: %v", result.Error)
	}
	return nil
}
