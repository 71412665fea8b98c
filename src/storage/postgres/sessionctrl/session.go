package sessionctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Session struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Turn is one question/answer exchange in a session. Seq defines the strict
// arrival order of turns within a session.
type Turn struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"not null;index;type:uuid" json:"session_id"`
	Seq        int       `gorm:"not null" json:"seq"`
	Query      string    `gorm:"not null;type:text" json:"query"`
	Intent     string    `gorm:"not null" json:"intent"`
	Answer     string    `gorm:"type:text" json:"answer"`
	Status     string    `gorm:"not null" json:"status"`
	Provenance string    `gorm:"type:text" json:"provenance"`
	CreatedAt  time.Time `json:"created_at"`
}

type SessionService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewSessionService(db *gorm.DB) (*SessionService, error) {
	node, err := snowflake.NewNode(3) // Node number 3 for turns
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &SessionService{
		db:        db,
		snowflake: node,
	}, nil
}

// GetOrCreate looks up a session by id, creating it when unknown. An empty id
// always creates a fresh session.
func (s *SessionService) GetOrCreate(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID != "" {
		var session Session
		result := s.db.WithContext(ctx).First(&session, "id = ?", sessionID)
		if result.Error == nil {
			return &session, nil
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to get session: %v", result.Error)
		}
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	session := &Session{ID: sessionID}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %v", err)
	}

	return session, nil
}

// AppendTurn writes the next turn for a session, assigning the next sequence
// number. Callers are expected to serialize appends per session.
func (s *SessionService) AppendTurn(ctx context.Context, sessionID string, turn Turn) (*Turn, error) {
	turn.ID = s.snowflake.Generate().Int64()
	turn.SessionID = sessionID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		row := tx.Model(&Turn{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(seq), 0)").
			Row()
		if err := row.Scan(&maxSeq); err != nil {
			return err
		}

		turn.Seq = maxSeq + 1
		return tx.Create(&turn).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append turn: %v", err)
	}

	return &turn, nil
}

// ListTurns returns the most recent turns of a session in ascending sequence
// order. A limit of 0 returns all turns.
func (s *SessionService) ListTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	query := s.db.WithContext(ctx).Where("session_id = ?", sessionID)

	var turns []Turn
	if limit > 0 {
		// Fetch the newest N, then flip back to chronological order.
		result := query.Order("seq DESC").Limit(limit).Find(&turns)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to list turns: %v", result.Error)
		}
		for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
			turns[i], turns[j] = turns[j], turns[i]
		}
		return turns, nil
	}

	result := query.Order("seq ASC").Find(&turns)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list turns: %v", result.Error)
	}
	return turns, nil
}
