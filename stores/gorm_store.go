package stores

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/voxa-labs/chatcore/protocol"
)

// gormStore carries the MessageStore behavior shared by the SQLite and
// PostgreSQL backends; only connection setup differs.
type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) migrate() error {
	if err := s.db.AutoMigrate(&Conversation{}, &StoredMessage{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

// SaveMessage inserts the message, or updates the existing row when the
// stable message id is already stored. Reconciliation mutates messages in
// place, so the same id is saved repeatedly as a turn streams in.
func (s *gormStore) SaveMessage(conversationID string, msg *protocol.Message) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message must have a stable id")
	}

	s.ensureConversation(conversationID, "")

	var existing StoredMessage
	err := s.db.Where("conversation_id = ? AND message_id = ?", conversationID, msg.ID).
		First(&existing).Error
	switch {
	case err == nil:
		row, encErr := encodeMessage(conversationID, existing.Sequence, msg)
		if encErr != nil {
			return encErr
		}
		return s.db.Model(&existing).
			Updates(map[string]any{
				"role":          row.Role,
				"parts_json":    row.PartsJSON,
				"metadata_json": row.MetadataJSON,
			}).Error

	case errors.Is(err, gorm.ErrRecordNotFound):
		var count int64
		if err := s.db.Model(&StoredMessage{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count existing messages: %w", err)
		}
		seq := int(count) + 1

		row, encErr := encodeMessage(conversationID, seq, msg)
		if encErr != nil {
			return encErr
		}

		tx := s.db.Begin()
		if err := tx.Create(&row).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to create message record: %w", err)
		}
		if err := tx.Model(&Conversation{}).Where("conversation_id = ?", conversationID).
			Update("message_count", seq).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to update conversation message count: %w", err)
		}
		return tx.Commit().Error

	default:
		return fmt.Errorf("failed to look up message: %w", err)
	}
}

// SaveHistory replaces the stored conversation with the given list.
func (s *gormStore) SaveHistory(conversationID string, msgs []*protocol.Message) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	s.ensureConversation(conversationID, "")

	tx := s.db.Begin()
	if err := tx.Where("conversation_id = ?", conversationID).Delete(&StoredMessage{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear stored history: %w", err)
	}
	for i, msg := range msgs {
		row, err := encodeMessage(conversationID, i+1, msg)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to store message %s: %w", msg.ID, err)
		}
	}
	if err := tx.Model(&Conversation{}).Where("conversation_id = ?", conversationID).
		Update("message_count", len(msgs)).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update conversation message count: %w", err)
	}
	return tx.Commit().Error
}

// FetchHistory loads the conversation in sequence order and sanitizes it.
func (s *gormStore) FetchHistory(conversationID string) ([]*protocol.Message, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var rows []StoredMessage
	if err := s.db.Where("conversation_id = ?", conversationID).Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	msgs := make([]*protocol.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := decodeMessage(row)
		if err != nil {
			log.Printf("Skipping undecodable message %s: %v", row.MessageID, err)
			continue
		}
		msgs = append(msgs, msg)
	}

	return SanitizeHistory(msgs), nil
}

// CreateConversation creates a new conversation record.
func (s *gormStore) CreateConversation(convoID, userID string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	conv := Conversation{
		ConversationID: convoID,
		UserID:         userID,
		MessageCount:   0,
	}
	return s.db.Create(&conv).Error
}

// ListConversationsForUser returns conversations with details for a user.
func (s *gormStore) ListConversationsForUser(userID string) ([]ConversationInfo, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var convs []Conversation
	if err := s.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	infos := make([]ConversationInfo, len(convs))
	for i, c := range convs {
		infos[i] = ConversationInfo{
			ConversationID: c.ConversationID,
			UserID:         c.UserID,
			Title:          c.Title,
			MessageCount:   c.MessageCount,
			CreatedAt:      c.CreatedAt.Format("2006-01-02 15:04:05"),
			UpdatedAt:      c.UpdatedAt.Format("2006-01-02 15:04:05"),
		}
	}
	return infos, nil
}

func (s *gormStore) ensureConversation(conversationID, userID string) {
	var count int64
	if err := s.db.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		log.Printf("Warning: Error checking for conversation %s: %v", conversationID, err)
		return
	}
	if count == 0 {
		if err := s.CreateConversation(conversationID, userID); err != nil {
			log.Printf("Warning: Failed to create conversation record for %s: %v", conversationID, err)
		}
	}
}

// Close closes the database connection.
func (s *gormStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive.
func (s *gormStore) Ping() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
