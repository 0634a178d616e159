package stores

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/voxa-labs/chatcore/protocol"
)

// StoredMessage is one persisted entry of the reconciled message list.
// PartsJSON holds the part union in envelope form; a message is updated in
// place as reconciliation mutates it, keyed by its stable MessageID.
type StoredMessage struct {
	gorm.Model
	ConversationID string `gorm:"index;not null"`
	Sequence       int    `gorm:"not null"`
	MessageID      string `gorm:"index;not null"` // stable across reconciliation
	Role           string `gorm:"not null"`       // "user", "assistant"
	PartsJSON      string `gorm:"type:json"`
	MetadataJSON   string `gorm:"type:json"`
}

// Conversation holds metadata for a chat conversation.
type Conversation struct {
	gorm.Model
	ConversationID string `gorm:"uniqueIndex;not null"`
	UserID         string `gorm:"index;not null"`
	Title          string `gorm:"type:text"`
	MessageCount   int    `gorm:"default:0"`
}

// ConversationInfo holds basic conversation metadata for listing.
type ConversationInfo struct {
	ConversationID string
	UserID         string
	Title          string
	MessageCount   int
	CreatedAt      string
	UpdatedAt      string
}

// MessageStore abstracts conversation persistence.
type MessageStore interface {
	// SaveMessage inserts or updates one message by its stable id.
	SaveMessage(conversationID string, msg *protocol.Message) error
	// SaveHistory persists the whole list, replacing what was stored.
	SaveHistory(conversationID string, msgs []*protocol.Message) error
	// FetchHistory loads and sanitizes the conversation.
	FetchHistory(conversationID string) ([]*protocol.Message, error)

	CreateConversation(convoID, userID string) error
	ListConversationsForUser(userID string) ([]ConversationInfo, error)

	Connect() error
	Close() error
	Ping() error
}

// StoreConfig holds configuration for database stores.
type StoreConfig struct {
	Type       string            `json:"type"`       // "sqlite", "postgres"
	Connection string            `json:"connection"` // connection string
	Options    map[string]string `json:"options"`
}

func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

// WithOption adds an option to the store configuration.
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	c.Options[key] = value
	return c
}

// NewStore dispatches on config.Type to the matching backend. The returned
// store is connected and migrated.
func NewStore(config *StoreConfig) (MessageStore, error) {
	switch config.Type {
	case "sqlite":
		return NewSQLiteStore(config)
	case "postgres":
		return NewPostgresStore(config)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// NewPostgresStoreDefault assembles a DSN from the individual connection
// parameters, the shape WithPostgresStore passes through.
func NewPostgresStoreDefault(host, user, password, dbname string, port int) (MessageStore, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
	return NewPostgresStoreSimple(dsn)
}
