package chunklog

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ChunkRecord is the persisted form of a Record.
type ChunkRecord struct {
	gorm.Model
	SessionID      string    `gorm:"index;not null"`
	Mode           string    `gorm:"not null"`
	Location       string    `gorm:"index;not null"`
	Direction      string    `gorm:"not null"`
	SequenceNumber uint64    `gorm:"not null"`
	ChunkJSON      string    `gorm:"type:json"`
	MetadataJSON   string    `gorm:"type:json"`
	LoggedAt       time.Time `gorm:"index"`
}

// DBSink stores chunk records through gorm, mirroring the conversation
// store's backends.
type DBSink struct {
	db *gorm.DB
}

// NewSQLiteSink opens (or creates) a SQLite-backed sink.
func NewSQLiteSink(path string) (*DBSink, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("chunklog: open sqlite: %w", err)
	}
	return newDBSink(db)
}

// NewPostgresSink connects to a PostgreSQL-backed sink.
func NewPostgresSink(host, user, password, dbname string, port int) (*DBSink, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("chunklog: open postgres: %w", err)
	}
	return newDBSink(db)
}

func newDBSink(db *gorm.DB) (*DBSink, error) {
	if err := db.AutoMigrate(&ChunkRecord{}); err != nil {
		return nil, fmt.Errorf("chunklog: migrate: %w", err)
	}
	return &DBSink{db: db}, nil
}

// Save implements Sink.
func (s *DBSink) Save(rec Record) error {
	metadata := ""
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("chunklog: marshal metadata: %w", err)
		}
		metadata = string(b)
	}

	row := ChunkRecord{
		SessionID:      rec.SessionID,
		Mode:           rec.Mode,
		Location:       rec.Location,
		Direction:      rec.Direction,
		SequenceNumber: rec.SequenceNumber,
		ChunkJSON:      string(rec.Chunk),
		MetadataJSON:   metadata,
		LoggedAt:       rec.Timestamp,
	}
	return s.db.Create(&row).Error
}

// SweepOlderThan deletes records logged before the cutoff, returning the
// number removed.
func (s *DBSink) SweepOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("logged_at < ?", cutoff).Delete(&ChunkRecord{})
	return res.RowsAffected, res.Error
}

// Close releases the underlying connection.
func (s *DBSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
