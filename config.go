package chatcore

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/voxa-labs/chatcore/chunklog"
	"github.com/voxa-labs/chatcore/protocol"
	"github.com/voxa-labs/chatcore/stores"
)

// Config holds configuration for a chat client.
type Config struct {
	Mode     string // "direct", "sse" or "ws"
	Endpoint string // bridge URL for sse/ws modes
	Model    string // provider model for direct mode
	Store    stores.MessageStore
	Registry *protocol.Registry
	ChunkLog *chunklog.Logger
}

// NewConfig creates a configuration from the environment, falling back to
// defaults. A .env file is honored when present.
func NewConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Mode:     "direct",
		Model:    "gemini-2.0-flash",
		Endpoint: "http://localhost:8000/chat/stream/default",
	}
	if v := os.Getenv("CHATCORE_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("CHATCORE_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("CHATCORE_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	return cfg
}

// WithMode sets the transport mode.
func (c *Config) WithMode(mode string) *Config {
	c.Mode = mode
	return c
}

// WithEndpoint sets the bridge endpoint for sse/ws modes.
func (c *Config) WithEndpoint(endpoint string) *Config {
	c.Endpoint = endpoint
	return c
}

// WithModel sets the provider model for direct mode.
func (c *Config) WithModel(model string) *Config {
	c.Model = model
	return c
}

// WithStore sets the message store for the configuration.
func (c *Config) WithStore(store stores.MessageStore) *Config {
	c.Store = store
	return c
}

// WithSQLiteStore sets a SQLite store with the specified database path.
func (c *Config) WithSQLiteStore(dbPath string) *Config {
	store, err := stores.NewSQLiteStoreSimple(dbPath)
	if err != nil {
		panic("Failed to create SQLite store: " + err.Error())
	}
	c.Store = store
	return c
}

// WithPostgresStore sets a PostgreSQL store with the specified connection parameters.
func (c *Config) WithPostgresStore(host, user, password, dbname string, port int) *Config {
	store, err := stores.NewPostgresStoreDefault(host, user, password, dbname, port)
	if err != nil {
		panic("Failed to create PostgreSQL store: " + err.Error())
	}
	c.Store = store
	return c
}

// WithRegistry sets the tool schema registry.
func (c *Config) WithRegistry(reg *protocol.Registry) *Config {
	c.Registry = reg
	return c
}

// WithChunkLog sets the chunk logger used for debugging and replay.
func (c *Config) WithChunkLog(cl *chunklog.Logger) *Config {
	c.ChunkLog = cl
	return c
}
