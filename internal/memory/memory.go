// Package memory provides the interchangeable long-term store of past
// assessments. Back-ends share one contract: a file store, an embedded
// sqlite store, and vector/graph stores reached over MCP.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/verdict/internal/mcp"
	"github.com/haasonsaas/verdict/internal/observability"
	"github.com/haasonsaas/verdict/pkg/models"
)

// Query filters retrieval. Zero values mean "no filter".
type Query struct {
	// Text is matched semantically by the chroma and graphiti back-ends and
	// by substring (LIKE) in sqlite; the file back-end ignores it.
	Text string

	// FeatureID filters by exact feature id.
	FeatureID string

	// Limit caps the result count. Zero means the store default.
	Limit int
}

// Store is the capability the agent depends on. Back-ends must degrade
// gracefully: transport failures surface as empty results, never as turn
// aborts.
type Store interface {
	// Store persists a memory and returns its id.
	Store(ctx context.Context, memory *models.Memory) (string, error)

	// Retrieve returns matching memories. The file and sqlite back-ends
	// order them most recent first; chroma and graphiti keep the order the
	// server returns.
	Retrieve(ctx context.Context, query Query) ([]*models.Memory, error)

	// RetrieveByID fetches one memory, nil on miss.
	RetrieveByID(ctx context.Context, id string) (*models.Memory, error)

	// ClearAll removes every stored memory.
	ClearAll(ctx context.Context) error

	// Close releases back-end resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendChroma   = "chroma"
	BackendGraphiti = "graphiti"
	BackendNone     = "none"
)

// DefaultRetrieveLimit caps retrieval when the query does not.
const DefaultRetrieveLimit = 5

// Config selects and parameterizes a back-end.
type Config struct {
	// Backend is one of file, sqlite, chroma, graphiti, none.
	Backend string

	// Dir is the storage directory for the file back-end.
	Dir string

	// Path is the database file for the sqlite back-end.
	Path string

	// Server configures the MCP connection for chroma and graphiti.
	Server *mcp.ServerConfig
}

// Open builds a store from config. The "none" backend returns nil; the
// agent treats a nil store as memory disabled.
func Open(ctx context.Context, cfg Config, logger *observability.Logger) (Store, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	switch strings.ToLower(cfg.Backend) {
	case BackendNone, "":
		return nil, nil
	case BackendFile:
		return NewFileStore(cfg.Dir)
	case BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case BackendChroma:
		client := mcp.NewClient(cfg.Server, logger.Slog())
		if err := client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect chroma server: %w", err)
		}
		return NewChromaStore(client, logger), nil
	case BackendGraphiti:
		client := mcp.NewClient(cfg.Server, logger.Slog())
		if err := client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect graphiti server: %w", err)
		}
		return NewGraphitiStore(client, logger), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultRetrieveLimit
	}
	return limit
}
