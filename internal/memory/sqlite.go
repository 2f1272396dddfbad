package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/verdict/pkg/models"
)

// SQLiteStore keeps memories in an embedded sqlite database. Free-text
// queries match justification and findings with LIKE; it is the middle
// ground between the file scan and the MCP-backed semantic stores.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	feature_id    TEXT NOT NULL,
	decision      TEXT NOT NULL,
	justification TEXT NOT NULL,
	key_findings  TEXT,
	metadata      TEXT,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_feature ON memories(feature_id);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
`

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("memory: sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memories table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Store implements Store.
func (s *SQLiteStore) Store(ctx context.Context, memory *models.Memory) (string, error) {
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.Timestamp.IsZero() {
		memory.Timestamp = time.Now().UTC()
	}

	findings, err := json.Marshal(memory.KeyFindings)
	if err != nil {
		return "", fmt.Errorf("marshal key findings: %w", err)
	}
	metadata, err := json.Marshal(memory.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, feature_id, decision, justification, key_findings, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		memory.ID, memory.FeatureID, string(memory.Decision), memory.Justification,
		string(findings), string(metadata), memory.Timestamp)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return memory.ID, nil
}

// Retrieve implements Store.
func (s *SQLiteStore) Retrieve(ctx context.Context, query Query) ([]*models.Memory, error) {
	sqlQuery := `SELECT id, feature_id, decision, justification, key_findings, metadata, created_at
		FROM memories WHERE 1=1`
	var args []any
	if query.FeatureID != "" {
		sqlQuery += " AND feature_id = ?"
		args = append(args, query.FeatureID)
	}
	if query.Text != "" {
		sqlQuery += " AND (justification LIKE ? OR key_findings LIKE ? OR feature_id LIKE ?)"
		like := "%" + query.Text + "%"
		args = append(args, like, like, like)
	}
	sqlQuery += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limitOrDefault(query.Limit))

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RetrieveByID implements Store.
func (s *SQLiteStore) RetrieveByID(ctx context.Context, id string) (*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feature_id, decision, justification, key_findings, metadata, created_at
		 FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanMemory(rows)
}

// ClearAll implements Store.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM memories")
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMemory(rows *sql.Rows) (*models.Memory, error) {
	var m models.Memory
	var decision, findings, metadata string
	if err := rows.Scan(&m.ID, &m.FeatureID, &decision, &m.Justification, &findings, &metadata, &m.Timestamp); err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	m.Decision = models.Decision(decision)
	if findings != "" && findings != "null" {
		if err := json.Unmarshal([]byte(findings), &m.KeyFindings); err != nil {
			return nil, fmt.Errorf("parse key findings: %w", err)
		}
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	return &m, nil
}
