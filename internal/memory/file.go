package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/verdict/pkg/models"
)

// FileStore keeps one JSON file per memory under a directory. Retrieval is
// a linear scan filtered by feature id, sorted by timestamp descending.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("memory: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Store implements Store.
func (s *FileStore) Store(ctx context.Context, memory *models.Memory) (string, error) {
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.Timestamp.IsZero() {
		memory.Timestamp = time.Now().UTC()
	}

	data, err := json.MarshalIndent(memory, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal memory: %w", err)
	}
	path := filepath.Join(s.dir, memory.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write memory: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename memory: %w", err)
	}
	return memory.ID, nil
}

// Retrieve implements Store. The file back-end filters by feature id only;
// free-text matching belongs to the semantic back-ends.
func (s *FileStore) Retrieve(ctx context.Context, query Query) ([]*models.Memory, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*models.Memory
	for _, m := range all {
		if query.FeatureID != "" && m.FeatureID != query.FeatureID {
			continue
		}
		matched = append(matched, m)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	limit := limitOrDefault(query.Limit)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// RetrieveByID implements Store.
func (s *FileStore) RetrieveByID(ctx context.Context, id string) (*models.Memory, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json")) // #nosec G304 -- paths derive from the store dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m models.Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse memory %s: %w", id, err)
	}
	return &m, nil
}

// ClearAll implements Store.
func (s *FileStore) ClearAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) scan(ctx context.Context) ([]*models.Memory, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read memory dir: %w", err)
	}
	var all []*models.Memory
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		m, err := s.RetrieveByID(ctx, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil || m == nil {
			continue
		}
		all = append(all, m)
	}
	return all, nil
}
