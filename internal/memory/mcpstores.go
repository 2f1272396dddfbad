package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/verdict/internal/mcp"
	"github.com/haasonsaas/verdict/internal/observability"
	"github.com/haasonsaas/verdict/pkg/models"
)

// ChromaStore keeps memories in a Chroma vector database reached over MCP.
// Documents embed justification plus findings; feature id rides along as
// queryable metadata. Transport failures degrade to empty results so the
// agent can proceed without memory.
type ChromaStore struct {
	client     *mcp.Client
	collection string
	logger     *observability.Logger
}

// NewChromaStore wraps a connected MCP client.
func NewChromaStore(client *mcp.Client, logger *observability.Logger) *ChromaStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ChromaStore{
		client:     client,
		collection: "assessments",
		logger:     logger,
	}
}

// Store implements Store.
func (s *ChromaStore) Store(ctx context.Context, memory *models.Memory) (string, error) {
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.Timestamp.IsZero() {
		memory.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(memory)
	if err != nil {
		return "", fmt.Errorf("marshal memory: %w", err)
	}

	_, err = s.client.CallTool(ctx, "chroma_add_documents", map[string]any{
		"collection_name": s.collection,
		"documents":       []string{memoryDocument(memory)},
		"ids":             []string{memory.ID},
		"metadatas": []map[string]any{{
			"feature_id": memory.FeatureID,
			"decision":   string(memory.Decision),
			"timestamp":  memory.Timestamp.Format(time.RFC3339),
			"memory":     string(payload),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("chroma add: %w", err)
	}
	return memory.ID, nil
}

// Retrieve implements Store via semantic similarity, with an optional
// feature id metadata filter.
func (s *ChromaStore) Retrieve(ctx context.Context, query Query) ([]*models.Memory, error) {
	args := map[string]any{
		"collection_name": s.collection,
		"query_texts":     []string{query.Text},
		"n_results":       limitOrDefault(query.Limit),
	}
	if query.FeatureID != "" {
		args["where"] = map[string]any{"feature_id": query.FeatureID}
	}

	result, err := s.client.CallTool(ctx, "chroma_query_documents", args)
	if err != nil {
		s.logger.Warn(ctx, "chroma query failed, continuing without memory", "error", err)
		return nil, nil
	}
	return parseMemoryMetadatas(result.Text()), nil
}

// RetrieveByID implements Store.
func (s *ChromaStore) RetrieveByID(ctx context.Context, id string) (*models.Memory, error) {
	result, err := s.client.CallTool(ctx, "chroma_get_documents", map[string]any{
		"collection_name": s.collection,
		"ids":             []string{id},
	})
	if err != nil {
		s.logger.Warn(ctx, "chroma get failed", "error", err)
		return nil, nil
	}
	memories := parseMemoryMetadatas(result.Text())
	if len(memories) == 0 {
		return nil, nil
	}
	return memories[0], nil
}

// ClearAll implements Store.
func (s *ChromaStore) ClearAll(ctx context.Context) error {
	_, err := s.client.CallTool(ctx, "chroma_delete_collection", map[string]any{
		"collection_name": s.collection,
	})
	return err
}

// Close implements Store.
func (s *ChromaStore) Close() error {
	return s.client.Close()
}

// GraphitiStore keeps memories as episodes in a Graphiti temporal knowledge
// graph reached over MCP. Retrieval uses the server's hybrid graph+semantic
// search; memories are reconstructed from episode metadata.
type GraphitiStore struct {
	client *mcp.Client
	group  string
	logger *observability.Logger
}

// NewGraphitiStore wraps a connected MCP client.
func NewGraphitiStore(client *mcp.Client, logger *observability.Logger) *GraphitiStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &GraphitiStore{
		client: client,
		group:  "release-assessments",
		logger: logger,
	}
}

// Store implements Store.
func (s *GraphitiStore) Store(ctx context.Context, memory *models.Memory) (string, error) {
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.Timestamp.IsZero() {
		memory.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(memory)
	if err != nil {
		return "", fmt.Errorf("marshal memory: %w", err)
	}

	_, err = s.client.CallTool(ctx, "add_episode", map[string]any{
		"group_id":           s.group,
		"name":               fmt.Sprintf("assessment %s %s", memory.FeatureID, memory.ID),
		"episode_body":       string(payload),
		"source":             "json",
		"source_description": "release readiness assessment",
	})
	if err != nil {
		return "", fmt.Errorf("graphiti add_episode: %w", err)
	}
	return memory.ID, nil
}

// Retrieve implements Store.
func (s *GraphitiStore) Retrieve(ctx context.Context, query Query) ([]*models.Memory, error) {
	text := query.Text
	if query.FeatureID != "" {
		text = strings.TrimSpace(query.FeatureID + " " + text)
	}

	result, err := s.client.CallTool(ctx, "search_episodes", map[string]any{
		"group_id":    s.group,
		"query":       text,
		"max_results": limitOrDefault(query.Limit),
	})
	if err != nil {
		s.logger.Warn(ctx, "graphiti search failed, continuing without memory", "error", err)
		return nil, nil
	}

	memories := parseMemoryMetadatas(result.Text())
	if query.FeatureID != "" {
		filtered := memories[:0]
		for _, m := range memories {
			if m.FeatureID == query.FeatureID {
				filtered = append(filtered, m)
			}
		}
		memories = filtered
	}
	return memories, nil
}

// RetrieveByID implements Store.
func (s *GraphitiStore) RetrieveByID(ctx context.Context, id string) (*models.Memory, error) {
	result, err := s.client.CallTool(ctx, "search_episodes", map[string]any{
		"group_id":    s.group,
		"query":       id,
		"max_results": 1,
	})
	if err != nil {
		s.logger.Warn(ctx, "graphiti fetch failed", "error", err)
		return nil, nil
	}
	for _, m := range parseMemoryMetadatas(result.Text()) {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

// ClearAll implements Store.
func (s *GraphitiStore) ClearAll(ctx context.Context) error {
	_, err := s.client.CallTool(ctx, "clear_graph", map[string]any{
		"group_id": s.group,
	})
	return err
}

// Close implements Store.
func (s *GraphitiStore) Close() error {
	return s.client.Close()
}

// memoryDocument builds the embeddable text for a memory.
func memoryDocument(m *models.Memory) string {
	var b strings.Builder
	b.WriteString(m.Justification)
	for k, v := range m.KeyFindings {
		fmt.Fprintf(&b, "\n%s: %v", k, v)
	}
	return b.String()
}

// parseMemoryMetadatas pulls serialized Memory objects out of an MCP tool
// result. Servers answer with varying envelope shapes, so this walks any
// JSON looking for objects that decode as a Memory.
func parseMemoryMetadatas(text string) []*models.Memory {
	var root any
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		return nil
	}
	var out []*models.Memory
	seen := make(map[string]bool)
	walkForMemories(root, seen, &out)
	return out
}

func walkForMemories(node any, seen map[string]bool, out *[]*models.Memory) {
	switch v := node.(type) {
	case string:
		if m := decodeMemory(v); m != nil && !seen[m.ID] {
			seen[m.ID] = true
			*out = append(*out, m)
		}
	case map[string]any:
		if payload, ok := v["memory"].(string); ok {
			if m := decodeMemory(payload); m != nil && !seen[m.ID] {
				seen[m.ID] = true
				*out = append(*out, m)
				return
			}
		}
		for _, child := range v {
			walkForMemories(child, seen, out)
		}
	case []any:
		for _, child := range v {
			walkForMemories(child, seen, out)
		}
	}
}

func decodeMemory(payload string) *models.Memory {
	if !strings.Contains(payload, "feature_id") {
		return nil
	}
	var m models.Memory
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil
	}
	if m.ID == "" || m.FeatureID == "" {
		return nil
	}
	return &m
}
