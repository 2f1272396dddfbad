// Package release provides the built-in assessment tools. Each tool reads
// local fixture data: ticket metadata, test/metric analysis reports, and
// planning documents. The runtime only sees pure async handlers with
// JSON-Schema contracts; the file layout is private to this package.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/verdict/internal/agent"
)

var featureIDSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"feature_id": {
			"type": "string",
			"description": "Feature ticket identifier, e.g. FEAT-MS-001"
		}
	},
	"required": ["feature_id"],
	"additionalProperties": false
}`)

var listDocsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {},
	"additionalProperties": false
}`)

var readDocSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {
			"type": "string",
			"description": "Document name as returned by list_docs"
		}
	},
	"required": ["path"],
	"additionalProperties": false
}`)

// Tools serves the built-in tool set from a fixture directory laid out as
// jira/<feature>.json, analysis/<feature>.json, and docs/*.
type Tools struct {
	dataDir string
}

// New creates the tool set over dataDir.
func New(dataDir string) *Tools {
	return &Tools{dataDir: dataDir}
}

// Register adds every built-in tool to the registry.
func (t *Tools) Register(registry *agent.Registry) error {
	entries := []struct {
		name        string
		description string
		schema      json.RawMessage
		handler     agent.Handler
	}{
		{
			"get_jira_data",
			"Fetch ticket metadata for a feature: status, assignee, sprint, linked issues, and review state.",
			featureIDSchema,
			t.getJiraData,
		},
		{
			"get_analysis",
			"Fetch the latest test and metric analysis report for a feature: pass rates, error rates, and regressions.",
			featureIDSchema,
			t.getAnalysis,
		},
		{
			"list_docs",
			"List available planning and architecture documents.",
			listDocsSchema,
			t.listDocs,
		},
		{
			"read_doc",
			"Read one document in full. Large documents are summarized before they reach the conversation.",
			readDocSchema,
			t.readDoc,
		},
	}
	for _, e := range entries {
		if err := registry.Register(e.name, e.description, e.schema, e.handler); err != nil {
			return fmt.Errorf("register %s: %w", e.name, err)
		}
	}
	return nil
}

type featureInput struct {
	FeatureID string `json:"feature_id"`
}

func (t *Tools) getJiraData(ctx context.Context, input json.RawMessage) (any, error) {
	var in featureInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	return t.readFeatureFile("jira", in.FeatureID)
}

func (t *Tools) getAnalysis(ctx context.Context, input json.RawMessage) (any, error) {
	var in featureInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	return t.readFeatureFile("analysis", in.FeatureID)
}

func (t *Tools) listDocs(ctx context.Context, input json.RawMessage) (any, error) {
	dir := filepath.Join(t.dataDir, "docs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var docs []string
	for _, e := range entries {
		if !e.IsDir() {
			docs = append(docs, e.Name())
		}
	}
	sort.Strings(docs)
	return docs, nil
}

func (t *Tools) readDoc(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	name := filepath.Base(in.Path)
	data, err := os.ReadFile(filepath.Join(t.dataDir, "docs", name)) // #nosec G304 -- confined to the docs dir via Base
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("document not found: %s", name)
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	return string(data), nil
}

func (t *Tools) readFeatureFile(kind, featureID string) (any, error) {
	id := strings.ToUpper(filepath.Base(featureID))
	data, err := os.ReadFile(filepath.Join(t.dataDir, kind, id+".json")) // #nosec G304 -- confined via Base
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no %s data for %s", kind, id)
		}
		return nil, fmt.Errorf("read %s data: %w", kind, err)
	}
	return json.RawMessage(data), nil
}
