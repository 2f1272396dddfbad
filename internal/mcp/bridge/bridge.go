// Package bridge exposes MCP server tools through the agent's tool
// registry, prefixed per server, so remote tools need no per-tool wrappers.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/verdict/internal/agent"
	"github.com/haasonsaas/verdict/internal/mcp"
	"github.com/haasonsaas/verdict/internal/observability"
)

var bridgeNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// Tools registers every tool of the connected client into the agent's
// tool registry under an "mcp_<server>_" prefix, so remote tools need no
// per-tool wrappers. Returns the registered names.
func Tools(client *mcp.Client, registry *agent.Registry, logger *observability.Logger) ([]string, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	var registered []string
	for _, tool := range client.Tools() {
		name := BridgedName(client.Config().ID, tool.Name)
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}

		remoteName := tool.Name
		handler := func(ctx context.Context, input json.RawMessage) (any, error) {
			var args any
			if len(input) > 0 {
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, fmt.Errorf("decode input: %w", err)
				}
			}
			result, err := client.CallTool(ctx, remoteName, args)
			if err != nil {
				return nil, err
			}
			if result.IsError {
				return nil, fmt.Errorf("%s", result.Text())
			}
			return result.Text(), nil
		}

		if err := registry.Register(name, tool.Description, schema, handler); err != nil {
			logger.Warn(context.Background(), "skipping MCP tool", "tool", name, "error", err)
			continue
		}
		registered = append(registered, name)
	}
	return registered, nil
}

// BridgedName maps a server id and remote tool name into the registry's
// allowed name space.
func BridgedName(serverID, toolName string) string {
	raw := "mcp_" + serverID + "_" + toolName
	name := bridgeNameSanitizer.ReplaceAllString(raw, "_")
	return strings.Trim(name, "_")
}
