package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/m4xw311/arcadechat/config"
	"github.com/m4xw311/arcadechat/errors"
	"github.com/m4xw311/arcadechat/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools []*MCPTool
}

// NewMCPClient starts the MCP server subprocess and discovers its tools.
func NewMCPClient(ctx context.Context, name, command string, args []string) (*MCPClient, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "arcadechat", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &MCPClient{
		Name: name,
		cmd:  cmd,
		conn: conn,
	}
	toolListParams := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, toolListParams)
		if err != nil {
			client.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}

		for _, t := range toolList.Tools {
			client.tools = append(client.tools, &MCPTool{
				toolName:    t.Name,
				description: t.Description,
				schema:      schemaToMap(t.InputSchema),
				client:      client,
			})
		}

		if toolList.NextCursor == "" {
			break
		}
		toolListParams.Cursor = toolList.NextCursor
	}

	slog.Info("initialized MCP server", "server", name, "tools", len(client.tools))
	return client, nil
}

// StartServers launches every configured server. On failure the servers
// already started are stopped.
func StartServers(ctx context.Context, servers []config.MCPServer) ([]*MCPClient, error) {
	var clients []*MCPClient
	for _, s := range servers {
		c, err := NewMCPClient(ctx, s.Name, s.Command, s.Args)
		if err != nil {
			for _, started := range clients {
				started.Stop()
			}
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

// Tools returns the server's tools in the order the server listed them.
func (c *MCPClient) Tools() []tools.Tool {
	out := make([]tools.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	return out
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		slog.Info("terminating MCP server", "server", c.Name)
		return c.cmd.Process.Kill()
	}
	return nil
}

// MCPTool represents a tool available from an external MCP server.
type MCPTool struct {
	toolName    string
	description string
	schema      map[string]interface{}
	client      *MCPClient
}

// Name returns the tool's own name. Qualified names with separators are
// rejected by some providers, so the server name is not prefixed.
func (t *MCPTool) Name() string {
	return t.toolName
}

func (t *MCPTool) Description() string {
	return t.description
}

func (t *MCPTool) InputSchema() map[string]interface{} {
	return t.schema
}

// Execute sends the arguments to the MCP server and returns the text content.
func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	var op strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			op.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' reported an error: %s", t.Name(), op.String())
	}
	return op.String(), nil
}

// schemaToMap converts whatever schema type the SDK uses into a plain JSON
// Schema map, falling back to an open object.
func schemaToMap(schema interface{}) map[string]interface{} {
	data, err := json.Marshal(schema)
	if err != nil || string(data) == "null" {
		return tools.EmptySchema()
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil || len(m) == 0 {
		return tools.EmptySchema()
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]interface{}{}
	}
	return m
}

func (t *MCPTool) String() string {
	return fmt.Sprintf("%s:%s", t.client.Name, t.toolName)
}
