// Package arcade adapts Arcade tool definitions to the tools.Tool interface.
package arcade

import (
	"context"
	"encoding/json"

	arcadeapi "github.com/m4xw311/arcadechat/arcade"
	"github.com/m4xw311/arcadechat/errors"
	"github.com/m4xw311/arcadechat/tools"
)

// Broker is the part of the Arcade client a tool needs at call time.
type Broker interface {
	Authorize(ctx context.Context, toolName, userID string) (*arcadeapi.AuthorizationResponse, error)
	Execute(ctx context.Context, toolName string, input map[string]interface{}, userID string) (*arcadeapi.ExecuteResponse, error)
}

// ArcadeTool runs a broker-hosted tool on behalf of one user.
type ArcadeTool struct {
	def    arcadeapi.ToolDefinition
	broker Broker
	userID string
}

func New(def arcadeapi.ToolDefinition, broker Broker, userID string) *ArcadeTool {
	return &ArcadeTool{def: def, broker: broker, userID: userID}
}

// Load fetches the catalog and wraps every definition.
func Load(ctx context.Context, client *arcadeapi.Client, opts arcadeapi.GetToolsOptions) ([]tools.Tool, error) {
	defs, err := arcadeapi.GetTools(ctx, client, opts)
	if err != nil {
		return nil, err
	}
	out := make([]tools.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, New(d, client, opts.UserID))
	}
	return out, nil
}

// Name returns the model-facing name, e.g. "E2b_RunCode".
func (t *ArcadeTool) Name() string { return t.def.FunctionName() }

func (t *ArcadeTool) Description() string { return t.def.Description }

func (t *ArcadeTool) InputSchema() map[string]interface{} { return t.def.JSONSchema() }

func (t *ArcadeTool) qualifiedName() string {
	if t.def.QualifiedName != "" {
		return t.def.QualifiedName
	}
	return t.def.Toolkit.Name + "." + t.def.Name
}

// Authorize reports a completed grant for tools without an authorization
// requirement, and asks the broker otherwise.
func (t *ArcadeTool) Authorize(ctx context.Context) (*tools.Authorization, error) {
	if !t.def.RequiresAuthorization() {
		return &tools.Authorization{Status: tools.AuthStatusCompleted}, nil
	}
	resp, err := t.broker.Authorize(ctx, t.qualifiedName(), t.userID)
	if err != nil {
		return nil, err
	}
	auth := &tools.Authorization{ID: resp.ID, URL: resp.URL, Status: tools.AuthStatusPending}
	switch resp.Status {
	case arcadeapi.StatusCompleted:
		auth.Status = tools.AuthStatusCompleted
	case arcadeapi.StatusFailed:
		auth.Status = tools.AuthStatusFailed
	}
	return auth, nil
}

// Execute calls the tool through the broker and returns its output value as text.
func (t *ArcadeTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	resp, err := t.broker.Execute(ctx, t.qualifiedName(), args, t.userID)
	if err != nil {
		return "", err
	}
	out := resp.Output
	if out != nil && out.Authorization != nil && out.Authorization.Status != arcadeapi.StatusCompleted {
		return "", errors.New("tool '%s' is not authorized; authorize at %s", t.Name(), out.Authorization.URL)
	}
	if out != nil && out.Error != nil {
		return "", errors.New("tool '%s' failed: %s", t.Name(), out.Error.Message)
	}
	if !resp.Success {
		return "", errors.New("tool '%s' failed with status '%s'", t.Name(), resp.Status)
	}
	if out == nil || len(out.Value) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(out.Value, &s); err == nil {
		return s, nil
	}
	return string(out.Value), nil
}
