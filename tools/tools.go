package tools

import (
	"context"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/arcadechat/errors"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// InputSchema is the JSON Schema of the arguments object.
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Authorizer is implemented by tools that need an end-user grant before they run.
type Authorizer interface {
	Authorize(ctx context.Context) (*Authorization, error)
}

const (
	AuthStatusPending   = "pending"
	AuthStatusCompleted = "completed"
	AuthStatusFailed    = "failed"
)

// Authorization is the state of a grant request. URL is set while the user
// still has to act.
type Authorization struct {
	ID     string
	URL    string
	Status string
}

func (a *Authorization) Completed() bool {
	return a != nil && a.Status == AuthStatusCompleted
}

// EmptySchema accepts any object.
func EmptySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// ToolRegistry holds all available tools in registration order.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. A second tool with the same name is rejected.
func (r *ToolRegistry) Register(t Tool) error {
	if _, exists := r.tools[t.Name()]; exists {
		return errors.New("tool '%s' is already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the registered tools in registration order.
func (r *ToolRegistry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the registered tool names sorted alphabetically.
func (r *ToolRegistry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// ApprovalPolicy decides which tool calls need a human yes/no before they run.
type ApprovalPolicy struct {
	patterns []string
}

// NewApprovalPolicy validates each doublestar pattern up front.
func NewApprovalPolicy(patterns []string) (*ApprovalPolicy, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.New("invalid approval pattern '%s'", p)
		}
	}
	return &ApprovalPolicy{patterns: append([]string(nil), patterns...)}, nil
}

// RequiresApproval reports whether the tool name matches any pattern.
func (p *ApprovalPolicy) RequiresApproval(toolName string) bool {
	if p == nil {
		return false
	}
	for _, pattern := range p.patterns {
		if ok, _ := doublestar.Match(pattern, toolName); ok {
			return true
		}
	}
	return false
}
