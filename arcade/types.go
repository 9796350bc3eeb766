package arcade

import "encoding/json"

type Toolkit struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

type ValueSchema struct {
	ValType      string   `json:"val_type"`
	InnerValType string   `json:"inner_val_type,omitempty"`
	Enum         []string `json:"enum,omitempty"`
}

type Parameter struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	ValueSchema ValueSchema `json:"value_schema"`
}

type ToolInput struct {
	Parameters []Parameter `json:"parameters"`
}

type AuthorizationRequirement struct {
	ProviderID   string `json:"provider_id,omitempty"`
	ProviderType string `json:"provider_type,omitempty"`
}

type Requirements struct {
	Authorization *AuthorizationRequirement `json:"authorization,omitempty"`
}

// ToolDefinition describes one tool as the broker lists it.
type ToolDefinition struct {
	Name               string        `json:"name"`
	FullyQualifiedName string        `json:"fully_qualified_name"`
	QualifiedName      string        `json:"qualified_name"`
	Description        string        `json:"description"`
	Toolkit            Toolkit       `json:"toolkit"`
	Input              ToolInput     `json:"input"`
	Requirements       *Requirements `json:"requirements,omitempty"`
}

// RequiresAuthorization reports whether calls need a user grant.
func (d ToolDefinition) RequiresAuthorization() bool {
	return d.Requirements != nil && d.Requirements.Authorization != nil
}

// FunctionName is the model-facing name: the qualified name with dots
// replaced, e.g. "E2b.RunCode" becomes "E2b_RunCode".
func (d ToolDefinition) FunctionName() string {
	name := d.QualifiedName
	if name == "" {
		name = d.Toolkit.Name + "." + d.Name
	}
	out := []byte(name)
	for i, c := range out {
		if c == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}

// ToolList is one page of tool definitions.
type ToolList struct {
	Items      []ToolDefinition `json:"items"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
	PageCount  int              `json:"page_count"`
	TotalCount int              `json:"total_count"`
}

type AuthorizationContext struct {
	Token string `json:"token,omitempty"`
}

// AuthorizationResponse is returned by authorize and auth status calls.
type AuthorizationResponse struct {
	ID         string                `json:"id"`
	Status     string                `json:"status"`
	URL        string                `json:"url,omitempty"`
	UserID     string                `json:"user_id,omitempty"`
	ProviderID string                `json:"provider_id,omitempty"`
	Scopes     []string              `json:"scopes,omitempty"`
	Context    *AuthorizationContext `json:"context,omitempty"`
}

const (
	StatusNotStarted = "not_started"
	StatusPending    = "pending"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type authorizeRequest struct {
	ToolName    string `json:"tool_name"`
	UserID      string `json:"user_id"`
	ToolVersion string `json:"tool_version,omitempty"`
}

type executeRequest struct {
	ToolName string                 `json:"tool_name"`
	Input    map[string]interface{} `json:"input,omitempty"`
	UserID   string                 `json:"user_id"`
}

type ToolError struct {
	Message          string `json:"message"`
	DeveloperMessage string `json:"developer_message,omitempty"`
	CanRetry         bool   `json:"can_retry,omitempty"`
}

type ExecuteOutput struct {
	Value         json.RawMessage        `json:"value,omitempty"`
	Error         *ToolError             `json:"error,omitempty"`
	Authorization *AuthorizationResponse `json:"authorization,omitempty"`
}

// ExecuteResponse is the result of one tool execution.
type ExecuteResponse struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Success     bool           `json:"success"`
	Duration    float64        `json:"duration,omitempty"`
	Output      *ExecuteOutput `json:"output,omitempty"`
}

type apiError struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}
