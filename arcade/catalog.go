package arcade

import (
	"context"

	"github.com/m4xw311/arcadechat/errors"
)

// GetToolsOptions selects the tools to bind to the agent.
type GetToolsOptions struct {
	UserID string
	// Toolkits are listed whole, up to Limit definitions each.
	Toolkits []string
	// Tools are fetched individually by qualified name, e.g. "Gmail.SendEmail".
	Tools []string
	Limit int
}

// GetTools loads the tool catalog. Toolkits are listed first, then explicit
// tools; a definition seen twice is kept once, at its first position.
func GetTools(ctx context.Context, c *Client, opts GetToolsOptions) ([]ToolDefinition, error) {
	seen := make(map[string]bool)
	var defs []ToolDefinition
	add := func(d ToolDefinition) {
		key := d.FunctionName()
		if seen[key] {
			return
		}
		seen[key] = true
		defs = append(defs, d)
	}

	for _, toolkit := range opts.Toolkits {
		list, err := c.ListTools(ctx, toolkit, opts.Limit, 0, opts.UserID)
		if err != nil {
			return nil, err
		}
		for _, d := range list.Items {
			add(d)
		}
	}
	for _, name := range opts.Tools {
		d, err := c.GetToolDefinition(ctx, name, opts.UserID)
		if err != nil {
			return nil, err
		}
		add(*d)
	}

	if len(defs) == 0 && (len(opts.Toolkits) > 0 || len(opts.Tools) > 0) {
		return nil, errors.New("no tools found for toolkits %v and tools %v", opts.Toolkits, opts.Tools)
	}
	return defs, nil
}

// JSONSchema converts the definition's parameters into a JSON Schema object.
func (d ToolDefinition) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(d.Input.Parameters))
	var required []string
	for _, p := range d.Input.Parameters {
		prop := valueSchema(p.ValueSchema.ValType, p.ValueSchema.InnerValType)
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.ValueSchema.Enum) > 0 {
			prop["enum"] = p.ValueSchema.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func valueSchema(valType, innerType string) map[string]interface{} {
	switch valType {
	case "string", "integer", "number", "boolean":
		return map[string]interface{}{"type": valType}
	case "array":
		items := map[string]interface{}{}
		if innerType != "" {
			items = valueSchema(innerType, "")
		}
		return map[string]interface{}{"type": "array", "items": items}
	default:
		// "json" and anything unknown
		return map[string]interface{}{"type": "object"}
	}
}
