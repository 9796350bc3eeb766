package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/m4xw311/arcadechat/errors"
	"github.com/m4xw311/arcadechat/session"
	"github.com/m4xw311/arcadechat/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
// Chat returns the next assistant message, which may request tool calls.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error)
}

// New builds the client for a provider name from the configuration.
func New(ctx context.Context, provider, model string) (LLMClient, error) {
	switch provider {
	case "openai", "":
		return NewOpenAILLMClient(ctx, model)
	case "anthropic":
		return NewAnthropicLLMClient(ctx, model)
	case "bedrock":
		return NewBedrockLLMClient(ctx, model)
	case "gemini":
		return NewGeminiLLMClient(ctx, model)
	case "mock":
		return &MockLLMClient{}, nil
	default:
		return nil, errors.New("unknown llm '%s': must be openai, anthropic, bedrock, gemini or mock", provider)
	}
}

// MockLLMClient replays scripted responses in order. Once they run out it
// echoes the last user message.
type MockLLMClient struct {
	Responses []*session.Message

	mu    sync.Mutex
	calls [][]session.Message
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]session.Message(nil), messages...))

	if len(m.Responses) > 0 {
		resp := m.Responses[0]
		m.Responses = m.Responses[1:]
		return resp, nil
	}

	lastUserMessage := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == session.RoleUser {
			lastUserMessage = messages[i].Content
			break
		}
	}
	return &session.Message{
		Role:    session.RoleAssistant,
		Content: fmt.Sprintf("I am a mock LLM with %d tools. You said: '%s'.", len(availableTools), lastUserMessage),
	}, nil
}

// Calls returns the message histories the mock has received.
func (m *MockLLMClient) Calls() [][]session.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]session.Message(nil), m.calls...)
}

// splitSystem separates the system prompt (the last system message wins)
// from the conversation.
func splitSystem(messages []session.Message) ([]session.Message, string) {
	var rest []session.Message
	var system string
	for _, msg := range messages {
		if msg.Role == session.RoleSystem {
			system = msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return rest, system
}

// schemaProperties returns the "properties" object of a JSON Schema.
func schemaProperties(schema map[string]interface{}) map[string]interface{} {
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		return props
	}
	return map[string]interface{}{}
}

// schemaRequired returns the "required" list of a JSON Schema, accepting both
// []string and decoded []interface{} forms.
func schemaRequired(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		var out []string
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
