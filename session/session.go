package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ToolCallID string                 `json:"tool_call_id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args,omitempty"`
}

type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant", "tool"
	Content string `json:"content"`
	// Assistant messages carry the calls the model asked for. Tool messages
	// carry exactly one entry naming the call they answer.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Format renders the message for the console.
func (m Message) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", m.Role)
	if m.Role == RoleTool && len(m.ToolCalls) == 1 {
		fmt.Fprintf(&b, " %s (%s)", m.ToolCalls[0].Name, m.ToolCalls[0].ToolCallID)
	}
	if m.Content != "" {
		b.WriteString("\n")
		b.WriteString(m.Content)
	}
	if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
		b.WriteString("\nTool Calls:")
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "\n  %s (%s)", tc.Name, tc.ToolCallID)
			keys := make([]string, 0, len(tc.Args))
			for k := range tc.Args {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "\n    %s: %s", k, formatArg(tc.Args[k]))
			}
		}
	}
	return b.String()
}

func formatArg(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// PendingInterrupt ties an interrupt id to the tool call it paused.
// Payload is the interrupt value as it was emitted.
type PendingInterrupt struct {
	ID         string          `json:"id"`
	ToolCallID string          `json:"tool_call_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Pending records a tools step that stopped on one or more interrupts.
// Calls holds every call of the assistant message in order; Interrupts holds the
// gated subset in the order the interrupts were emitted. Decided keeps the
// answers of earlier rounds, keyed by tool call id, for calls that were gated
// more than once.
type Pending struct {
	Calls      []ToolCall         `json:"calls"`
	Interrupts []PendingInterrupt `json:"interrupts"`
	Decided    map[string]bool    `json:"decided,omitempty"`
}

// Session is the checkpoint of one conversation thread.
type Session struct {
	ThreadID string    `json:"thread_id"`
	Messages []Message `json:"messages"`
	Pending  *Pending  `json:"pending,omitempty"`
}

// New creates an empty session for a thread.
func New(threadID string) *Session {
	return &Session{
		ThreadID: threadID,
		Messages: []Message{},
	}
}

// AddMessage appends a message to the session history.
func (s *Session) AddMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// Clone returns a deep copy so stores never share slices with callers.
func (s *Session) Clone() *Session {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("session: clone of thread %q: %v", s.ThreadID, err))
	}
	var c Session
	if err := json.Unmarshal(data, &c); err != nil {
		panic(fmt.Sprintf("session: clone of thread %q: %v", s.ThreadID, err))
	}
	return &c
}
