package agent

import (
	"context"
	"iter"

	"github.com/m4xw311/arcadechat/errors"
	"github.com/m4xw311/arcadechat/session"
)

// Node names reported in updates.
const (
	NodeAgent = "agent"
	NodeTools = "tools"
)

var (
	// ErrPendingInterrupt is returned when a new message arrives on a thread
	// that is still waiting for decisions.
	ErrPendingInterrupt = errors.Sentinel("thread has pending interrupts")
	// ErrNoPendingInterrupt is returned when a resume arrives on a thread
	// that is not paused.
	ErrNoPendingInterrupt = errors.Sentinel("thread has no pending interrupts")
	// ErrDecisionMismatch is returned when the number of resume decisions
	// differs from the number of pending interrupts.
	ErrDecisionMismatch = errors.Sentinel("decision count does not match pending interrupts")
	// ErrStepLimit is returned when the model keeps calling tools past the
	// runner's step limit.
	ErrStepLimit = errors.Sentinel("step limit reached")
)

// TurnInput is what one Stream invocation runs on: a UserMessage or a Resume.
type TurnInput interface {
	isTurnInput()
}

// UserMessage starts a turn.
type UserMessage struct {
	Role    string
	Content string
}

// Resume continues a paused thread. Value is a single Decision when one
// interrupt was pending and a []Decision in interrupt order otherwise.
type Resume struct {
	Value any
}

func (UserMessage) isTurnInput() {}
func (Resume) isTurnInput()      {}

// NewResume builds the resume input for decisions collected in interrupt order.
func NewResume(decisions []Decision) Resume {
	if len(decisions) == 1 {
		return Resume{Value: decisions[0]}
	}
	return Resume{Value: append([]Decision(nil), decisions...)}
}

// Decisions normalizes the resume value to a slice.
func (r Resume) Decisions() ([]Decision, error) {
	switch v := r.Value.(type) {
	case Decision:
		return []Decision{v}, nil
	case []Decision:
		return v, nil
	default:
		return nil, errors.New("unsupported resume value %T", r.Value)
	}
}

// Decision answers one interrupt.
type Decision struct {
	Authorized bool `json:"authorized"`
}

// Update is one event of the stream. Either Interrupts is set, or Node names
// the step that produced Messages.
type Update struct {
	Node       string
	Messages   []session.Message
	Interrupts []Interrupt
}

// AuthorizationHandle identifies an authorization the user has to complete
// in a browser.
type AuthorizationHandle struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// InterruptPayload is the raw value carried by an interrupt.
type InterruptPayload struct {
	AuthorizationRequired bool                   `json:"authorization_required"`
	HITLRequired          bool                   `json:"hitl_required"`
	ToolName              string                 `json:"tool_name"`
	Authorization         *AuthorizationHandle   `json:"authorization_response,omitempty"`
	Input                 map[string]interface{} `json:"input,omitempty"`
}

// Interrupt pauses a run until a decision is supplied.
type Interrupt struct {
	ID    string           `json:"id"`
	Value InterruptPayload `json:"value"`
}

// Request is the classified form of an interrupt: one of
// AuthorizationRequest, ApprovalRequest or UnrecognizedRequest.
type Request interface {
	isRequest()
}

// AuthorizationRequest asks the user to complete a browser authorization.
type AuthorizationRequest struct {
	ToolName string
	Handle   AuthorizationHandle
}

// ApprovalRequest asks the user to approve one tool call.
type ApprovalRequest struct {
	ToolName string
	Input    map[string]interface{}
}

// UnrecognizedRequest is any payload that cannot be acted on. It is always
// answered with a denial.
type UnrecognizedRequest struct {
	Payload InterruptPayload
}

func (AuthorizationRequest) isRequest() {}
func (ApprovalRequest) isRequest()      {}
func (UnrecognizedRequest) isRequest()  {}

// Request classifies the interrupt. Authorization wins over approval.
func (i Interrupt) Request() Request {
	v := i.Value
	switch {
	case v.AuthorizationRequired && v.Authorization != nil && v.Authorization.ID != "":
		return AuthorizationRequest{ToolName: v.ToolName, Handle: *v.Authorization}
	case v.AuthorizationRequired:
		return UnrecognizedRequest{Payload: v}
	case v.HITLRequired:
		return ApprovalRequest{ToolName: v.ToolName, Input: v.Input}
	default:
		return UnrecognizedRequest{Payload: v}
	}
}

// RunConfig scopes a stream invocation to a conversation thread.
type RunConfig struct {
	ThreadID string
}

// Runner produces the update stream for one turn input. The sequence ends
// after an interrupt batch, after the final answer, or at the first error.
type Runner interface {
	Stream(ctx context.Context, input TurnInput, cfg RunConfig) iter.Seq2[Update, error]
}
