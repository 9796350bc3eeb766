package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
	"github.com/m4xw311/arcadechat/errors"
	"github.com/m4xw311/arcadechat/llm"
	"github.com/m4xw311/arcadechat/session"
	"github.com/m4xw311/arcadechat/tools"
)

// DefaultMaxSteps bounds the model/tool round trips of one stream invocation.
const DefaultMaxSteps = 25

// Agent is a Runner that alternates between the model and the tools bound to
// it, pausing on tool calls that need authorization or approval. Conversation
// state lives in a session.Store keyed by thread id.
type Agent struct {
	llm          llm.LLMClient
	registry     *tools.ToolRegistry
	store        session.Store
	policy       *tools.ApprovalPolicy
	systemPrompt string
	maxSteps     int
	newID        func() string
	logger       *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithApprovalPolicy sets which tool calls pause for a human yes/no.
func WithApprovalPolicy(p *tools.ApprovalPolicy) Option {
	return func(a *Agent) { a.policy = p }
}

// WithSystemPrompt sets the prompt sent ahead of every history.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithMaxSteps bounds model calls per invocation. Zero means no limit.
func WithMaxSteps(n int) Option {
	return func(a *Agent) { a.maxSteps = n }
}

// WithIDGenerator replaces the interrupt id generator.
func WithIDGenerator(f func() string) Option {
	return func(a *Agent) { a.newID = f }
}

// WithLogger sets the logger for tool failures and denials.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New creates an Agent over the registered tools. Thread state is kept in store.
func New(client llm.LLMClient, registry *tools.ToolRegistry, store session.Store, opts ...Option) *Agent {
	a := &Agent{
		llm:      client,
		registry: registry,
		store:    store,
		maxSteps: DefaultMaxSteps,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Stream runs the thread named by cfg on input.
func (a *Agent) Stream(ctx context.Context, input TurnInput, cfg RunConfig) iter.Seq2[Update, error] {
	return func(yield func(Update, error) bool) {
		if err := a.stream(ctx, input, cfg, yield); err != nil {
			yield(Update{}, err)
		}
	}
}

// errStopped signals that the consumer stopped iterating.
var errStopped = errors.Sentinel("stream consumer stopped")

func (a *Agent) stream(ctx context.Context, input TurnInput, cfg RunConfig, yield func(Update, error) bool) error {
	if cfg.ThreadID == "" {
		return errors.New("thread id is required")
	}
	sess, err := a.store.Load(cfg.ThreadID)
	if err != nil {
		return errors.Wrapf(err, "failed to load thread %s", cfg.ThreadID)
	}

	switch in := input.(type) {
	case UserMessage:
		if sess.Pending != nil {
			return errors.Wrapf(ErrPendingInterrupt, "thread %s", cfg.ThreadID)
		}
		role := in.Role
		if role == "" {
			role = session.RoleUser
		}
		sess.AddMessage(session.Message{Role: role, Content: in.Content})
		if err := a.store.Save(sess); err != nil {
			return errors.Wrapf(err, "failed to save thread %s", cfg.ThreadID)
		}
	case Resume:
		msgs, interrupts, err := a.resume(ctx, sess, in)
		if err != nil {
			return err
		}
		if len(interrupts) > 0 {
			yield(Update{Interrupts: interrupts}, nil)
			return nil
		}
		if !yield(Update{Node: NodeTools, Messages: msgs}, nil) {
			return nil
		}
	default:
		return errors.New("unsupported turn input %T", input)
	}

	err = a.loop(ctx, sess, yield)
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

// loop runs agent and tools steps until the model answers without tool calls
// or a tool call has to wait for a decision.
func (a *Agent) loop(ctx context.Context, sess *session.Session, yield func(Update, error) bool) error {
	for step := 0; ; step++ {
		if a.maxSteps > 0 && step >= a.maxSteps {
			return errors.Wrapf(ErrStepLimit, "after %d steps", step)
		}

		reply, err := a.llm.Chat(ctx, a.history(sess), a.registry.Tools())
		if err != nil {
			return errors.Wrapf(err, "LLM chat failed")
		}
		reply.Role = session.RoleAssistant
		sess.AddMessage(*reply)
		if err := a.store.Save(sess); err != nil {
			return errors.Wrapf(err, "failed to save thread %s", sess.ThreadID)
		}
		if !yield(Update{Node: NodeAgent, Messages: []session.Message{*reply}}, nil) {
			return errStopped
		}
		if len(reply.ToolCalls) == 0 {
			return nil
		}

		interrupts, pending, err := a.gate(ctx, reply.ToolCalls)
		if err != nil {
			return err
		}
		if len(interrupts) > 0 {
			sess.Pending = pending
			if err := a.store.Save(sess); err != nil {
				return errors.Wrapf(err, "failed to save thread %s", sess.ThreadID)
			}
			yield(Update{Interrupts: interrupts}, nil)
			return errStopped
		}

		var results []session.Message
		for _, tc := range reply.ToolCalls {
			results = append(results, a.execute(ctx, tc))
		}
		for _, m := range results {
			sess.AddMessage(m)
		}
		if err := a.store.Save(sess); err != nil {
			return errors.Wrapf(err, "failed to save thread %s", sess.ThreadID)
		}
		if !yield(Update{Node: NodeTools, Messages: results}, nil) {
			return errStopped
		}
	}
}

func (a *Agent) history(sess *session.Session) []session.Message {
	if a.systemPrompt == "" {
		return sess.Messages
	}
	msgs := make([]session.Message, 0, len(sess.Messages)+1)
	msgs = append(msgs, session.Message{Role: session.RoleSystem, Content: a.systemPrompt})
	return append(msgs, sess.Messages...)
}

// gate checks every call of one assistant message. A call whose authorization
// is still pending raises an authorization interrupt; otherwise a call matched
// by the approval policy raises an approval interrupt. One interrupt never
// asks for both: an authorized call is gated again for approval on resume.
func (a *Agent) gate(ctx context.Context, calls []session.ToolCall) ([]Interrupt, *session.Pending, error) {
	pending := &session.Pending{Calls: append([]session.ToolCall(nil), calls...)}
	var interrupts []Interrupt

	for _, tc := range calls {
		payload, err := a.authorizationPayload(ctx, tc)
		if err != nil {
			return nil, nil, err
		}
		if payload == nil {
			payload = a.approvalPayload(tc)
		}
		if payload == nil {
			continue
		}
		it, err := a.addInterrupt(pending, tc, *payload)
		if err != nil {
			return nil, nil, err
		}
		interrupts = append(interrupts, it)
	}
	return interrupts, pending, nil
}

// authorizationPayload returns nil when the call needs no further grant.
func (a *Agent) authorizationPayload(ctx context.Context, tc session.ToolCall) (*InterruptPayload, error) {
	tool, ok := a.registry.GetTool(tc.Name)
	if !ok {
		return nil, nil
	}
	authorizer, ok := tool.(tools.Authorizer)
	if !ok {
		return nil, nil
	}
	auth, err := authorizer.Authorize(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to authorize tool %s", tc.Name)
	}
	if auth.Completed() {
		return nil, nil
	}
	return &InterruptPayload{
		AuthorizationRequired: true,
		ToolName:              tc.Name,
		Authorization:         &AuthorizationHandle{ID: auth.ID, URL: auth.URL},
	}, nil
}

// approvalPayload returns nil when the policy lets the call run unasked.
func (a *Agent) approvalPayload(tc session.ToolCall) *InterruptPayload {
	if !a.policy.RequiresApproval(tc.Name) {
		return nil
	}
	return &InterruptPayload{HITLRequired: true, ToolName: tc.Name, Input: tc.Args}
}

func (a *Agent) addInterrupt(pending *session.Pending, tc session.ToolCall, payload InterruptPayload) (Interrupt, error) {
	it := Interrupt{ID: a.newID(), Value: payload}
	raw, err := json.Marshal(it.Value)
	if err != nil {
		return Interrupt{}, errors.Wrapf(err, "failed to encode interrupt for %s", tc.Name)
	}
	pending.Interrupts = append(pending.Interrupts, session.PendingInterrupt{
		ID:         it.ID,
		ToolCallID: tc.ToolCallID,
		Payload:    raw,
	})
	return it, nil
}

// resume applies decisions to the paused tools step. Calls granted an
// authorization that the approval policy also matches pause again with
// approval interrupts; otherwise the step completes and its tool messages are
// returned. Calls that were never gated run as usual.
func (a *Agent) resume(ctx context.Context, sess *session.Session, in Resume) ([]session.Message, []Interrupt, error) {
	pending := sess.Pending
	if pending == nil {
		return nil, nil, errors.Wrapf(ErrNoPendingInterrupt, "thread %s", sess.ThreadID)
	}
	decisions, err := in.Decisions()
	if err != nil {
		return nil, nil, err
	}
	if len(decisions) != len(pending.Interrupts) {
		return nil, nil, errors.Wrapf(ErrDecisionMismatch, "got %d decisions for %d interrupts", len(decisions), len(pending.Interrupts))
	}

	decided := make(map[string]bool, len(pending.Decided)+len(decisions))
	for id, ok := range pending.Decided {
		decided[id] = ok
	}
	calls := make(map[string]session.ToolCall, len(pending.Calls))
	for _, tc := range pending.Calls {
		calls[tc.ToolCallID] = tc
	}

	next := &session.Pending{Calls: pending.Calls, Decided: decided}
	var interrupts []Interrupt
	for i, pi := range pending.Interrupts {
		decided[pi.ToolCallID] = decisions[i].Authorized
		if !decisions[i].Authorized || !wasAuthorization(pi) {
			continue
		}
		tc := calls[pi.ToolCallID]
		payload := a.approvalPayload(tc)
		if payload == nil {
			continue
		}
		it, err := a.addInterrupt(next, tc, *payload)
		if err != nil {
			return nil, nil, err
		}
		interrupts = append(interrupts, it)
	}
	if len(interrupts) > 0 {
		sess.Pending = next
		if err := a.store.Save(sess); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to save thread %s", sess.ThreadID)
		}
		return nil, interrupts, nil
	}

	var results []session.Message
	for _, tc := range pending.Calls {
		if ok, gated := decided[tc.ToolCallID]; gated && !ok {
			a.logger.Info("tool call denied", "tool", tc.Name, "tool_call_id", tc.ToolCallID)
			results = append(results, toolMessage(tc, fmt.Sprintf("The user did not authorize the call to %s.", tc.Name)))
			continue
		}
		results = append(results, a.execute(ctx, tc))
	}
	if err := a.finish(sess, results); err != nil {
		return nil, nil, err
	}
	return results, nil, nil
}

func wasAuthorization(pi session.PendingInterrupt) bool {
	var payload InterruptPayload
	if err := json.Unmarshal(pi.Payload, &payload); err != nil {
		return false
	}
	return payload.AuthorizationRequired
}

// finish appends the answers of a paused tools step and clears the pause.
func (a *Agent) finish(sess *session.Session, results []session.Message) error {
	for _, m := range results {
		sess.AddMessage(m)
	}
	sess.Pending = nil
	if err := a.store.Save(sess); err != nil {
		return errors.Wrapf(err, "failed to save thread %s", sess.ThreadID)
	}
	return nil
}

// Abandon answers every call of a paused thread with a cancellation message
// and clears the pause, so the thread accepts new messages. It is a no-op on
// a thread that is not paused.
func (a *Agent) Abandon(ctx context.Context, cfg RunConfig) error {
	sess, err := a.store.Load(cfg.ThreadID)
	if err != nil {
		return errors.Wrapf(err, "failed to load thread %s", cfg.ThreadID)
	}
	if sess.Pending == nil {
		return nil
	}
	var results []session.Message
	for _, tc := range sess.Pending.Calls {
		results = append(results, toolMessage(tc, fmt.Sprintf("The call to %s was cancelled before it ran.", tc.Name)))
	}
	a.logger.Info("abandoned paused tool calls", "thread_id", cfg.ThreadID, "calls", len(results))
	return a.finish(sess, results)
}

// PendingInterrupts returns the interrupts a thread is paused on, in the
// order they were emitted.
func (a *Agent) PendingInterrupts(ctx context.Context, cfg RunConfig) ([]Interrupt, error) {
	sess, err := a.store.Load(cfg.ThreadID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load thread %s", cfg.ThreadID)
	}
	if sess.Pending == nil {
		return nil, nil
	}
	interrupts := make([]Interrupt, 0, len(sess.Pending.Interrupts))
	for _, pi := range sess.Pending.Interrupts {
		it := Interrupt{ID: pi.ID}
		if len(pi.Payload) > 0 {
			if err := json.Unmarshal(pi.Payload, &it.Value); err != nil {
				return nil, errors.Wrapf(err, "failed to decode interrupt %s", pi.ID)
			}
		}
		interrupts = append(interrupts, it)
	}
	return interrupts, nil
}

// execute runs one tool call. Failures become the tool message content so the
// model can react to them.
func (a *Agent) execute(ctx context.Context, tc session.ToolCall) session.Message {
	tool, ok := a.registry.GetTool(tc.Name)
	if !ok {
		a.logger.Warn("model called an unknown tool", "tool", tc.Name)
		return toolMessage(tc, fmt.Sprintf("Error: tool '%s' not found", tc.Name))
	}
	result, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		a.logger.Warn("tool call failed", "tool", tc.Name, "err", err)
		return toolMessage(tc, fmt.Sprintf("Error: %v", err))
	}
	return toolMessage(tc, result)
}

func toolMessage(tc session.ToolCall, content string) session.Message {
	return session.Message{
		Role:      session.RoleTool,
		Content:   content,
		ToolCalls: []session.ToolCall{{ToolCallID: tc.ToolCallID, Name: tc.Name}},
	}
}
