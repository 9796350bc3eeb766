package terminal

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/arcadechat/agent"
	"github.com/m4xw311/arcadechat/errors"
	"github.com/m4xw311/arcadechat/llm"
	"github.com/m4xw311/arcadechat/session"
	"github.com/m4xw311/arcadechat/tools"
)

// invocation is the scripted result of one Stream call.
type invocation struct {
	updates []agent.Update
	err     error
}

type fakeRunner struct {
	mu         sync.Mutex
	script     []invocation
	repeatLast bool
	inputs     []agent.TurnInput
	cfgs       []agent.RunConfig
}

func (f *fakeRunner) Stream(ctx context.Context, input agent.TurnInput, cfg agent.RunConfig) iter.Seq2[agent.Update, error] {
	return func(yield func(agent.Update, error) bool) {
		f.mu.Lock()
		f.inputs = append(f.inputs, input)
		f.cfgs = append(f.cfgs, cfg)
		n := len(f.inputs) - 1
		var inv invocation
		switch {
		case n < len(f.script):
			inv = f.script[n]
		case f.repeatLast && len(f.script) > 0:
			inv = f.script[len(f.script)-1]
		}
		f.mu.Unlock()

		for _, u := range inv.updates {
			if !yield(u, nil) {
				return
			}
		}
		if inv.err != nil {
			yield(agent.Update{}, inv.err)
		}
	}
}

type pendingRunner struct {
	*fakeRunner
	pending []agent.Interrupt
}

func (p *pendingRunner) PendingInterrupts(ctx context.Context, cfg agent.RunConfig) ([]agent.Interrupt, error) {
	return p.pending, nil
}

type fakeWaiter struct {
	mu    sync.Mutex
	ids   []string
	errs  map[string]error
	block bool
}

func (w *fakeWaiter) WaitForCompletion(ctx context.Context, id string) error {
	w.mu.Lock()
	w.ids = append(w.ids, id)
	err := w.errs[id]
	w.mu.Unlock()
	if w.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (w *fakeWaiter) calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.ids...)
}

func authInterrupt(id, tool string) agent.Interrupt {
	return agent.Interrupt{ID: id, Value: agent.InterruptPayload{
		AuthorizationRequired: true,
		ToolName:              tool,
		Authorization:         &agent.AuthorizationHandle{ID: "auth-" + id, URL: "https://auth.example/" + id},
	}}
}

func approvalInterrupt(id, tool string) agent.Interrupt {
	return agent.Interrupt{ID: id, Value: agent.InterruptPayload{
		HITLRequired: true,
		ToolName:     tool,
		Input:        map[string]interface{}{"code": "print(1)"},
	}}
}

func interruptUpdate(its ...agent.Interrupt) agent.Update {
	return agent.Update{Interrupts: its}
}

func messageUpdate(contents ...string) agent.Update {
	u := agent.Update{Node: agent.NodeAgent}
	for _, c := range contents {
		u.Messages = append(u.Messages, session.Message{Role: session.RoleAssistant, Content: c})
	}
	return u
}

type harness struct {
	term *Terminal
	out  *bytes.Buffer
	logs *bytes.Buffer
}

func newHarness(runner agent.Runner, waiter AuthWaiter, input string, opts ...Option) *harness {
	h := &harness{out: &bytes.Buffer{}, logs: &bytes.Buffer{}}
	logger := slog.New(slog.NewTextHandler(h.logs, nil))
	opts = append([]Option{WithInput(strings.NewReader(input)), WithOutput(h.out), WithLogger(logger)}, opts...)
	h.term = New(runner, waiter, agent.RunConfig{ThreadID: "thread-1"}, opts...)
	return h
}

func TestRunExitFirst(t *testing.T) {
	runner := &fakeRunner{}
	h := newHarness(runner, &fakeWaiter{}, "EXIT\nhello\n")

	if err := h.term.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(runner.inputs) != 0 {
		t.Errorf("agent invoked %d times, want 0", len(runner.inputs))
	}
	out := h.out.String()
	if !strings.Contains(out, welcomeMessage) || !strings.Contains(out, farewellMessage) {
		t.Errorf("missing welcome or farewell in %q", out)
	}
}

func TestRunEOFSaysFarewell(t *testing.T) {
	h := newHarness(&fakeRunner{}, &fakeWaiter{}, "")
	if err := h.term.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(h.out.String(), farewellMessage) {
		t.Errorf("missing farewell in %q", h.out.String())
	}
}

func TestRunPrintsMessagesInOrder(t *testing.T) {
	runner := &fakeRunner{script: []invocation{{updates: []agent.Update{messageUpdate("first answer", "second answer")}}}}
	h := newHarness(runner, &fakeWaiter{}, "hi\n\nexit\n")

	if err := h.term.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(runner.inputs) != 1 {
		t.Fatalf("agent invoked %d times, want 1", len(runner.inputs))
	}
	msg, ok := runner.inputs[0].(agent.UserMessage)
	if !ok || msg.Content != "hi" || msg.Role != session.RoleUser {
		t.Errorf("unexpected turn input %#v", runner.inputs[0])
	}
	if runner.cfgs[0].ThreadID != "thread-1" {
		t.Errorf("thread id not passed, got %q", runner.cfgs[0].ThreadID)
	}

	out := h.out.String()
	first, second := strings.Index(out, "first answer"), strings.Index(out, "second answer")
	if first < 0 || second < first {
		t.Errorf("messages missing or out of order in %q", out)
	}
	if !strings.Contains(out, assistantGlyph+" [assistant]") {
		t.Errorf("assistant glyph missing in %q", out)
	}
	if strings.Count(out[second:], prompt) != 2 {
		t.Errorf("expected a re-prompt after the turn in %q", out)
	}
}

func TestRunResumesAfterAuthorization(t *testing.T) {
	runner := &fakeRunner{script: []invocation{
		{updates: []agent.Update{messageUpdate("calling gmail"), interruptUpdate(authInterrupt("i1", "Gmail_SendEmail"))}},
		{updates: []agent.Update{messageUpdate("sent")}},
	}}
	waiter := &fakeWaiter{}
	h := newHarness(runner, waiter, "send it\nexit\n")

	if err := h.term.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := waiter.calls(); len(got) != 1 || got[0] != "auth-i1" {
		t.Fatalf("waiter calls = %v", got)
	}
	if len(runner.inputs) != 2 {
		t.Fatalf("agent invoked %d times, want 2", len(runner.inputs))
	}
	resume, ok := runner.inputs[1].(agent.Resume)
	if !ok {
		t.Fatalf("second input is %T, want agent.Resume", runner.inputs[1])
	}
	if d, ok := resume.Value.(agent.Decision); !ok || !d.Authorized {
		t.Errorf("resume value = %#v, want bare authorized decision", resume.Value)
	}
	out := h.out.String()
	for _, want := range []string{"Authorization required for tool call Gmail_SendEmail", "https://auth.example/i1", "Authorization granted", "sent"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRunLogsStreamErrorAndContinues(t *testing.T) {
	runner := &fakeRunner{script: []invocation{
		{updates: []agent.Update{messageUpdate("partial")}, err: errors.New("model unavailable")},
		{updates: []agent.Update{messageUpdate("recovered")}},
	}}
	h := newHarness(runner, &fakeWaiter{}, "one\ntwo\nexit\n")

	if err := h.term.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(runner.inputs) != 2 {
		t.Errorf("agent invoked %d times, want 2", len(runner.inputs))
	}
	if !strings.Contains(h.logs.String(), "turn failed") || !strings.Contains(h.logs.String(), "model unavailable") {
		t.Errorf("stream error not logged: %q", h.logs.String())
	}
	if !strings.Contains(h.out.String(), "recovered") || !strings.Contains(h.out.String(), farewellMessage) {
		t.Errorf("session did not continue: %q", h.out.String())
	}
}

func TestResumeCycleKeepsDecisionOrder(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		name := "sequential"
		if concurrent {
			name = "concurrent"
		}
		t.Run(name, func(t *testing.T) {
			unknown := agent.Interrupt{ID: "i4", Value: agent.InterruptPayload{ToolName: "Mystery"}}
			runner := &fakeRunner{script: []invocation{
				{updates: []agent.Update{interruptUpdate(
					authInterrupt("i1", "Gmail_SendEmail"),
					approvalInterrupt("i2", "E2b_RunCode"),
					authInterrupt("i3", "Slack_Post"),
					unknown,
				)}},
				{},
			}}
			waiter := &fakeWaiter{errs: map[string]error{"auth-i3": errors.New("authorization failed")}}
			h := newHarness(runner, waiter, "n\n", WithConcurrentAuthWaits(concurrent))

			if err := h.term.runTurn(context.Background(), "go"); err != nil {
				t.Fatalf("runTurn failed: %v", err)
			}
			resume := runner.inputs[1].(agent.Resume)
			got, ok := resume.Value.([]agent.Decision)
			if !ok {
				t.Fatalf("resume value = %#v, want []agent.Decision", resume.Value)
			}
			want := []bool{true, false, false, false}
			if len(got) != len(want) {
				t.Fatalf("got %d decisions, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].Authorized != want[i] {
					t.Errorf("decision %d = %v, want %v", i, got[i].Authorized, want[i])
				}
			}
			if len(waiter.calls()) != 2 {
				t.Errorf("waiter called %v, want the two authorization handles", waiter.calls())
			}
		})
	}
}

func TestResumeLimit(t *testing.T) {
	runner := &fakeRunner{
		script:     []invocation{{updates: []agent.Update{interruptUpdate(authInterrupt("i1", "Gmail_SendEmail"))}}},
		repeatLast: true,
	}
	h := newHarness(runner, &fakeWaiter{}, "", WithMaxResumeRounds(2))

	err := h.term.runTurn(context.Background(), "go")
	if !errors.Is(err, ErrResumeLimit) {
		t.Fatalf("expected ErrResumeLimit, got %v", err)
	}
	if len(runner.inputs) != 3 {
		t.Errorf("agent invoked %d times, want 3", len(runner.inputs))
	}
}

func TestRunResumesPendingFromPreviousSession(t *testing.T) {
	runner := &pendingRunner{
		fakeRunner: &fakeRunner{script: []invocation{{updates: []agent.Update{messageUpdate("done")}}}},
		pending:    []agent.Interrupt{approvalInterrupt("i1", "E2b_RunCode")},
	}
	h := newHarness(runner, &fakeWaiter{}, "y\nexit\n")

	if err := h.term.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(runner.inputs) != 1 {
		t.Fatalf("agent invoked %d times, want 1", len(runner.inputs))
	}
	resume, ok := runner.inputs[0].(agent.Resume)
	if !ok {
		t.Fatalf("input is %T, want agent.Resume", runner.inputs[0])
	}
	if d, _ := resume.Value.(agent.Decision); !d.Authorized {
		t.Errorf("resume value = %#v, want approval", resume.Value)
	}
}

type countingTool struct {
	name  string
	calls int
}

func (c *countingTool) Name() string                        { return c.name }
func (c *countingTool) Description() string                 { return "counts calls" }
func (c *countingTool) InputSchema() map[string]interface{} { return tools.EmptySchema() }
func (c *countingTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	c.calls++
	return "ok", nil
}

func TestResumeLimitReleasesThread(t *testing.T) {
	run := &countingTool{name: "E2b_RunCode"}
	registry := tools.NewToolRegistry()
	if err := registry.Register(run); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	policy, err := tools.NewApprovalPolicy([]string{"E2b_*"})
	if err != nil {
		t.Fatalf("NewApprovalPolicy failed: %v", err)
	}
	client := &llm.MockLLMClient{Responses: []*session.Message{
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ToolCallID: "c1", Name: "E2b_RunCode"}}},
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ToolCallID: "c2", Name: "E2b_RunCode"}}},
	}}
	silent := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	runner := agent.New(client, registry, session.NewMemoryStore(),
		agent.WithApprovalPolicy(policy),
		agent.WithLogger(silent),
	)
	h := newHarness(runner, &fakeWaiter{}, "go\ny\nhello\nhello again\nexit\n", WithMaxResumeRounds(1))

	if err := h.term.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	logs := h.logs.String()
	if !strings.Contains(logs, ErrResumeLimit.Error()) {
		t.Errorf("resume limit not logged: %q", logs)
	}
	if strings.Contains(logs, agent.ErrPendingInterrupt.Error()) {
		t.Errorf("thread stayed paused after the failed turn: %q", logs)
	}
	out := h.out.String()
	for _, want := range []string{"You said: 'hello'", "You said: 'hello again'"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if run.calls != 1 {
		t.Errorf("tool ran %d times, want 1", run.calls)
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	runner := &fakeRunner{}
	h := &harness{out: &bytes.Buffer{}, logs: &bytes.Buffer{}}
	h.term = New(runner, &fakeWaiter{}, agent.RunConfig{ThreadID: "thread-1"},
		WithInput(pr), WithOutput(h.out), WithLogger(slog.New(slog.NewTextHandler(h.logs, nil))))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.term.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept waiting for input after the context ended")
	}
	if !strings.Contains(h.out.String(), farewellMessage) {
		t.Errorf("missing farewell in %q", h.out.String())
	}
	if len(runner.inputs) != 0 {
		t.Errorf("agent invoked %d times, want 0", len(runner.inputs))
	}
}

func newTestResolver(waiter AuthWaiter, input string) (*Resolver, *bytes.Buffer, *bufio.Reader) {
	out := &bytes.Buffer{}
	in := bufio.NewReader(strings.NewReader(input))
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewResolver(waiter, in, out, logger), out, in
}

func TestResolverAuthorizationTakesPriority(t *testing.T) {
	waiter := &fakeWaiter{}
	r, out, in := newTestResolver(waiter, "n\n")
	it := authInterrupt("i1", "Gmail_SendEmail")
	it.Value.HITLRequired = true

	if d := r.Resolve(context.Background(), it); !d.Authorized {
		t.Error("expected authorized decision")
	}
	if len(waiter.calls()) != 1 {
		t.Errorf("waiter called %d times, want 1", len(waiter.calls()))
	}
	if strings.Contains(out.String(), "(y/n)") {
		t.Error("approval prompt shown for an authorization interrupt")
	}
	if line, _ := in.ReadString('\n'); line != "n\n" {
		t.Errorf("input was consumed, remaining %q", line)
	}
}

func TestResolverUnrecognizedFailsClosed(t *testing.T) {
	waiter := &fakeWaiter{}
	r, out, in := newTestResolver(waiter, "y\n")

	for _, it := range []agent.Interrupt{
		{ID: "i1", Value: agent.InterruptPayload{ToolName: "x"}},
		{ID: "i2", Value: agent.InterruptPayload{AuthorizationRequired: true, ToolName: "x"}},
	} {
		if d := r.Resolve(context.Background(), it); d.Authorized {
			t.Errorf("%s: expected denial", it.ID)
		}
	}
	if len(waiter.calls()) != 0 || out.Len() != 0 {
		t.Errorf("unexpected wait or output: waits=%v out=%q", waiter.calls(), out.String())
	}
	if line, _ := in.ReadString('\n'); line != "y\n" {
		t.Errorf("input was consumed, remaining %q", line)
	}
}

func TestResolverWaitFailureDenies(t *testing.T) {
	waiter := &fakeWaiter{errs: map[string]error{"auth-i1": errors.New("authorization failed")}}
	r, _, _ := newTestResolver(waiter, "")

	if d := r.Resolve(context.Background(), authInterrupt("i1", "Gmail_SendEmail")); d.Authorized {
		t.Error("expected denial after failed wait")
	}
}

func TestResolverAuthTimeout(t *testing.T) {
	r, _, _ := newTestResolver(&fakeWaiter{block: true}, "")
	r.SetAuthTimeout(10 * time.Millisecond)

	if d := r.Resolve(context.Background(), authInterrupt("i1", "Gmail_SendEmail")); d.Authorized {
		t.Error("expected denial after timeout")
	}
}

func TestResolverApproval(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"maybe\ny\n", true},
		{"", false},
	}
	for _, tt := range tests {
		r, out, _ := newTestResolver(&fakeWaiter{}, tt.input)
		if d := r.Resolve(context.Background(), approvalInterrupt("i1", "E2b_RunCode")); d.Authorized != tt.want {
			t.Errorf("input %q: got %v, want %v", tt.input, d.Authorized, tt.want)
		}
		if !strings.Contains(out.String(), "E2b_RunCode") || !strings.Contains(out.String(), `"code": "print(1)"`) {
			t.Errorf("input %q: tool name or input not shown: %q", tt.input, out.String())
		}
	}
}
