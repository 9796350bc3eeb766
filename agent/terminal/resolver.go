package terminal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/m4xw311/arcadechat/agent"
)

// AuthWaiter blocks until the authorization with the given id completes. It
// returns an error when the grant fails or ctx is done first.
type AuthWaiter interface {
	WaitForCompletion(ctx context.Context, id string) error
}

// AuthWaiterFunc adapts a function to AuthWaiter.
type AuthWaiterFunc func(ctx context.Context, id string) error

func (f AuthWaiterFunc) WaitForCompletion(ctx context.Context, id string) error {
	return f(ctx, id)
}

// Resolver turns one interrupt into one decision. Anything it cannot act on
// is denied.
type Resolver struct {
	waiter  AuthWaiter
	in      *lineReader
	print   printer
	logger  *slog.Logger
	timeout time.Duration
}

// NewResolver creates a Resolver that prompts on in and writes to out. in must
// be the reader the rest of the session reads from.
func NewResolver(waiter AuthWaiter, in *bufio.Reader, out io.Writer, logger *slog.Logger) *Resolver {
	return newResolver(waiter, newLineReader(in), out, logger)
}

func newResolver(waiter AuthWaiter, in *lineReader, out io.Writer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		waiter: waiter,
		in:     in,
		print:  printer{out: out, st: newStyles(out)},
		logger: logger,
	}
}

// SetAuthTimeout bounds each authorization wait. Zero waits until ctx is done.
func (r *Resolver) SetAuthTimeout(d time.Duration) {
	r.timeout = d
}

// Resolve produces the decision for it.
func (r *Resolver) Resolve(ctx context.Context, it agent.Interrupt) agent.Decision {
	switch req := it.Request().(type) {
	case agent.AuthorizationRequest:
		r.announce(req)
		ok := r.wait(ctx, req)
		r.report(ok)
		return agent.Decision{Authorized: ok}
	case agent.ApprovalRequest:
		return agent.Decision{Authorized: r.approve(ctx, req)}
	case agent.UnrecognizedRequest:
		r.logger.Warn("denying unrecognized interrupt", "interrupt_id", it.ID, "tool", req.Payload.ToolName)
		return agent.Decision{}
	default:
		return agent.Decision{}
	}
}

func (r *Resolver) announce(req agent.AuthorizationRequest) {
	r.print.system("Authorization required for tool call %s", req.ToolName)
	r.print.system("Please authorize in your browser %s", req.Handle.URL)
	r.print.system("Waiting for you to complete authorization...")
}

// wait blocks on the external authorization. It writes nothing to the
// console, so several waits may run at once.
func (r *Resolver) wait(ctx context.Context, req agent.AuthorizationRequest) bool {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.waiter.WaitForCompletion(ctx, req.Handle.ID); err != nil {
		r.logger.Error("error waiting for authorization to complete", "tool", req.ToolName, "authorization_id", req.Handle.ID, "err", err)
		return false
	}
	return true
}

func (r *Resolver) report(ok bool) {
	if ok {
		r.print.system("Authorization granted. Resuming execution...")
		return
	}
	r.print.system("Authorization not completed. The tool call will be denied.")
}

func (r *Resolver) approve(ctx context.Context, req agent.ApprovalRequest) bool {
	r.print.system("Human in the loop required for tool call %s", req.ToolName)
	r.print.system("Please approve the tool call %s", formatInput(req.Input))
	ok, err := confirm(ctx, r.in, r.print.out, "Do you approve this tool call?")
	if err != nil {
		r.logger.Warn("no approval answer, denying tool call", "tool", req.ToolName, "err", err)
		return false
	}
	return ok
}

func formatInput(input map[string]interface{}) string {
	if len(input) == 0 {
		return "{}"
	}
	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(data)
}
