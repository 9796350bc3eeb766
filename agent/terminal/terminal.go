package terminal

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/m4xw311/arcadechat/agent"
	"github.com/m4xw311/arcadechat/config"
	"github.com/m4xw311/arcadechat/errors"
)

const (
	welcomeMessage  = "Welcome to the chatbot! Type 'exit' to quit."
	farewellMessage = "👋 Bye..."
	prompt          = "> "
)

// PendingLister is implemented by runners that can report the interrupts a
// thread is already paused on.
type PendingLister interface {
	PendingInterrupts(ctx context.Context, cfg agent.RunConfig) ([]agent.Interrupt, error)
}

// Abandoner is implemented by runners that can drop the interrupts a thread
// is paused on, so the thread accepts new messages after a failed turn.
type Abandoner interface {
	Abandon(ctx context.Context, cfg agent.RunConfig) error
}

// Terminal is the interactive chat session. One goroutine reads input,
// runs turns and resolves interrupts, so input is never read while a turn
// is in flight except to answer approval prompts.
type Terminal struct {
	runner   agent.Runner
	cfg      agent.RunConfig
	in       *bufio.Reader
	lines    *lineReader
	print    printer
	logger   *slog.Logger
	resolver *Resolver

	authTimeout         time.Duration
	concurrentAuthWaits bool
	maxResumeRounds     int
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithInput replaces os.Stdin.
func WithInput(r io.Reader) Option {
	return func(t *Terminal) { t.in = bufio.NewReader(r) }
}

// WithOutput replaces os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(t *Terminal) { t.print = printer{out: w, st: newStyles(w)} }
}

// WithLogger sets the logger for turn errors and denied interrupts.
func WithLogger(l *slog.Logger) Option {
	return func(t *Terminal) { t.logger = l }
}

// WithAuthTimeout bounds every authorization wait.
func WithAuthTimeout(d time.Duration) Option {
	return func(t *Terminal) { t.authTimeout = d }
}

// WithConcurrentAuthWaits lets the authorization waits of one interrupt
// batch run at the same time.
func WithConcurrentAuthWaits(on bool) Option {
	return func(t *Terminal) { t.concurrentAuthWaits = on }
}

// WithMaxResumeRounds aborts a turn after n resumes. Zero means no limit.
func WithMaxResumeRounds(n int) Option {
	return func(t *Terminal) { t.maxResumeRounds = n }
}

// New creates a Terminal for the thread in cfg. It reads os.Stdin and writes
// os.Stdout unless told otherwise.
func New(runner agent.Runner, waiter AuthWaiter, cfg agent.RunConfig, opts ...Option) *Terminal {
	t := &Terminal{
		runner: runner,
		cfg:    cfg,
		in:     bufio.NewReader(os.Stdin),
		print:  printer{out: os.Stdout, st: newStyles(os.Stdout)},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lines = newLineReader(t.in)
	t.resolver = newResolver(waiter, t.lines, t.print.out, t.logger)
	t.resolver.SetAuthTimeout(t.authTimeout)
	return t
}

// Run reads lines until the exit keyword, end of input or the end of ctx.
// Errors from a turn are logged and the session continues; only a failing
// input stream ends Run with an error.
func (t *Terminal) Run(ctx context.Context) error {
	t.println(t.print.st.welcome.Render(welcomeMessage))
	t.resumePending(ctx)

	for {
		t.printRaw(prompt)
		line, err := t.lines.ReadLine(ctx)
		input := strings.TrimSpace(line)
		if err != nil && input == "" {
			if err == io.EOF || ctx.Err() != nil {
				t.println("")
				break
			}
			return errors.Wrapf(err, "failed to read input")
		}

		if strings.EqualFold(input, config.ExitKeyword) {
			break
		}
		if input == "" {
			continue
		}

		if err := t.runTurn(ctx, input); err != nil {
			t.logger.Error("turn failed", "thread_id", t.cfg.ThreadID, "err", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	t.println(t.print.st.farewell.Render(farewellMessage))
	return nil
}

// resumePending finishes a turn left paused by an earlier process on the
// same thread.
func (t *Terminal) resumePending(ctx context.Context) {
	lister, ok := t.runner.(PendingLister)
	if !ok {
		return
	}
	interrupts, err := lister.PendingInterrupts(ctx, t.cfg)
	if err != nil {
		t.logger.Error("failed to check for pending interrupts", "thread_id", t.cfg.ThreadID, "err", err)
		return
	}
	if len(interrupts) == 0 {
		return
	}
	t.print.system("Thread %s has %d pending tool call(s) from a previous session", t.cfg.ThreadID, len(interrupts))
	if err := t.resumeCycle(ctx, interrupts); err != nil {
		t.logger.Error("turn failed", "thread_id", t.cfg.ThreadID, "err", err)
	}
}

func (t *Terminal) println(s string) {
	t.printRaw(s + "\n")
}

func (t *Terminal) printRaw(s string) {
	io.WriteString(t.print.out, s)
}
