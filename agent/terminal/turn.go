package terminal

import (
	"context"

	"github.com/m4xw311/arcadechat/agent"
	"github.com/m4xw311/arcadechat/errors"
	"github.com/m4xw311/arcadechat/session"
	"golang.org/x/sync/errgroup"
)

// ErrResumeLimit is returned when a turn keeps producing interrupts after the
// configured number of resumes.
var ErrResumeLimit = errors.Sentinel("resume limit exceeded")

// runTurn sends one user message and drives the turn to completion.
func (t *Terminal) runTurn(ctx context.Context, text string) error {
	interrupts, err := t.consumeStream(ctx, agent.UserMessage{Role: session.RoleUser, Content: text})
	if err != nil {
		return err
	}
	return t.resumeCycle(ctx, interrupts)
}

// resumeCycle resolves interrupts and resumes until an invocation returns
// none. Decision i always answers interrupt i. If the cycle fails, the
// thread's remaining interrupts are abandoned so the next turn can start.
func (t *Terminal) resumeCycle(ctx context.Context, interrupts []agent.Interrupt) error {
	err := t.resolveUntilDone(ctx, interrupts)
	if err != nil {
		t.abandon(ctx)
	}
	return err
}

func (t *Terminal) resolveUntilDone(ctx context.Context, interrupts []agent.Interrupt) error {
	for round := 0; len(interrupts) > 0; round++ {
		if t.maxResumeRounds > 0 && round >= t.maxResumeRounds {
			return errors.Wrapf(ErrResumeLimit, "%d interrupts still pending after %d resumes", len(interrupts), round)
		}
		decisions := t.resolveAll(ctx, interrupts)

		var err error
		interrupts, err = t.consumeStream(ctx, agent.NewResume(decisions))
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Terminal) abandon(ctx context.Context) {
	a, ok := t.runner.(Abandoner)
	if !ok {
		return
	}
	if err := a.Abandon(context.WithoutCancel(ctx), t.cfg); err != nil {
		t.logger.Error("failed to abandon paused tool calls", "thread_id", t.cfg.ThreadID, "err", err)
	}
}

func (t *Terminal) resolveAll(ctx context.Context, interrupts []agent.Interrupt) []agent.Decision {
	decisions := make([]agent.Decision, len(interrupts))
	if !t.concurrentAuthWaits {
		for i, it := range interrupts {
			decisions[i] = t.resolver.Resolve(ctx, it)
		}
		return decisions
	}

	// Authorization waits start as soon as their URL is shown and run while
	// approvals are prompted for. Each goroutine writes only its own index.
	var g errgroup.Group
	waiting := make(map[int]bool)
	for i, it := range interrupts {
		req, ok := it.Request().(agent.AuthorizationRequest)
		if !ok {
			decisions[i] = t.resolver.Resolve(ctx, it)
			continue
		}
		t.resolver.announce(req)
		waiting[i] = true
		g.Go(func() error {
			decisions[i] = agent.Decision{Authorized: t.resolver.wait(ctx, req)}
			return nil
		})
	}
	_ = g.Wait()

	for i := range interrupts {
		if waiting[i] {
			t.resolver.report(decisions[i].Authorized)
		}
	}
	return decisions
}
