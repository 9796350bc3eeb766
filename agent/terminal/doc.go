// Package terminal implements the interactive chat session for arcadechat.
//
// A Terminal reads one line at a time. Each line that is not the exit keyword
// starts a turn: the line is streamed to an agent.Runner, every message of
// every node update is printed as it arrives, and the interrupts the stream
// stopped on are collected in order.
//
// # Interrupts
//
// Each interrupt is answered by the Resolver:
//
//   - Authorization requests print the tool name and the authorization URL,
//     then block on the AuthWaiter until the user completes the flow in a
//     browser. A failed or timed out wait is logged and the call is denied.
//   - Approval requests print the tool name and its input and ask the user
//     to confirm with y or n.
//   - Anything else is denied without waiting or prompting.
//
// The decisions are sent back with agent.NewResume, one per interrupt and in
// interrupt order, and the cycle repeats until an invocation returns no
// interrupts. By default interrupts are answered one at a time. With
// WithConcurrentAuthWaits the authorization waits of a batch run together
// while approvals are still prompted for in order.
//
// # Usage
//
//	term := terminal.New(runner, waiter, agent.RunConfig{ThreadID: threadID},
//		terminal.WithLogger(logger),
//		terminal.WithAuthTimeout(5*time.Minute),
//	)
//	if err := term.Run(ctx); err != nil {
//		// input stream failed
//	}
//
// Errors inside a turn are logged and the session continues with the next
// line. Typing exit (any case) or closing input prints a farewell and
// returns.
package terminal
