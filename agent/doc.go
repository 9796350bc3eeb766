// Package agent provides the conversational runner behind arcadechat and the
// types exchanged with it.
//
// A run is driven through the Runner interface: Stream takes a TurnInput and
// a RunConfig naming the conversation thread, and yields Updates in order.
// A TurnInput is either a UserMessage, which starts a turn, or a Resume, which
// answers the interrupts the previous invocation stopped on.
//
// # Graph
//
// Agent alternates between two nodes:
//
//   - agent: the language model is called with the system prompt, the thread
//     history and every registered tool. The reply is reported as an update
//     from NodeAgent. A reply without tool calls ends the run.
//   - tools: every call of the reply is gated. A tool implementing
//     tools.Authorizer whose grant is not completed raises an authorization
//     interrupt; a call matched by the approval policy raises an approval
//     interrupt. If any call was gated the run checkpoints the pending calls,
//     yields one update carrying all interrupts, and stops. Otherwise every call
//     is executed in order and the results are reported from NodeTools.
//
// # Interrupts and decisions
//
// Each Interrupt carries an InterruptPayload. Interrupt.Request classifies it
// as an AuthorizationRequest, an ApprovalRequest or an UnrecognizedRequest;
// authorization takes priority when both flags are set.
//
// Decisions are positional: the resume value holds one Decision per pending
// interrupt, in the order the interrupts were emitted. NewResume sends a bare
// Decision when there is exactly one, and a slice otherwise. Denied calls are
// answered with a tool message telling the model the user declined.
//
// # Checkpoints
//
// Thread state is kept in a session.Store, so a thread paused in one process
// can be resumed in another when a file store is used. PendingInterrupts
// reports what a thread is waiting on.
package agent
