// Package agentrt is the seam between the orchestration core and the
// external agent runtime: a CLI process that accepts instructions for a
// working directory, streams messages while it works, and can be
// cancelled mid-session. The core never depends on a concrete agent
// implementation, only on the Runtime interface.
package agentrt

import "context"

// MessageKind classifies one streamed line from a running session.
type MessageKind string

const (
	MessageOutput MessageKind = "output"
	MessageError  MessageKind = "stderr"
)

// Message is one unit of streamed output from a session.
type Message struct {
	Kind MessageKind
	Text string
}

// SessionOptions configures a single agent session.
type SessionOptions struct {
	// Instructions is the task-specific prompt text, typically read from
	// the agent-instructions file committed on the task branch.
	Instructions string

	// SessionName labels the session; the CLI runtime does not pass it to
	// the agent process.
	SessionName string

	// Model overrides the runtime's default model, if non-empty.
	Model string

	// Tools is the closed set of additional tools this session may
	// invoke, dispatched through the Registry rather than looked up by
	// name at runtime.
	Tools []Tool
}

// Session is a running (or just-finished) agent session.
type Session interface {
	// Messages streams output as it is produced. The channel is closed
	// when the session ends, successfully or not.
	Messages() <-chan Message

	// Wait blocks until the session has fully exited and returns its
	// terminal error, if any, as an *models.AgentRuntimeError.
	Wait() error

	// Cancel requests cooperative termination at the runtime's next
	// suspension point. Safe to call multiple times and after Wait
	// has already returned.
	Cancel()
}

// Runtime starts agent sessions. CLIRuntime is the only production
// implementation; tests inject a fake.
type Runtime interface {
	Start(ctx context.Context, workdir string, opts SessionOptions) (Session, error)
}
