// Package llm implements the chat-completion client: a bounded-history,
// policy-wrapped request per user turn, plus a cheap secondary classifier
// for caller disconnect intent.
package llm

import "context"

// Role identifies the speaker of a turn in conversation history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one exchange in a CallSession's bounded history.
type Message struct {
	Role Role
	Text string
}

// Client issues chat-completion requests bounded to the last few turns of
// history plus a composed system prompt, and classifies disconnect intent.
type Client interface {
	// Complete returns the assistant's reply text for userMessage given the
	// prior history and the agent's configured systemPrompt/firstGreeting.
	// An empty string with a nil error means the model produced nothing
	// usable (e.g. timeout) and the caller must not speak or mutate history.
	Complete(ctx context.Context, history []Message, systemPrompt, firstGreeting, userMessage, language string) (string, error)

	// ClassifyDisconnect makes a cheap, ephemeral call to decide whether the
	// caller's utterance signals they want to end the call. The result is
	// never added to history.
	ClassifyDisconnect(ctx context.Context, userMessage string) (bool, error)
}
