package model

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// WelcomeText is the canonical greeting shown on an empty transcript.
const WelcomeText = "Hello! I'm REAgent, your AI real estate concierge. Tell me what kind of home you're looking for: location, budget, bedrooms, or anything that matters to you."

// ApologyText replaces the agent reply when a turn could not reach the backend.
const ApologyText = "Sorry, I couldn't reach the property assistant just now. Please try again in a moment."

// Message is one transcript entry. Messages are never modified after they are
// appended.
type Message struct {
	Role   Role
	Text   string
	SentAt time.Time

	// Failed marks the apology appended in place of an agent reply
	Failed bool
}

func NewUserMessage(text string, at time.Time) *Message {
	return &Message{Role: RoleUser, Text: text, SentAt: at}
}

func NewAgentMessage(text string, at time.Time) *Message {
	return &Message{Role: RoleAgent, Text: text, SentAt: at}
}

// NewWelcomeMessage returns the synthetic greeting that seeds an empty transcript.
func NewWelcomeMessage(at time.Time) *Message {
	return NewAgentMessage(WelcomeText, at)
}

// NewApologyMessage returns the fixed reply appended after a failed turn.
func NewApologyMessage(at time.Time) *Message {
	return &Message{Role: RoleAgent, Text: ApologyText, SentAt: at, Failed: true}
}
