package chat

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/adapter"
	"github.com/m-mizutani/reagent/pkg/model"
	"github.com/m-mizutani/reagent/pkg/usecase/identity"
)

// View receives every state change of a Client. Render is called while the
// client state is locked, so implementations must not call back into the
// Client. Notify is a blocking user-facing notification and is called
// without the lock.
type View interface {
	Render(ctx context.Context, snap *model.Snapshot, change model.Change)
	Notify(ctx context.Context, message string)
}

type nopView struct{}

func (nopView) Render(context.Context, *model.Snapshot, model.Change) {}
func (nopView) Notify(context.Context, string)                        {}

// Client is the session and view-state engine. It owns the transcript, the
// recommendation and preference stores and the presentation state of one
// session. All methods are safe for concurrent use.
type Client struct {
	backend  adapter.Backend
	identity *identity.Store
	view     View
	now      func() time.Time

	resetMu sync.Mutex

	mu         sync.Mutex
	sessionID  model.SessionID
	generation uint64
	welcome    *model.Message
	messages   []*model.Message
	recs       recommendationStore
	prefs      preferenceStore
	ui         model.UIState

	turn          uint64
	activeTurn    uint64
	historyLoaded bool

	refreshing  int
	refreshIdle chan struct{}
}

// NewInput contains parameters for creating a new Client
type NewInput struct {
	Backend  adapter.Backend
	Identity *identity.Store
	View     View             // optional, nothing is rendered when nil
	Clock    func() time.Time // optional, time.Now by default
}

// New resolves the session identity and returns a Client whose transcript
// holds only the welcome message.
func New(ctx context.Context, input NewInput) (*Client, error) {
	if input.Backend == nil {
		return nil, goerr.New("backend is required")
	}
	if input.Identity == nil {
		return nil, goerr.New("identity store is required")
	}

	sessionID, err := input.Identity.GetOrCreateID(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get session ID")
	}

	c := &Client{
		backend:   input.Backend,
		identity:  input.Identity,
		view:      input.View,
		now:       input.Clock,
		sessionID: sessionID,
	}
	if c.view == nil {
		c.view = nopView{}
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seedLocked()
	c.renderLocked(ctx, model.ChangeAll)

	return c, nil
}

// SessionID returns the current session identifier
func (c *Client) SessionID() model.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Snapshot returns a copy of the current state
func (c *Client) Snapshot() *model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Render pushes the full current state to the view, e.g. after the terminal
// was cleared.
func (c *Client) Render(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderLocked(ctx, model.ChangeAll)
}

// token identifies the session a network call was dispatched for
type token struct {
	sessionID  model.SessionID
	generation uint64
}

func (c *Client) tokenLocked() token {
	return token{sessionID: c.sessionID, generation: c.generation}
}

func (c *Client) isCurrentLocked(tok token) bool {
	return tok.sessionID == c.sessionID && tok.generation == c.generation
}

// seedLocked resets the transcript to the welcome message
func (c *Client) seedLocked() {
	c.welcome = model.NewWelcomeMessage(c.now())
	c.messages = []*model.Message{c.welcome}
}

func (c *Client) snapshotLocked() *model.Snapshot {
	messages := make([]*model.Message, len(c.messages))
	copy(messages, c.messages)

	return &model.Snapshot{
		SessionID:         c.sessionID,
		Messages:          messages,
		Recommendations:   c.recs.list(),
		Preferences:       c.prefs.preferences.Clone(),
		PreferenceSummary: c.prefs.summary,
		Insights:          c.prefs.insights,
		UI:                c.ui,
	}
}

func (c *Client) renderLocked(ctx context.Context, change model.Change) {
	c.view.Render(ctx, c.snapshotLocked(), change)
}

func (c *Client) appendLocked(msg *model.Message) {
	c.messages = append(c.messages, msg)
}
