package chat

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/adapter"
	"github.com/m-mizutani/reagent/pkg/model"
	"github.com/m-mizutani/reagent/pkg/utils/logging"
)

// preferenceStore holds the learned preferences and, while the preferences
// panel is open, the insights summary.
type preferenceStore struct {
	preferences model.Preferences
	summary     string
	insights    *model.Insights
}

// replaceAll swaps the whole preference map. Entries are never merged.
func (s *preferenceStore) replaceAll(prefs model.Preferences, summary string) {
	s.preferences = prefs.Clone()
	s.summary = summary
}

func (s *preferenceStore) clear() {
	s.preferences = nil
	s.summary = ""
	s.insights = nil
}

func (c *Client) beginRefreshLocked() {
	if c.refreshing == 0 {
		c.refreshIdle = make(chan struct{})
	}
	c.refreshing++
}

func (c *Client) endRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refreshing--
	if c.refreshing == 0 {
		close(c.refreshIdle)
		c.refreshIdle = nil
	}
}

// startRefreshLocked refreshes preferences in the background. The refresh
// outlives the chat turn that triggered it.
func (c *Client) startRefreshLocked(ctx context.Context, tok token) {
	c.beginRefreshLocked()
	bg := context.WithoutCancel(ctx)

	go func() {
		defer c.endRefresh()
		if err := c.refreshPreferences(bg, tok); err != nil {
			logging.From(bg).Debug("background preference refresh ended", "error", err)
		}
	}()
}

func (c *Client) refreshPreferences(ctx context.Context, tok token) error {
	logger := logging.From(ctx).With("session_id", tok.sessionID)

	set, err := c.backend.GetPreferences(ctx, tok.sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isCurrentLocked(tok) {
		logger.Info("discard preferences of a previous session")
		return goerr.Wrap(ErrStaleResult, "preferences discarded", goerr.V("session_id", tok.sessionID))
	}
	if err != nil {
		logger.Warn("failed to refresh preferences", "error", err)
		return goerr.Wrap(err, "failed to refresh preferences")
	}

	c.prefs.replaceAll(set.Preferences, set.Summary)
	c.renderLocked(ctx, model.ChangePreferences)
	return nil
}

// RefreshPreferences reloads the full preference set of the current session
// and replaces the store. On failure the store keeps its content.
func (c *Client) RefreshPreferences(ctx context.Context) error {
	c.mu.Lock()
	tok := c.tokenLocked()
	c.beginRefreshLocked()
	c.mu.Unlock()
	defer c.endRefresh()

	return c.refreshPreferences(ctx, tok)
}

// WaitPreferences blocks until no preference refresh is running.
func (c *Client) WaitPreferences(ctx context.Context) error {
	c.mu.Lock()
	idle := c.refreshIdle
	c.mu.Unlock()

	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "interrupted while waiting for preferences")
	}
}

// FetchInsights loads the insights summary. It is kept only while the
// preferences panel is open. On failure the previous insights stay in place.
func (c *Client) FetchInsights(ctx context.Context) (*model.Insights, error) {
	c.mu.Lock()
	tok := c.tokenLocked()
	c.mu.Unlock()

	logger := logging.From(ctx).With("session_id", tok.sessionID)

	insights, err := c.backend.GetInsights(ctx, tok.sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isCurrentLocked(tok) {
		logger.Info("discard insights of a previous session")
		return nil, goerr.Wrap(ErrStaleResult, "insights discarded", goerr.V("session_id", tok.sessionID))
	}
	if err != nil {
		logger.Warn("failed to fetch insights", "error", err)
		return nil, goerr.Wrap(err, "failed to fetch insights")
	}

	if c.ui.ActiveModal == model.ModalPreferences {
		c.prefs.insights = insights
		c.renderLocked(ctx, model.ChangeInsights)
	}
	return insights, nil
}

// OpenPreferences shows the preferences panel once pending refreshes are done
// and then loads insights for it.
func (c *Client) OpenPreferences(ctx context.Context) error {
	if err := c.WaitPreferences(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.ui.ActiveModal = model.ModalPreferences
	c.ui.SelectedPropertyID = ""
	c.renderLocked(ctx, model.ChangeModal)
	c.mu.Unlock()

	if _, err := c.FetchInsights(ctx); err != nil {
		return err
	}
	return nil
}

// UpdatePreference states a preference explicitly and reloads the set.
func (c *Client) UpdatePreference(ctx context.Context, category, value string) error {
	category = strings.TrimSpace(category)
	value = strings.TrimSpace(value)
	if category == "" || value == "" {
		return goerr.Wrap(ErrInvalidPreference, "category and value are required",
			goerr.V("category", category), goerr.V("value", value))
	}

	sessionID := c.SessionID()
	update := &adapter.PreferenceUpdate{
		Category:        category,
		Value:           value,
		ConfidenceScore: 1.0,
		IsExplicit:      true,
	}
	if err := c.backend.UpdatePreference(ctx, sessionID, update); err != nil {
		return goerr.Wrap(err, "failed to update preference", goerr.V("category", category))
	}

	return c.RefreshPreferences(ctx)
}

// DeletePreference removes one category and reloads the set.
func (c *Client) DeletePreference(ctx context.Context, category string) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return goerr.Wrap(ErrInvalidPreference, "category is required")
	}

	if err := c.backend.DeletePreference(ctx, c.SessionID(), category); err != nil {
		return goerr.Wrap(err, "failed to delete preference", goerr.V("category", category))
	}

	return c.RefreshPreferences(ctx)
}
