package chat

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/model"
	"github.com/m-mizutani/reagent/pkg/utils/logging"
)

func (c *Client) closeModalLocked() {
	c.ui.ActiveModal = model.ModalNone
	c.ui.SelectedPropertyID = ""
	c.prefs.insights = nil
}

// CloseModal dismisses the preferences panel or the property detail. Insights
// are dropped with the panel.
func (c *Client) CloseModal(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ui.ActiveModal == model.ModalNone {
		return
	}
	c.closeModalLocked()
	c.renderLocked(ctx, model.ChangeModal|model.ChangeInsights)
}

// ResetSession deletes the session on the backend and starts over with a new
// identifier. confirm is asked first and nothing happens unless it returns
// true.
//
// Local state is reset even when the backend delete fails. In that case the
// view is notified and the returned error matches ErrSessionDeleteFailed. A
// failure to renew the identifier is joined to it, and the old identifier is
// kept.
// Results of requests still in flight for the old session are discarded when
// they arrive.
func (c *Client) ResetSession(ctx context.Context, confirm func() bool) error {
	c.resetMu.Lock()
	defer c.resetMu.Unlock()

	if confirm == nil || !confirm() {
		return ErrResetNotConfirmed
	}

	oldID := c.SessionID()
	logger := logging.From(ctx).With("session_id", oldID)

	delErr := c.backend.ClearSession(ctx, oldID)
	if delErr != nil {
		logger.Warn("failed to delete session", "error", delErr)
	}

	newID, idErr := c.identity.Reset(ctx)

	c.mu.Lock()
	c.generation++
	if idErr == nil {
		c.sessionID = newID
	}
	c.seedLocked()
	c.recs.clear()
	c.prefs.clear()
	c.closeModalLocked()
	// a fresh session has nothing stored yet
	c.historyLoaded = true
	c.renderLocked(ctx, model.ChangeAll)
	c.mu.Unlock()

	logger.Info("session reset", "new_session_id", newID)

	if delErr != nil {
		c.view.Notify(ctx, "The conversation was cleared here, but the server could not delete it: "+delErr.Error())
		// errors.Join skips a nil idErr
		return goerr.Wrap(errors.Join(ErrSessionDeleteFailed, delErr, idErr), "session reset completed locally",
			goerr.V("session_id", oldID))
	}
	if idErr != nil {
		return goerr.Wrap(idErr, "failed to renew session ID")
	}
	return nil
}
