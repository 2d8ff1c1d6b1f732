package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/adapter"
	"github.com/m-mizutani/reagent/pkg/model"
	"github.com/m-mizutani/reagent/pkg/utils/logging"
)

// SendMessage runs one chat turn. The user message is appended before the
// request is sent. Only one turn can be outstanding: a call made while
// another is in flight returns ErrBusy without touching the transcript.
//
// A transport failure is not returned: it is recovered into an apology
// message in the transcript. If the session was reset while the request was
// in flight the reply is discarded and ErrStaleResult is returned.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.ui.AwaitingReply {
		c.mu.Unlock()
		return ErrBusy
	}
	c.turn++
	turn := c.turn
	c.activeTurn = turn
	tok := c.tokenLocked()

	c.appendLocked(model.NewUserMessage(text, c.now()))
	c.ui.AwaitingReply = true
	c.renderLocked(ctx, model.ChangeTranscript|model.ChangeComposing)
	c.mu.Unlock()

	defer c.releaseTurn(ctx, turn)

	reply, err := c.backend.SendMessage(ctx, tok.sessionID, text)
	return c.completeTurn(ctx, turn, tok, reply, err)
}

// releaseTurn clears the single-flight guard if completeTurn did not run,
// e.g. when the backend panicked.
func (c *Client) releaseTurn(ctx context.Context, turn uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeTurn != turn || !c.ui.AwaitingReply {
		return
	}
	c.activeTurn = 0
	c.ui.AwaitingReply = false
	c.renderLocked(ctx, model.ChangeComposing)
}

func (c *Client) completeTurn(ctx context.Context, turn uint64, tok token, reply *adapter.ChatReply, sendErr error) error {
	logger := logging.From(ctx).With("session_id", tok.sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	change := model.ChangeComposing
	if c.activeTurn == turn {
		c.activeTurn = 0
		c.ui.AwaitingReply = false
	}

	if !c.isCurrentLocked(tok) {
		logger.Info("discard chat reply of a previous session", "current_session_id", c.sessionID)
		c.renderLocked(ctx, change)
		return goerr.Wrap(ErrStaleResult, "chat reply discarded", goerr.V("session_id", tok.sessionID))
	}

	if sendErr != nil {
		logger.Warn("chat turn failed", "error", sendErr)
		c.appendLocked(model.NewApologyMessage(c.now()))
		c.renderLocked(ctx, change|model.ChangeTranscript)
		return nil
	}

	c.appendLocked(model.NewAgentMessage(reply.Response, c.now()))
	change |= model.ChangeTranscript

	if len(reply.Recommendations) > 0 {
		if dropped := c.recs.replaceAll(reply.Recommendations); dropped > 0 {
			logger.Warn("dropped duplicated recommendations", "count", dropped)
		}
		change |= model.ChangeRecommendations

		if c.ui.ActiveModal == model.ModalPropertyDetail && c.recs.findByID(c.ui.SelectedPropertyID) == nil {
			c.closeModalLocked()
			change |= model.ChangeModal | model.ChangeInsights
		}
	}

	if len(reply.ExtractedPreferences) > 0 {
		c.startRefreshLocked(ctx, tok)
	}

	c.renderLocked(ctx, change)
	return nil
}

// LoadHistory replays the stored transcript, preference snapshot and latest
// recommendations of the current session. Only the first call does anything.
// The welcome message is kept only when the stored transcript is empty. On
// failure the stores keep their current content and the error is logged and
// returned. Failing to load recommendations is logged but not returned.
func (c *Client) LoadHistory(ctx context.Context) error {
	c.mu.Lock()
	if c.historyLoaded {
		c.mu.Unlock()
		return nil
	}
	c.historyLoaded = true
	tok := c.tokenLocked()
	c.mu.Unlock()

	logger := logging.From(ctx).With("session_id", tok.sessionID)

	history, err := c.backend.GetHistory(ctx, tok.sessionID)
	var stored []*model.Recommendation
	if err == nil {
		stored = c.loadRecommendations(ctx, tok.sessionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isCurrentLocked(tok) {
		logger.Info("discard history of a previous session")
		return goerr.Wrap(ErrStaleResult, "history discarded", goerr.V("session_id", tok.sessionID))
	}
	if err != nil {
		logger.Warn("failed to load history", "error", err)
		return goerr.Wrap(err, "failed to load history")
	}

	change := model.ChangePreferences
	if len(history.Messages) > 0 {
		// keep turns sent while the history was loading
		local := c.messages
		if len(local) > 0 && local[0] == c.welcome {
			local = local[1:]
		}
		merged := make([]*model.Message, 0, len(history.Messages)+len(local))
		merged = append(merged, history.Messages...)
		merged = append(merged, local...)
		c.messages = merged
		change |= model.ChangeTranscript | model.ChangeTranscriptReset
	}
	c.prefs.replaceAll(history.Preferences, c.prefs.summary)

	// a turn that completed while loading has the newer set
	if len(stored) > 0 && len(c.recs.items) == 0 {
		if dropped := c.recs.replaceAll(stored); dropped > 0 {
			logger.Warn("dropped duplicated recommendations", "count", dropped)
		}
		change |= model.ChangeRecommendations
	}

	logger.Debug("history loaded",
		"messages", len(history.Messages),
		"preferences", len(history.Preferences),
		"recommendations", len(stored),
	)
	c.renderLocked(ctx, change)
	return nil
}

// loadRecommendations returns nil when the backend has no recommendation for
// the session or cannot be reached.
func (c *Client) loadRecommendations(ctx context.Context, sessionID model.SessionID) []*model.Recommendation {
	list, err := c.backend.GetRecommendations(ctx, sessionID)
	if err != nil {
		var te *adapter.TransportError
		if errors.As(err, &te) && te.Status == http.StatusNotFound {
			return nil
		}
		logging.From(ctx).Warn("failed to load recommendations", "error", err, "session_id", sessionID)
		return nil
	}
	return list
}
