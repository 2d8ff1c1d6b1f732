package chat

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/adapter"
	"github.com/m-mizutani/reagent/pkg/model"
	"github.com/m-mizutani/reagent/pkg/utils/logging"
)

// recommendationStore holds the active ranked set. Only the latest set is
// kept.
type recommendationStore struct {
	items []*model.Recommendation
}

// replaceAll overwrites the active set, keeping server order. Entries whose
// PropertyID already appeared earlier in the list are dropped.
func (s *recommendationStore) replaceAll(list []*model.Recommendation) (dropped int) {
	seen := make(map[string]struct{}, len(list))
	items := make([]*model.Recommendation, 0, len(list))
	for _, r := range list {
		if _, ok := seen[r.PropertyID]; ok {
			dropped++
			continue
		}
		seen[r.PropertyID] = struct{}{}
		items = append(items, r)
	}
	s.items = items
	return dropped
}

func (s *recommendationStore) findByID(id string) *model.Recommendation {
	for _, r := range s.items {
		if r.PropertyID == id {
			return r
		}
	}
	return nil
}

func (s *recommendationStore) list() []*model.Recommendation {
	out := make([]*model.Recommendation, len(s.items))
	copy(out, s.items)
	return out
}

func (s *recommendationStore) clear() {
	s.items = nil
}

// FindProperty resolves a property of the current recommendation set.
// Properties of earlier sets are not retained.
func (c *Client) FindProperty(id string) (*model.Recommendation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.recs.findByID(id)
	return r, r != nil
}

// ShowProperty opens the detail modal for a property of the current set and
// tells the backend it was viewed. The view notification is best effort.
func (c *Client) ShowProperty(ctx context.Context, id string) (*model.Recommendation, error) {
	c.mu.Lock()
	r := c.recs.findByID(id)
	if r == nil {
		c.mu.Unlock()
		return nil, goerr.Wrap(ErrPropertyNotFound, "cannot show property", goerr.V("property_id", id))
	}
	c.ui.ActiveModal = model.ModalPropertyDetail
	c.ui.SelectedPropertyID = id
	c.prefs.insights = nil
	tok := c.tokenLocked()
	c.renderLocked(ctx, model.ChangeModal|model.ChangeInsights)
	c.mu.Unlock()

	if err := c.backend.SendFeedback(ctx, tok.sessionID, id, adapter.FeedbackViewed); err != nil {
		logging.From(ctx).Debug("failed to record property view", "error", err, "property_id", id)
	}
	return r, nil
}

// SendFeedback records the reaction of the user to a property of the current
// recommendation set.
func (c *Client) SendFeedback(ctx context.Context, id string, feedback adapter.Feedback) error {
	if err := feedback.Validate(); err != nil {
		return goerr.Wrap(errors.Join(ErrInvalidFeedback, err), "cannot send feedback")
	}

	c.mu.Lock()
	found := c.recs.findByID(id) != nil
	tok := c.tokenLocked()
	c.mu.Unlock()

	if !found {
		return goerr.Wrap(ErrPropertyNotFound, "cannot send feedback", goerr.V("property_id", id))
	}

	if err := c.backend.SendFeedback(ctx, tok.sessionID, id, feedback); err != nil {
		return goerr.Wrap(err, "failed to send feedback", goerr.V("property_id", id))
	}
	return nil
}
