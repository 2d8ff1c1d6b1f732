package model

// Modal is the overlay currently presented on top of the transcript.
type Modal string

const (
	ModalNone           Modal = ""
	ModalPreferences    Modal = "preferences"
	ModalPropertyDetail Modal = "property_detail"
)

// UIState is transient presentation state. It is never persisted.
type UIState struct {
	AwaitingReply      bool
	ActiveModal        Modal
	SelectedPropertyID string
}

// Change tells a view which parts of a Snapshot differ from the previous one.
type Change uint

const (
	ChangeTranscript Change = 1 << iota
	ChangeComposing
	ChangeRecommendations
	ChangePreferences
	ChangeInsights
	ChangeModal
	ChangeSession
	// ChangeTranscriptReset means Messages was replaced rather than appended
	// to. It is not part of ChangeAll.
	ChangeTranscriptReset

	ChangeAll = ChangeTranscript | ChangeComposing | ChangeRecommendations |
		ChangePreferences | ChangeInsights | ChangeModal | ChangeSession
)

// Has reports whether any bit of flag is set.
func (x Change) Has(flag Change) bool { return x&flag != 0 }

// Snapshot is an immutable copy of the client state handed to a view. Slices
// and maps are copies; the pointed-to entries are never mutated.
type Snapshot struct {
	SessionID         SessionID
	Messages          []*Message
	Recommendations   []*Recommendation
	Preferences       Preferences
	PreferenceSummary string
	Insights          *Insights
	UI                UIState
}

// SelectedProperty resolves the property shown in the detail modal.
func (x *Snapshot) SelectedProperty() *Recommendation {
	if x.UI.ActiveModal != ModalPropertyDetail {
		return nil
	}
	for _, r := range x.Recommendations {
		if r.PropertyID == x.UI.SelectedPropertyID {
			return r
		}
	}
	return nil
}
