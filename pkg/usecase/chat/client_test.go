package chat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/reagent/pkg/adapter"
	"github.com/m-mizutani/reagent/pkg/model"
	"github.com/m-mizutani/reagent/pkg/repository"
	"github.com/m-mizutani/reagent/pkg/usecase/chat"
	"github.com/m-mizutani/reagent/pkg/usecase/identity"
	"github.com/m-mizutani/reagent/pkg/view"
)

// Mock Backend
type mockBackend struct {
	mu    sync.Mutex
	calls map[string]int

	sendMessage      func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error)
	getHistory       func(ctx context.Context, sid model.SessionID) (*adapter.History, error)
	getPreferences   func(ctx context.Context, sid model.SessionID) (*adapter.PreferenceSet, error)
	getInsights      func(ctx context.Context, sid model.SessionID) (*model.Insights, error)
	getRecs          func(ctx context.Context, sid model.SessionID) ([]*model.Recommendation, error)
	clearSession     func(ctx context.Context, sid model.SessionID) error
	updatePreference func(ctx context.Context, sid model.SessionID, update *adapter.PreferenceUpdate) error

	feedbacks []adapter.Feedback
	deleted   []string
}

func newMockBackend() *mockBackend {
	return &mockBackend{calls: map[string]int{}}
}

func (m *mockBackend) count(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
}

func (m *mockBackend) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockBackend) SendMessage(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
	m.count("SendMessage")
	if m.sendMessage == nil {
		return &adapter.ChatReply{Response: "ok"}, nil
	}
	return m.sendMessage(ctx, sid, msg)
}

func (m *mockBackend) GetHistory(ctx context.Context, sid model.SessionID) (*adapter.History, error) {
	m.count("GetHistory")
	if m.getHistory == nil {
		return &adapter.History{}, nil
	}
	return m.getHistory(ctx, sid)
}

func (m *mockBackend) GetPreferences(ctx context.Context, sid model.SessionID) (*adapter.PreferenceSet, error) {
	m.count("GetPreferences")
	if m.getPreferences == nil {
		return &adapter.PreferenceSet{}, nil
	}
	return m.getPreferences(ctx, sid)
}

func (m *mockBackend) GetInsights(ctx context.Context, sid model.SessionID) (*model.Insights, error) {
	m.count("GetInsights")
	if m.getInsights == nil {
		return &model.Insights{}, nil
	}
	return m.getInsights(ctx, sid)
}

func (m *mockBackend) GetRecommendations(ctx context.Context, sid model.SessionID) ([]*model.Recommendation, error) {
	m.count("GetRecommendations")
	if m.getRecs == nil {
		return nil, &adapter.TransportError{Status: 404, Cause: "User session not found"}
	}
	return m.getRecs(ctx, sid)
}

func (m *mockBackend) ClearSession(ctx context.Context, sid model.SessionID) error {
	m.count("ClearSession")
	if m.clearSession == nil {
		return nil
	}
	return m.clearSession(ctx, sid)
}

func (m *mockBackend) SendFeedback(ctx context.Context, sid model.SessionID, propertyID string, feedback adapter.Feedback) error {
	m.count("SendFeedback")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedbacks = append(m.feedbacks, feedback)
	return nil
}

func (m *mockBackend) UpdatePreference(ctx context.Context, sid model.SessionID, update *adapter.PreferenceUpdate) error {
	m.count("UpdatePreference")
	if m.updatePreference == nil {
		return nil
	}
	return m.updatePreference(ctx, sid, update)
}

func (m *mockBackend) DeletePreference(ctx context.Context, sid model.SessionID, category string) error {
	m.count("DeletePreference")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, category)
	return nil
}

func (m *mockBackend) Health(ctx context.Context) (*adapter.HealthStatus, error) {
	m.count("Health")
	return &adapter.HealthStatus{Status: "healthy"}, nil
}

type testEnv struct {
	client  *chat.Client
	backend *mockBackend
	rec     *view.Recorder
	kv      *repository.Memory
}

func setup(t *testing.T, backend *mockBackend) *testEnv {
	t.Helper()
	kv := repository.NewMemory()
	rec := view.NewRecorder()

	client, err := chat.New(context.Background(), chat.NewInput{
		Backend:  backend,
		Identity: identity.New(kv),
		View:     rec,
	})
	gt.NoError(t, err)

	return &testEnv{client: client, backend: backend, rec: rec, kv: kv}
}

func ptr[T any](v T) *T { return &v }

func recs(ids ...string) []*model.Recommendation {
	out := make([]*model.Recommendation, 0, len(ids))
	for _, id := range ids {
		out = append(out, &model.Recommendation{PropertyID: id, Title: "Property " + id, Price: ptr(450000.0)})
	}
	return out
}

func ids(list []*model.Recommendation) []string {
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.PropertyID)
	}
	return out
}

func TestNewSeedsWelcome(t *testing.T) {
	env := setup(t, newMockBackend())

	snap := env.client.Snapshot()
	gt.A(t, snap.Messages).Length(1)
	gt.Equal(t, snap.Messages[0].Text, model.WelcomeText)
	gt.Equal(t, snap.Messages[0].Role, model.RoleAgent)
	gt.False(t, snap.UI.AwaitingReply)
	gt.Equal(t, env.rec.Count(model.ChangeAll), 1)

	stored, found, err := env.kv.Get(context.Background(), identity.Key)
	gt.NoError(t, err)
	gt.True(t, found)
	gt.Equal(t, stored, string(snap.SessionID))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := chat.New(context.Background(), chat.NewInput{Identity: identity.New(repository.NewMemory())})
	gt.Error(t, err)

	_, err = chat.New(context.Background(), chat.NewInput{Backend: newMockBackend()})
	gt.Error(t, err)
}

func TestSendMessageEndToEnd(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()

	var gotSession model.SessionID
	var gotMessage string
	backend.sendMessage = func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
		gotSession, gotMessage = sid, msg
		return &adapter.ChatReply{
			Response:             "I found 3 flats in London within your budget.",
			Recommendations:      recs("a", "b", "c"),
			ExtractedPreferences: []json.RawMessage{json.RawMessage(`{"preference_type":"location"}`)},
		}, nil
	}
	backend.getPreferences = func(ctx context.Context, sid model.SessionID) (*adapter.PreferenceSet, error) {
		return &adapter.PreferenceSet{
			Preferences: model.Preferences{
				"location":     {Value: "London", ConfidenceScore: 0.9, IsExplicit: true},
				"min_bedrooms": {Value: "2", ConfidenceScore: 0.9, IsExplicit: true},
				"max_price":    {Value: "500000", ConfidenceScore: 0.9, IsExplicit: true},
			},
			Summary: "2 bed in London",
		}, nil
	}

	env := setup(t, backend)
	gt.NoError(t, env.client.SendMessage(ctx, "  2-bedroom flat in London under £500k "))
	gt.NoError(t, env.client.WaitPreferences(ctx))

	gt.Equal(t, gotSession, env.client.SessionID())
	gt.Equal(t, gotMessage, "2-bedroom flat in London under £500k")

	snap := env.client.Snapshot()
	gt.A(t, snap.Messages).Length(3)
	gt.Equal(t, snap.Messages[1].Role, model.RoleUser)
	gt.Equal(t, snap.Messages[1].Text, "2-bedroom flat in London under £500k")
	gt.Equal(t, snap.Messages[2].Role, model.RoleAgent)
	gt.Equal(t, snap.Messages[2].Text, "I found 3 flats in London within your budget.")
	gt.A(t, snap.Recommendations).Length(3)
	gt.False(t, snap.UI.AwaitingReply)

	gt.Equal(t, backend.Calls("GetPreferences"), 1)
	gt.Equal(t, len(snap.Preferences), 3)
	gt.Equal(t, snap.Preferences["location"].Value, "London")
	gt.Equal(t, snap.PreferenceSummary, "2 bed in London")

	// the composing indicator was shown while the request was outstanding
	var composing bool
	for _, f := range env.rec.Frames() {
		if f.Snapshot.UI.AwaitingReply {
			composing = true
			gt.A(t, f.Snapshot.Messages).Length(2)
		}
	}
	gt.True(t, composing)
}

func TestSendMessageWithoutPreferenceSignal(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	backend.sendMessage = func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
		return &adapter.ChatReply{Response: "hello"}, nil
	}
	env := setup(t, backend)

	gt.NoError(t, env.client.SendMessage(ctx, "hi"))
	gt.NoError(t, env.client.WaitPreferences(ctx))
	gt.Equal(t, backend.Calls("GetPreferences"), 0)
}

func TestSendMessageEmpty(t *testing.T) {
	env := setup(t, newMockBackend())

	err := env.client.SendMessage(context.Background(), "   \n")
	gt.True(t, errors.Is(err, chat.ErrEmptyMessage))
	gt.Equal(t, env.backend.Calls("SendMessage"), 0)
	gt.A(t, env.client.Snapshot().Messages).Length(1)
}

func TestSendMessageSingleFlight(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()

	started := make(chan struct{})
	release := make(chan struct{})
	backend.sendMessage = func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
		close(started)
		<-release
		return &adapter.ChatReply{Response: "reply to " + msg}, nil
	}
	env := setup(t, backend)

	done := make(chan error, 1)
	go func() {
		done <- env.client.SendMessage(ctx, "first")
	}()
	<-started

	err := env.client.SendMessage(ctx, "second")
	gt.True(t, errors.Is(err, chat.ErrBusy))

	snap := env.client.Snapshot()
	gt.True(t, snap.UI.AwaitingReply)
	gt.A(t, snap.Messages).Length(2)
	gt.Equal(t, snap.Messages[1].Text, "first")

	close(release)
	gt.NoError(t, <-done)

	gt.Equal(t, backend.Calls("SendMessage"), 1)
	snap = env.client.Snapshot()
	gt.False(t, snap.UI.AwaitingReply)
	gt.A(t, snap.Messages).Length(3)
	gt.Equal(t, snap.Messages[2].Text, "reply to first")

	// the guard is released for the next turn
	gt.NoError(t, env.client.SendMessage(ctx, "third"))
	gt.A(t, env.client.Snapshot().Messages).Length(5)
}

func TestSendMessageFailure(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()

	fail := false
	backend.sendMessage = func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
		if fail {
			return nil, &adapter.TransportError{Status: 500, Cause: "internal error"}
		}
		return &adapter.ChatReply{Response: "found", Recommendations: recs("a", "b")}, nil
	}
	env := setup(t, backend)

	gt.NoError(t, env.client.SendMessage(ctx, "flats in Leeds"))
	fail = true
	gt.NoError(t, env.client.SendMessage(ctx, "cheaper ones"))

	snap := env.client.Snapshot()
	gt.A(t, snap.Messages).Length(5)
	gt.Equal(t, snap.Messages[3].Text, "cheaper ones")
	gt.Equal(t, snap.Messages[4].Text, model.ApologyText)
	gt.True(t, snap.Messages[4].Failed)

	var apologies int
	for _, m := range snap.Messages {
		if m.Failed {
			apologies++
		}
	}
	gt.Equal(t, apologies, 1)

	gt.False(t, snap.UI.AwaitingReply)
	gt.Equal(t, ids(snap.Recommendations), []string{"a", "b"})
	gt.Equal(t, backend.Calls("GetPreferences"), 0)
}

func TestSendMessageGuardReleasedOnPanic(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	backend.sendMessage = func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
		panic("backend exploded")
	}
	env := setup(t, backend)

	func() {
		defer func() { _ = recover() }()
		_ = env.client.SendMessage(ctx, "hello")
	}()

	gt.False(t, env.client.Snapshot().UI.AwaitingReply)
}

func TestRecommendationReplacementIsTotal(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()

	replies := [][]*model.Recommendation{
		recs("a", "b", "c"),
		recs("d"),
		nil,
		recs("e", "f", "e"),
	}
	turn := 0
	backend.sendMessage = func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
		r := replies[turn]
		turn++
		return &adapter.ChatReply{Response: "ok", Recommendations: r}, nil
	}
	env := setup(t, backend)

	gt.NoError(t, env.client.SendMessage(ctx, "one"))
	gt.Equal(t, ids(env.client.Snapshot().Recommendations), []string{"a", "b", "c"})

	gt.NoError(t, env.client.SendMessage(ctx, "two"))
	gt.Equal(t, ids(env.client.Snapshot().Recommendations), []string{"d"})

	_, found := env.client.FindProperty("a")
	gt.False(t, found)

	// a reply without recommendations keeps the current set
	gt.NoError(t, env.client.SendMessage(ctx, "three"))
	gt.Equal(t, ids(env.client.Snapshot().Recommendations), []string{"d"})

	// repeated ids keep the first entry
	gt.NoError(t, env.client.SendMessage(ctx, "four"))
	gt.Equal(t, ids(env.client.Snapshot().Recommendations), []string{"e", "f"})
}

func TestStaleReplyAfterReset(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()

	started := make(chan struct{})
	release := make(chan struct{})
	backend.sendMessage = func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
		close(started)
		<-release
		return &adapter.ChatReply{
			Response:             "late reply",
			Recommendations:      recs("a", "b"),
			ExtractedPreferences: []json.RawMessage{json.RawMessage(`{}`)},
		}, nil
	}
	env := setup(t, backend)
	oldID := env.client.SessionID()

	done := make(chan error, 1)
	go func() {
		done <- env.client.SendMessage(ctx, "flat in Bristol")
	}()
	<-started

	gt.NoError(t, env.client.ResetSession(ctx, func() bool { return true }))
	newID := env.client.SessionID()
	gt.NotEqual(t, newID, oldID)

	close(release)
	err := <-done
	gt.True(t, errors.Is(err, chat.ErrStaleResult))
	gt.NoError(t, env.client.WaitPreferences(ctx))

	snap := env.client.Snapshot()
	gt.Equal(t, snap.SessionID, newID)
	gt.A(t, snap.Messages).Length(1)
	gt.Equal(t, snap.Messages[0].Text, model.WelcomeText)
	gt.A(t, snap.Recommendations).Length(0)
	gt.Equal(t, len(snap.Preferences), 0)
	gt.False(t, snap.UI.AwaitingReply)
	gt.Equal(t, backend.Calls("GetPreferences"), 0)
}

func TestStalePreferenceRefresh(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()

	started := make(chan struct{})
	release := make(chan struct{})
	backend.sendMessage = func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
		return &adapter.ChatReply{Response: "noted", ExtractedPreferences: []json.RawMessage{json.RawMessage(`{}`)}}, nil
	}
	backend.getPreferences = func(ctx context.Context, sid model.SessionID) (*adapter.PreferenceSet, error) {
		close(started)
		<-release
		return &adapter.PreferenceSet{Preferences: model.Preferences{"garden": {Value: "yes"}}}, nil
	}
	env := setup(t, backend)

	gt.NoError(t, env.client.SendMessage(ctx, "I need a garden"))
	<-started
	gt.NoError(t, env.client.ResetSession(ctx, func() bool { return true }))
	close(release)
	gt.NoError(t, env.client.WaitPreferences(ctx))

	gt.Equal(t, len(env.client.Snapshot().Preferences), 0)
}

func TestLoadHistory(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	backend.getHistory = func(ctx context.Context, sid model.SessionID) (*adapter.History, error) {
		return &adapter.History{
			Messages: []*model.Message{
				model.NewUserMessage("flat in York", at),
				model.NewAgentMessage("Here are flats in York", at),
			},
			Preferences: model.Preferences{"location": {Value: "York", ConfidenceScore: 0.8}},
		}, nil
	}
	env := setup(t, backend)

	gt.NoError(t, env.client.LoadHistory(ctx))
	gt.NoError(t, env.client.LoadHistory(ctx))
	gt.Equal(t, backend.Calls("GetHistory"), 1)

	snap := env.client.Snapshot()
	gt.A(t, snap.Messages).Length(2)
	gt.Equal(t, snap.Messages[0].Text, "flat in York")
	gt.Equal(t, snap.Messages[1].Text, "Here are flats in York")
	gt.Equal(t, snap.Preferences["location"].Value, "York")
}

func TestLoadHistoryPrintsStoredTranscript(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	backend.getHistory = func(ctx context.Context, sid model.SessionID) (*adapter.History, error) {
		return &adapter.History{
			Messages: []*model.Message{
				model.NewUserMessage("FIRST stored user message", at),
				model.NewAgentMessage("SECOND stored agent reply", at),
			},
		}, nil
	}

	var buf bytes.Buffer
	client, err := chat.New(ctx, chat.NewInput{
		Backend:  backend,
		Identity: identity.New(repository.NewMemory()),
		View:     view.NewTerminal(&buf),
	})
	gt.NoError(t, err)
	gt.NoError(t, client.LoadHistory(ctx))

	out := buf.String()
	gt.S(t, out).Contains("---- conversation restored ----")
	restored := out[strings.Index(out, "---- conversation restored ----"):]
	gt.S(t, restored).Contains("you> FIRST stored user message")
	gt.S(t, restored).Contains("reagent> SECOND stored agent reply")
	gt.S(t, restored).NotContains(model.WelcomeText)
	gt.True(t, strings.Index(restored, "FIRST") < strings.Index(restored, "SECOND"))

	// later turns are appended after the restored transcript only
	gt.NoError(t, client.SendMessage(ctx, "THIRD new question"))
	out = buf.String()
	gt.Equal(t, strings.Count(out, "FIRST stored user message"), 1)
	gt.Equal(t, strings.Count(out, "you> THIRD new question"), 1)
}

func TestLoadHistoryRestoresRecommendations(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	backend.getRecs = func(ctx context.Context, sid model.SessionID) ([]*model.Recommendation, error) {
		return recs("a", "b", "a"), nil
	}
	env := setup(t, backend)

	gt.NoError(t, env.client.LoadHistory(ctx))
	gt.Equal(t, backend.Calls("GetRecommendations"), 1)
	gt.Equal(t, ids(env.client.Snapshot().Recommendations), []string{"a", "b"})
	// the initial render and the restored set
	gt.Equal(t, env.rec.Count(model.ChangeRecommendations), 2)

	r, err := env.client.ShowProperty(ctx, "b")
	gt.NoError(t, err)
	gt.Equal(t, r.PropertyID, "b")
}

func TestLoadHistoryUnknownSessionHasNoRecommendations(t *testing.T) {
	env := setup(t, newMockBackend())

	gt.NoError(t, env.client.LoadHistory(context.Background()))
	gt.Equal(t, env.backend.Calls("GetRecommendations"), 1)
	gt.A(t, env.client.Snapshot().Recommendations).Length(0)
}

func TestLoadHistoryRecommendationFailureKeepsHistory(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	backend.getHistory = func(ctx context.Context, sid model.SessionID) (*adapter.History, error) {
		return &adapter.History{Messages: []*model.Message{model.NewUserMessage("flat in York", at)}}, nil
	}
	backend.getRecs = func(ctx context.Context, sid model.SessionID) ([]*model.Recommendation, error) {
		return nil, &adapter.TransportError{Status: 500, Cause: "boom"}
	}
	env := setup(t, backend)

	gt.NoError(t, env.client.LoadHistory(ctx))

	snap := env.client.Snapshot()
	gt.A(t, snap.Messages).Length(1)
	gt.A(t, snap.Recommendations).Length(0)
}

func TestLoadHistoryKeepsNewerRecommendations(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	loading := make(chan struct{})
	release := make(chan struct{})
	backend.getRecs = func(ctx context.Context, sid model.SessionID) ([]*model.Recommendation, error) {
		close(loading)
		<-release
		return recs("old"), nil
	}
	backend.sendMessage = func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
		return &adapter.ChatReply{Response: "ok", Recommendations: recs("new")}, nil
	}
	env := setup(t, backend)

	done := make(chan error)
	go func() { done <- env.client.LoadHistory(ctx) }()
	<-loading
	gt.NoError(t, env.client.SendMessage(ctx, "hello"))
	close(release)
	gt.NoError(t, <-done)

	gt.Equal(t, ids(env.client.Snapshot().Recommendations), []string{"new"})
}

func TestLoadHistoryEmptyKeepsWelcome(t *testing.T) {
	env := setup(t, newMockBackend())

	gt.NoError(t, env.client.LoadHistory(context.Background()))

	snap := env.client.Snapshot()
	gt.A(t, snap.Messages).Length(1)
	gt.Equal(t, snap.Messages[0].Text, model.WelcomeText)
}

func TestLoadHistoryFailure(t *testing.T) {
	backend := newMockBackend()
	backend.getHistory = func(ctx context.Context, sid model.SessionID) (*adapter.History, error) {
		return nil, &adapter.TransportError{Cause: "connection refused"}
	}
	env := setup(t, backend)

	err := env.client.LoadHistory(context.Background())
	gt.Error(t, err)
	var te *adapter.TransportError
	gt.True(t, errors.As(err, &te))

	snap := env.client.Snapshot()
	gt.A(t, snap.Messages).Length(1)
	gt.Equal(t, snap.Messages[0].Text, model.WelcomeText)
	gt.Equal(t, len(snap.Preferences), 0)
}

func TestResetSession(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	backend.sendMessage = func(ctx context.Context, sid model.SessionID, msg string) (*adapter.ChatReply, error) {
		return &adapter.ChatReply{Response: "ok", Recommendations: recs("a")}, nil
	}

	var cleared model.SessionID
	backend.clearSession = func(ctx context.Context, sid model.SessionID) error {
		cleared = sid
		return nil
	}
	env := setup(t, backend)
	oldID := env.client.SessionID()

	gt.NoError(t, env.client.SendMessage(ctx, "hello"))
	_, err := env.client.ShowProperty(ctx, "a")
	gt.NoError(t, err)

	gt.NoError(t, env.client.ResetSession(ctx, func() bool { return true }))
	gt.Equal(t, cleared, oldID)

	snap := env.client.Snapshot()
	gt.NotEqual(t, snap.SessionID, oldID)
	gt.A(t, snap.Messages).Length(1)
	gt.Equal(t, snap.Messages[0].Text, model.WelcomeText)
	gt.A(t, snap.Recommendations).Length(0)
	gt.Equal(t, snap.UI.ActiveModal, model.ModalNone)
	gt.Equal(t, snap.UI.SelectedPropertyID, "")
	gt.A(t, env.rec.Notices()).Length(0)

	stored, found, err := env.kv.Get(ctx, identity.Key)
	gt.NoError(t, err)
	gt.True(t, found)
	gt.Equal(t, stored, string(snap.SessionID))

	// the new session has nothing stored on the backend
	gt.NoError(t, env.client.LoadHistory(ctx))
	gt.Equal(t, backend.Calls("GetHistory"), 0)
}

func TestResetSessionNotConfirmed(t *testing.T) {
	ctx := context.Background()
	env := setup(t, newMockBackend())
	oldID := env.client.SessionID()
	gt.NoError(t, env.client.SendMessage(ctx, "hello"))

	err := env.client.ResetSession(ctx, func() bool { return false })
	gt.True(t, errors.Is(err, chat.ErrResetNotConfirmed))

	err = env.client.ResetSession(ctx, nil)
	gt.True(t, errors.Is(err, chat.ErrResetNotConfirmed))

	gt.Equal(t, env.client.SessionID(), oldID)
	gt.A(t, env.client.Snapshot().Messages).Length(3)
	gt.Equal(t, env.backend.Calls("ClearSession"), 0)
}

// brokenDelete is a KeyValue whose Delete always fails
type brokenDelete struct {
	*repository.Memory
}

func (brokenDelete) Delete(ctx context.Context, key string) error {
	return errors.New("state store is read-only")
}

func TestResetSessionDeleteAndIdentityFailure(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	backend.clearSession = func(ctx context.Context, sid model.SessionID) error {
		return &adapter.TransportError{Status: 503, Cause: "unavailable"}
	}
	rec := view.NewRecorder()
	client, err := chat.New(ctx, chat.NewInput{
		Backend:  backend,
		Identity: identity.New(brokenDelete{repository.NewMemory()}),
		View:     rec,
	})
	gt.NoError(t, err)
	oldID := client.SessionID()

	err = client.ResetSession(ctx, func() bool { return true })
	gt.Error(t, err)
	gt.True(t, errors.Is(err, chat.ErrSessionDeleteFailed))
	var te *adapter.TransportError
	gt.True(t, errors.As(err, &te))
	gt.S(t, err.Error()).Contains("state store is read-only")

	gt.Equal(t, client.SessionID(), oldID)
	gt.A(t, client.Snapshot().Messages).Length(1)
}

func TestResetSessionDeleteFailure(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	backend.clearSession = func(ctx context.Context, sid model.SessionID) error {
		return &adapter.TransportError{Status: 503, Cause: "unavailable"}
	}
	env := setup(t, backend)
	oldID := env.client.SessionID()
	gt.NoError(t, env.client.SendMessage(ctx, "hello"))

	err := env.client.ResetSession(ctx, func() bool { return true })
	gt.Error(t, err)
	gt.True(t, errors.Is(err, chat.ErrSessionDeleteFailed))
	var te *adapter.TransportError
	gt.True(t, errors.As(err, &te))
	gt.Equal(t, te.Status, 503)

	// local state is reset regardless
	snap := env.client.Snapshot()
	gt.NotEqual(t, snap.SessionID, oldID)
	gt.A(t, snap.Messages).Length(1)
	gt.A(t, env.rec.Notices()).Length(1)
}
