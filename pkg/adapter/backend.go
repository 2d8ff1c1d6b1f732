package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/model"
)

// Backend is the interface for the REAgent HTTP service. Every method is a
// single attempt: failures are returned as *TransportError and never retried.
type Backend interface {
	// SendMessage posts one user turn and returns the agent reply
	SendMessage(ctx context.Context, sessionID model.SessionID, message string) (*ChatReply, error)
	// GetHistory loads the stored transcript and preference snapshot
	GetHistory(ctx context.Context, sessionID model.SessionID) (*History, error)
	// GetPreferences loads the full preference set
	GetPreferences(ctx context.Context, sessionID model.SessionID) (*PreferenceSet, error)
	// GetInsights loads the derived preference summary
	GetInsights(ctx context.Context, sessionID model.SessionID) (*model.Insights, error)
	// GetRecommendations loads the stored recommendations, best first. A
	// session unknown to the backend is a *TransportError with Status 404.
	GetRecommendations(ctx context.Context, sessionID model.SessionID) ([]*model.Recommendation, error)
	// ClearSession deletes conversations and preferences of the session
	ClearSession(ctx context.Context, sessionID model.SessionID) error

	// SendFeedback records interest in a recommended property
	SendFeedback(ctx context.Context, sessionID model.SessionID, propertyID string, feedback Feedback) error
	// UpdatePreference stores a preference stated outside of chat
	UpdatePreference(ctx context.Context, sessionID model.SessionID, update *PreferenceUpdate) error
	// DeletePreference removes one preference category
	DeletePreference(ctx context.Context, sessionID model.SessionID, category string) error
	// Health checks that the service is up
	Health(ctx context.Context) (*HealthStatus, error)
}

// TransportError is returned for connection failures (Status is 0) and
// non-2xx responses.
type TransportError struct {
	Status int
	Cause  string
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return "transport error: " + e.Cause
	}
	return fmt.Sprintf("transport error: status %d: %s", e.Status, e.Cause)
}

// ChatReply is the consumed part of a chat turn response.
type ChatReply struct {
	Response        string
	Recommendations []*model.Recommendation

	// ExtractedPreferences is only inspected for presence
	ExtractedPreferences []json.RawMessage
}

// History is the transcript and preferences stored for a session.
type History struct {
	Messages    []*model.Message
	Preferences model.Preferences
}

// PreferenceSet is the response of the preferences endpoint.
type PreferenceSet struct {
	Preferences model.Preferences
	Summary     string
}

// Feedback is the reaction of the user to a recommended property.
type Feedback string

const (
	FeedbackInterested    Feedback = "interested"
	FeedbackNotInterested Feedback = "not_interested"
	FeedbackViewed        Feedback = "viewed"
)

// Validate checks if the feedback is known to the backend
func (x Feedback) Validate() error {
	switch x {
	case FeedbackInterested, FeedbackNotInterested, FeedbackViewed:
		return nil
	default:
		return goerr.New("invalid feedback", goerr.V("feedback", x))
	}
}

// PreferenceUpdate is a manually stated preference.
type PreferenceUpdate struct {
	Category        string  `json:"preference_type"`
	Value           string  `json:"preference_value"`
	ConfidenceScore float64 `json:"confidence_score"`
	IsExplicit      bool    `json:"is_explicit"`
}

type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// httpBackend implements Backend over HTTP/JSON
type httpBackend struct {
	baseURL   *url.URL
	client    *http.Client
	userAgent string
}

// BackendOption is a functional option for NewBackend
type BackendOption func(*httpBackend)

// WithHTTPClient replaces http.DefaultClient
func WithHTTPClient(client *http.Client) BackendOption {
	return func(b *httpBackend) {
		b.client = client
	}
}

// WithUserAgent sets the User-Agent header of every request
func WithUserAgent(ua string) BackendOption {
	return func(b *httpBackend) {
		b.userAgent = ua
	}
}

// NewBackend creates a Backend for the service at baseURL, e.g.
// "http://localhost:8000".
func NewBackend(baseURL string, opts ...BackendOption) (Backend, error) {
	if baseURL == "" {
		return nil, goerr.New("backend base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse backend base URL", goerr.V("url", baseURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, goerr.New("backend base URL must be http or https", goerr.V("url", baseURL))
	}

	b := &httpBackend{
		baseURL:   u,
		client:    http.DefaultClient,
		userAgent: "reagent",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *httpBackend) SendMessage(ctx context.Context, sessionID model.SessionID, message string) (*ChatReply, error) {
	req := chatMessageRequest{Message: message, SessionID: string(sessionID)}

	var resp chatMessageResponse
	if err := b.do(ctx, http.MethodPost, apiPath("chat", "message"), &req, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to send message", goerr.V("session_id", sessionID))
	}

	return &ChatReply{
		Response:             resp.Response,
		Recommendations:      resp.recommendations(),
		ExtractedPreferences: resp.ExtractedPreferences,
	}, nil
}

func (b *httpBackend) GetHistory(ctx context.Context, sessionID model.SessionID) (*History, error) {
	var resp historyResponse
	if err := b.do(ctx, http.MethodGet, apiPath("chat", "history", string(sessionID)), nil, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to get history", goerr.V("session_id", sessionID))
	}

	return &History{
		Messages:    resp.messages(),
		Preferences: toPreferences(resp.UserPreferences),
	}, nil
}

func (b *httpBackend) GetPreferences(ctx context.Context, sessionID model.SessionID) (*PreferenceSet, error) {
	var resp preferencesResponse
	if err := b.do(ctx, http.MethodGet, apiPath("preferences", string(sessionID)), nil, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to get preferences", goerr.V("session_id", sessionID))
	}

	return &PreferenceSet{
		Preferences: toPreferences(resp.Preferences),
		Summary:     resp.Summary,
	}, nil
}

func (b *httpBackend) GetInsights(ctx context.Context, sessionID model.SessionID) (*model.Insights, error) {
	var resp insightsResponse
	if err := b.do(ctx, http.MethodGet, apiPath("preferences", string(sessionID), "insights"), nil, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to get insights", goerr.V("session_id", sessionID))
	}
	return resp.insights(), nil
}

// recommendationLimit is how many stored recommendations are requested
const recommendationLimit = 10

func (b *httpBackend) GetRecommendations(ctx context.Context, sessionID model.SessionID) ([]*model.Recommendation, error) {
	path := apiPath("properties", "recommendations", string(sessionID)) +
		"?limit=" + strconv.Itoa(recommendationLimit)

	var resp recommendationsResponse
	if err := b.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to get recommendations", goerr.V("session_id", sessionID))
	}
	return toRecommendations(resp.Recommendations), nil
}

func (b *httpBackend) ClearSession(ctx context.Context, sessionID model.SessionID) error {
	if err := b.do(ctx, http.MethodDelete, apiPath("chat", "session", string(sessionID)), nil, nil); err != nil {
		return goerr.Wrap(err, "failed to clear session", goerr.V("session_id", sessionID))
	}
	return nil
}

func (b *httpBackend) SendFeedback(ctx context.Context, sessionID model.SessionID, propertyID string, feedback Feedback) error {
	if err := feedback.Validate(); err != nil {
		return err
	}

	req := feedbackRequest{
		SessionID:  string(sessionID),
		PropertyID: propertyID,
		Feedback:   string(feedback),
	}
	if err := b.do(ctx, http.MethodPost, apiPath("chat", "feedback"), &req, nil); err != nil {
		return goerr.Wrap(err, "failed to send feedback",
			goerr.V("session_id", sessionID),
			goerr.V("property_id", propertyID),
		)
	}
	return nil
}

func (b *httpBackend) UpdatePreference(ctx context.Context, sessionID model.SessionID, update *PreferenceUpdate) error {
	if update == nil || update.Category == "" {
		return goerr.New("preference category is required")
	}

	if err := b.do(ctx, http.MethodPost, apiPath("preferences", string(sessionID), "update"), update, nil); err != nil {
		return goerr.Wrap(err, "failed to update preference",
			goerr.V("session_id", sessionID),
			goerr.V("category", update.Category),
		)
	}
	return nil
}

func (b *httpBackend) DeletePreference(ctx context.Context, sessionID model.SessionID, category string) error {
	if category == "" {
		return goerr.New("preference category is required")
	}

	if err := b.do(ctx, http.MethodDelete, apiPath("preferences", string(sessionID), category), nil, nil); err != nil {
		return goerr.Wrap(err, "failed to delete preference",
			goerr.V("session_id", sessionID),
			goerr.V("category", category),
		)
	}
	return nil
}

func (b *httpBackend) Health(ctx context.Context) (*HealthStatus, error) {
	var resp HealthStatus
	if err := b.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to check health")
	}
	return &resp, nil
}

// apiPath joins escaped path segments under the /api prefix
func apiPath(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return "/api/" + strings.Join(escaped, "/")
}

// maxErrorBody limits how much of an error response is kept as the cause
const maxErrorBody = 4 << 10

// do performs one request. reqBody and respBody are JSON encoded/decoded when
// not nil.
func (b *httpBackend) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	target := b.baseURL.String() + path

	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal request body")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.V("url", target))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", b.userAgent)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return goerr.Wrap(&TransportError{Cause: err.Error()}, "request failed",
			goerr.V("method", method),
			goerr.V("url", target),
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return goerr.Wrap(&TransportError{Status: resp.StatusCode, Cause: errorCause(resp.Status, raw)}, "unexpected status",
			goerr.V("method", method),
			goerr.V("url", target),
		)
	}

	if respBody == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return goerr.Wrap(&TransportError{Status: resp.StatusCode, Cause: "malformed response body: " + err.Error()}, "failed to decode response",
			goerr.V("method", method),
			goerr.V("url", target),
		)
	}
	return nil
}

// errorCause prefers the "detail" field of an error response
func errorCause(status string, raw []byte) string {
	var detail struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != nil {
		if s, ok := detail.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(detail.Detail); err == nil {
			return string(b)
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return status
}
