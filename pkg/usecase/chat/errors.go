package chat

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrEmptyMessage is returned for blank input, before any network call
	ErrEmptyMessage = goerr.New("message is empty")

	// ErrBusy is returned while another chat turn is outstanding
	ErrBusy = goerr.New("a reply is still pending")

	// ErrStaleResult marks a response that arrived for a session that has
	// since been reset. The result is discarded.
	ErrStaleResult = goerr.New("result belongs to a previous session")

	ErrPropertyNotFound = goerr.New("property is not in the current recommendations")

	ErrResetNotConfirmed = goerr.New("session reset was not confirmed")

	ErrInvalidPreference = goerr.New("invalid preference")

	ErrInvalidFeedback = goerr.New("invalid feedback")

	// ErrSessionDeleteFailed is returned when the backend could not delete the
	// session. Local state has been reset anyway.
	ErrSessionDeleteFailed = goerr.New("failed to delete session on the backend")
)
