package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one user's conversation, recommendations and
// preferences on the backend.
type SessionID string

// NewSessionID generates a session identifier with a millisecond timestamp
// prefix and a random suffix, e.g. "session_1700000000000_3f2a9c1de".
func NewSessionID(now time.Time) SessionID {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return SessionID("session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix)
}

func (x SessionID) String() string { return string(x) }
