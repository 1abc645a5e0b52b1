package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/majlis-chat/roomsession/internal/domain"
)

var (
	// ErrNotConnected rejects an operation before any transport call is made.
	ErrNotConnected = errors.New("not connected to hub")
	ErrEmptyMessage = errors.New("message body is empty")
	ErrEvicted      = errors.New("session is being evicted")
)

// RestrictionError blocks an operation because of the local user's
// moderation state. It is not a transport failure and nothing is retried.
type RestrictionError struct {
	Kind      domain.ModerationKind
	Reason    string
	ExpiresAt *time.Time
}

func (e *RestrictionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("restricted (%s): %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("restricted (%s)", e.Kind)
}
