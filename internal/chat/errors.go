package chat

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/webchat/internal/presence"
)

// User facing outcomes of chat actions. Backend failures are wrapped so that
// both ErrBackendUnavailable and the underlying cause match with errors.Is.
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrNicknameInUse      = presence.ErrNicknameInUse
	ErrInvalidNickname    = errors.New("invalid nickname")
	ErrInvalidRoom        = errors.New("invalid room")
	ErrWrongRoom          = errors.New("room not joined")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrNoUsers            = errors.New("no users connected")
	ErrUnexpected         = errors.New("unexpected error")
)

// Reason is the short machine readable form of an error sent to clients.
type Reason string

const (
	ReasonNotAuthenticated   Reason = "not_authenticated"
	ReasonNicknameInUse      Reason = "nickname_in_use"
	ReasonInvalidNickname    Reason = "invalid_nickname"
	ReasonInvalidRoom        Reason = "invalid_room"
	ReasonWrongRoom          Reason = "wrong_room"
	ReasonInvalidMessage     Reason = "invalid_message"
	ReasonBackendUnavailable Reason = "backend_unavailable"
	ReasonNoUsers            Reason = "no_users"
	ReasonUnexpected         Reason = "unexpected_error"
)

var reasons = []struct {
	err    error
	reason Reason
}{
	{ErrNotAuthenticated, ReasonNotAuthenticated},
	{ErrNicknameInUse, ReasonNicknameInUse},
	{ErrInvalidNickname, ReasonInvalidNickname},
	{ErrInvalidRoom, ReasonInvalidRoom},
	{ErrWrongRoom, ReasonWrongRoom},
	{ErrInvalidMessage, ReasonInvalidMessage},
	{ErrBackendUnavailable, ReasonBackendUnavailable},
	{ErrNoUsers, ReasonNoUsers},
}

// ReasonOf maps err onto the taxonomy. Anything unrecognised is unexpected.
func ReasonOf(err error) Reason {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonUnexpected
}

func backendError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}
