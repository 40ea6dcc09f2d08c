package domain

import (
	"errors"
	"fmt"
)

// Reason codes are the stable machine-readable half of every rejection.
// Clients map them to remediation; messages are for humans only.
const (
	CodeAuthenticationRequired = "AuthenticationRequired"
	CodeConnectionLost         = "ConnectionLost"
	CodeInvalidTransition      = "InvalidTransition"
	CodeQuestionClosed         = "QuestionClosed"
	CodeRoundClosed            = "RoundClosed"
	CodeSessionClosed          = "SessionClosed"
	CodeDuplicateAnswer        = "DuplicateAnswer"
	CodeCapacityExceeded       = "CapacityExceeded"
	CodeForbidden              = "Forbidden"
	CodeNotFound               = "NotFound"
)

// Rejection is a typed refusal carrying a stable reason code. Rejections are
// never retried automatically; they are surfaced to the initiating actor.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	return r.Code + ": " + r.Message
}

// Is matches rejections by code so errors.Is works against the sentinels
// below even for rejections built with custom messages.
func (r *Rejection) Is(target error) bool {
	var t *Rejection
	if !errors.As(target, &t) {
		return false
	}
	return r.Code == t.Code
}

var (
	ErrAuthenticationRequired = &Rejection{CodeAuthenticationRequired, "participant identifier required"}
	ErrConnectionLost         = &Rejection{CodeConnectionLost, "connection lost, retries exhausted"}
	ErrInvalidTransition      = &Rejection{CodeInvalidTransition, "operation not legal in current state"}
	ErrQuestionClosed         = &Rejection{CodeQuestionClosed, "question no longer accepts answers"}
	ErrRoundClosed            = &Rejection{CodeRoundClosed, "round is closed"}
	ErrSessionClosed          = &Rejection{CodeSessionClosed, "session is closed"}
	ErrDuplicateAnswer        = &Rejection{CodeDuplicateAnswer, "answer already recorded for this question"}
	ErrCapacityExceeded       = &Rejection{CodeCapacityExceeded, "session is full"}
	ErrForbidden              = &Rejection{CodeForbidden, "only the host may perform this action"}
	ErrNotFound               = &Rejection{CodeNotFound, "not found"}
)

// InvalidTransition builds a rejection identifying the current state and the
// attempted operation, per the round/session state machine contract.
func InvalidTransition(scope, current, op string) *Rejection {
	return &Rejection{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("%s in state %q cannot %s", scope, current, op),
	}
}

// RejectionOf extracts the typed rejection from an error chain, if any.
func RejectionOf(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
