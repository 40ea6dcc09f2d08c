package domain

// Channel names. Each is an independently subscribable stream multiplexed
// over a client's persistent connection; all are logically joined to one
// session.
const (
	ChannelSession  = "session"
	ChannelPlayer   = "player"
	ChannelHost     = "host"
	ChannelObserver = "observer"
)

// Event types on the channel protocol. Server-to-client unless noted.
const (
	EventSessionState  = "session:state"
	EventRosterChanged = "roster:changed"

	EventRoundStarted = "round:started"
	EventRoundPaused  = "round:paused"
	EventRoundResumed = "round:resumed"
	EventRoundEnded   = "round:ended"

	EventQuestionStarted  = "question:started"
	EventQuestionTimer    = "question:timer"
	EventQuestionRevealed = "question:revealed"

	// client -> server
	EventAnswerSubmit = "answer:submit"
	// server -> submitter only
	EventAnswerAccepted = "answer:accepted"
	EventAnswerRejected = "answer:rejected"

	EventScoreDelta = "score:delta"

	EventResyncRequest  = "resync:request" // client -> server
	EventResyncSnapshot = "resync:snapshot"

	EventError = "error"

	// host channel commands, client -> server
	EventSessionStart  = "session:start"
	EventSessionPause  = "session:pause"
	EventSessionResume = "session:resume"
	EventSessionEnd    = "session:end"
	EventRoundStart    = "round:start"
	EventRoundPause    = "round:pause"
	EventRoundResume   = "round:resume"
	EventRoundAdvance  = "round:advance"
	EventRoundReveal   = "round:reveal"
	EventRoundEnd      = "round:end"

	EventLeave = "leave" // client -> server
	EventKick  = "kick"  // host channel, client -> server

	// EventReconnected is synthesised client-side by the connection manager
	// after a successful reconnect; it never crosses the wire.
	EventReconnected = "reconnected"
)

// Event is the typed envelope carried on every channel. Seq reflects the
// order the authoritative writer applied the underlying change; subscribers
// observe events in Seq order.
type Event struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// SubmitPayload is the body of an answer:submit event.
type SubmitPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId,omitempty"`
	Text       string `json:"text,omitempty"`
	// ReportedMs is the client's own response-time measurement. Display
	// only; the server never scores or orders by it.
	ReportedMs int64 `json:"reportedMs,omitempty"`
	TimedOut   bool  `json:"timedOut,omitempty"`
}

// TimerPayload carries server-driven countdown updates. Clients may render
// local countdowns between ticks but never feed them back into scoring.
type TimerPayload struct {
	QuestionID  string `json:"questionId"`
	RemainingMs int64  `json:"remainingMs"`
}

// RevealedAnswer is one row of a reveal batch.
type RevealedAnswer struct {
	ParticipantID string `json:"participantId"`
	OptionID      string `json:"optionId,omitempty"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
	Seq           uint64 `json:"seq"`
	TimedOut      bool   `json:"timedOut,omitempty"`
}

// RevealPayload is broadcast as one indivisible unit: every accepted answer
// of the question appears, never a partial subset.
type RevealPayload struct {
	QuestionID string `json:"questionId"`
	// CorrectOptionID is revealed to everyone once answering is closed.
	CorrectOptionID string           `json:"correctOptionId,omitempty"`
	CorrectAnswer   string           `json:"correctAnswer,omitempty"`
	Answers         []RevealedAnswer `json:"answers"`
	// FastestParticipantID flags the lowest accepted sequence among correct
	// answers. Cosmetic badge only; it never changes the point formula.
	FastestParticipantID string       `json:"fastestParticipantId,omitempty"`
	Deltas               []ScoreDelta `json:"deltas"`
}

// KickPayload names the participant a host wants removed.
type KickPayload struct {
	ParticipantID string `json:"participantId"`
}

// ReconnectedPayload reports which retry attempt re-established transport.
type ReconnectedPayload struct {
	Attempt int `json:"attempt"`
}
