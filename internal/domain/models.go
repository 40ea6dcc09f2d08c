package domain

import "time"

// SessionStatus tracks the lifecycle of a game session. Transitions are
// monotonic forward except the pause/resume pair.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionLobby     SessionStatus = "lobby"
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// RoundStatus tracks the lifecycle of a single round.
type RoundStatus string

const (
	RoundReady     RoundStatus = "ready"
	RoundActive    RoundStatus = "active"
	RoundPaused    RoundStatus = "paused"
	RoundRevealed  RoundStatus = "revealed"
	RoundCompleted RoundStatus = "completed"
)

// RoundType selects the scoring strategy for a round.
type RoundType string

const (
	RoundFixed     RoundType = "fixed"
	RoundGraduated RoundType = "graduated"
)

// Role distinguishes the session host from regular players.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Option represents a possible answer for a multiple-choice question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

// Question models one question in a round. Immutable once the round starts;
// only the round's current-question pointer moves.
type Question struct {
	ID      string   `json:"id"`
	Ordinal int      `json:"ordinal"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options,omitempty"`
	// Answer is the canonical free-text answer for questions without options.
	Answer string `json:"answer,omitempty"`
	// TimeLimit overrides the round time limit when non-zero.
	TimeLimit time.Duration `json:"timeLimit,omitempty"`
}

// QuestionSet is durable question content loaded from the backing store.
type QuestionSet struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// RoundSettings bound the scoring behaviour of a round.
type RoundSettings struct {
	TimeLimit         time.Duration `json:"timeLimit"`
	PointsPerQuestion int           `json:"pointsPerQuestion,omitempty"`
	MaxPoints         int           `json:"maxPoints,omitempty"`
	MinPoints         int           `json:"minPoints,omitempty"`
	// DecreaseRate is points lost per elapsed second for graduated rounds.
	DecreaseRate float64 `json:"decreaseRate,omitempty"`
	// Penalty is awarded for incorrect answers (zero or negative).
	Penalty int `json:"penalty,omitempty"`
}

// Round is a scored segment of a session with one scoring strategy.
type Round struct {
	ID        string        `json:"id"`
	Ordinal   int           `json:"ordinal"`
	Type      RoundType     `json:"type"`
	Questions []Question    `json:"questions"`
	Settings  RoundSettings `json:"settings"`
	Status    RoundStatus   `json:"status"`
	// Current indexes the active question, -1 before the round starts.
	Current int `json:"current"`
}

// SessionSettings are host-chosen session policies.
type SessionSettings struct {
	MaxParticipants int  `json:"maxParticipants"`
	AllowLateJoin   bool `json:"allowLateJoin"`
	// QuestionPool caps the number of questions drawn per round, 0 = all.
	QuestionPool int `json:"questionPool,omitempty"`
}

// SessionInfo is the durable identity and lifecycle of a session.
type SessionInfo struct {
	ID        string          `json:"id"`
	JoinCode  string          `json:"joinCode"`
	Status    SessionStatus   `json:"status"`
	Settings  SessionSettings `json:"settings"`
	CreatedAt time.Time       `json:"createdAt"`
	StartedAt time.Time       `json:"startedAt,omitempty"`
	EndedAt   time.Time       `json:"endedAt,omitempty"`
}

// Participant is a roster entry. Disconnected participants keep their entry
// and score; only leave/kick clears the Active flag.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Connected   bool   `json:"connected"`
	Active      bool   `json:"active"`
	JoinOrder   int    `json:"joinOrder"`
	Score       int    `json:"score"`
}

// Answer is a ledger entry for one (participant, question) slot.
type Answer struct {
	ParticipantID string `json:"participantId"`
	QuestionID    string `json:"questionId"`
	OptionID      string `json:"optionId,omitempty"`
	Text          string `json:"text,omitempty"`
	// Seq is the server receipt sequence number assigned at acceptance. It is
	// the sole ordering authority for who answered first.
	Seq uint64 `json:"seq"`
	// Elapsed is measured on the server from the question-start event.
	Elapsed time.Duration `json:"elapsed"`
	// ReportedMs is the client-reported answer time. Advisory only, never
	// used for ordering or scoring.
	ReportedMs int64     `json:"reportedMs,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
	TimedOut   bool      `json:"timedOut,omitempty"`
	Revealed   bool      `json:"revealed"`
	Correct    bool      `json:"correct"`
	Points     int       `json:"points"`
}

// Standing is one leaderboard row.
type Standing struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// ScoreDelta is broadcast instead of full leaderboard snapshots so message
// size stays bounded as the roster grows.
type ScoreDelta struct {
	ParticipantID string `json:"participantId"`
	NewScore      int    `json:"newScore"`
	NewRank       int    `json:"newRank"`
}

// QuestionView is the client-safe projection of a question: correct flags
// and canonical answers are stripped.
type QuestionView struct {
	ID        string        `json:"id"`
	Ordinal   int           `json:"ordinal"`
	Prompt    string        `json:"prompt"`
	Options   []Option      `json:"options,omitempty"`
	TimeLimit time.Duration `json:"timeLimit"`
}

// View strips server-only fields from a question. timeLimit is the round
// default applied when the question has no override.
func (q Question) View(timeLimit time.Duration) QuestionView {
	limit := q.TimeLimit
	if limit == 0 {
		limit = timeLimit
	}
	opts := make([]Option, len(q.Options))
	for i, o := range q.Options {
		opts[i] = Option{ID: o.ID, Text: o.Text}
	}
	return QuestionView{
		ID:        q.ID,
		Ordinal:   q.Ordinal,
		Prompt:    q.Prompt,
		Options:   opts,
		TimeLimit: limit,
	}
}

// RoundSnapshot is the client view of a round.
type RoundSnapshot struct {
	ID            string        `json:"id"`
	Ordinal       int           `json:"ordinal"`
	Type          RoundType     `json:"type"`
	Status        RoundStatus   `json:"status"`
	QuestionCount int           `json:"questionCount"`
	Current       int           `json:"current"`
	Question      *QuestionView `json:"question,omitempty"`
	Remaining     time.Duration `json:"remaining,omitempty"`
}

// SessionSnapshot is the full authoritative state sent on connect and on
// resync. YourAnswers carries only the requesting participant's ledger
// entries so a reconnecting client can restore already-answered state
// without resubmitting.
type SessionSnapshot struct {
	Session     SessionInfo    `json:"session"`
	Round       *RoundSnapshot `json:"round,omitempty"`
	Roster      []Participant  `json:"roster"`
	Standings   []Standing     `json:"standings"`
	YourAnswers []Answer       `json:"yourAnswers,omitempty"`
}
