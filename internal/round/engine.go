package round

import (
	"time"

	"github.com/jonboulle/clockwork"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/ledger"
)

// Engine drives one round through
// ready -> active <-> paused -> revealed -> completed, with a direct
// active/paused -> completed edge for a host-initiated end. Operations
// invoked from an illegal state return an InvalidTransition rejection
// naming the current state; nothing is retried automatically.
//
// The engine is not safe for concurrent use on its own; the owning game
// aggregate serialises all calls (single-writer rule).
type Engine struct {
	round  *domain.Round
	ledger *ledger.Ledger
	scorer Scorer
	clock  clockwork.Clock

	// questionStart is the server question-start instant; banked accumulates
	// elapsed time across pause/resume so pauses don't count against players.
	questionStart time.Time
	banked        time.Duration
}

func NewEngine(r *domain.Round, led *ledger.Ledger, clock clockwork.Clock) (*Engine, error) {
	scorer, err := ScorerFor(r)
	if err != nil {
		return nil, err
	}
	r.Status = domain.RoundReady
	r.Current = -1
	return &Engine{round: r, ledger: led, scorer: scorer, clock: clock}, nil
}

func (e *Engine) Round() *domain.Round       { return e.round }
func (e *Engine) Status() domain.RoundStatus { return e.round.Status }

// CurrentQuestion returns the question the round is on, if any.
func (e *Engine) CurrentQuestion() (domain.Question, bool) {
	if e.round.Current < 0 || e.round.Current >= len(e.round.Questions) {
		return domain.Question{}, false
	}
	return e.round.Questions[e.round.Current], true
}

// Start moves ready -> active, sets the current question to the first one
// and starts its timer.
func (e *Engine) Start() error {
	if e.round.Status != domain.RoundReady {
		return domain.InvalidTransition("round", string(e.round.Status), "start")
	}
	if len(e.round.Questions) == 0 {
		return domain.InvalidTransition("round", string(e.round.Status), "start with no questions")
	}
	e.round.Status = domain.RoundActive
	e.round.Current = 0
	e.resetQuestionClock()
	return nil
}

func (e *Engine) Pause() error {
	if e.round.Status != domain.RoundActive {
		return domain.InvalidTransition("round", string(e.round.Status), "pause")
	}
	e.banked += e.clock.Since(e.questionStart)
	e.round.Status = domain.RoundPaused
	return nil
}

func (e *Engine) Resume() error {
	if e.round.Status != domain.RoundPaused {
		return domain.InvalidTransition("round", string(e.round.Status), "resume")
	}
	e.questionStart = e.clock.Now()
	e.round.Status = domain.RoundActive
	return nil
}

// Reveal freezes answer acceptance for the current question, scores every
// accepted entry via the round's strategy and commits the batch to the
// ledger as one unit. Legal from active or paused.
func (e *Engine) Reveal() ([]ledger.RevealResult, error) {
	if e.round.Status != domain.RoundActive && e.round.Status != domain.RoundPaused {
		return nil, domain.InvalidTransition("round", string(e.round.Status), "reveal")
	}
	question, ok := e.CurrentQuestion()
	if !ok {
		return nil, domain.InvalidTransition("round", string(e.round.Status), "reveal without a current question")
	}

	entries := e.ledger.ForQuestion(question.ID)
	results := make([]ledger.RevealResult, 0, len(entries))
	for _, entry := range entries {
		correct := IsCorrect(question, entry)
		points := e.scorer.Score(correct, entry.Elapsed)
		if entry.TimedOut {
			points = 0
		}
		results = append(results, ledger.RevealResult{
			ParticipantID: entry.ParticipantID,
			Correct:       correct,
			Points:        points,
		})
	}
	e.ledger.CommitReveal(question.ID, results)
	e.round.Status = domain.RoundRevealed
	return results, nil
}

// AdvanceQuestion is only legal from revealed: an unrevealed question cannot
// be skipped. It either moves to the next question (back to active) or
// completes the round. The returned flag reports completion.
func (e *Engine) AdvanceQuestion() (bool, error) {
	if e.round.Status != domain.RoundRevealed {
		return false, domain.InvalidTransition("round", string(e.round.Status), "advance question")
	}
	if e.round.Current+1 >= len(e.round.Questions) {
		e.round.Status = domain.RoundCompleted
		return true, nil
	}
	e.round.Current++
	e.round.Status = domain.RoundActive
	e.resetQuestionClock()
	return false, nil
}

// End terminates the round early. Legal from active or paused only; natural
// completion goes through AdvanceQuestion.
func (e *Engine) End() error {
	if e.round.Status != domain.RoundActive && e.round.Status != domain.RoundPaused {
		return domain.InvalidTransition("round", string(e.round.Status), "end")
	}
	e.round.Status = domain.RoundCompleted
	return nil
}

// AcceptAnswer validates that the submission targets the round's current
// question while the round is active, then records it in the ledger with
// the server-measured elapsed time.
func (e *Engine) AcceptAnswer(participantID, questionID string, sub ledger.Submission) (domain.Answer, error) {
	switch e.round.Status {
	case domain.RoundActive:
	case domain.RoundCompleted:
		return domain.Answer{}, domain.ErrRoundClosed
	default:
		// paused, revealed or not started: the question is not open
		return domain.Answer{}, domain.ErrQuestionClosed
	}
	current, ok := e.CurrentQuestion()
	if !ok || current.ID != questionID {
		return domain.Answer{}, domain.ErrQuestionClosed
	}
	return e.ledger.Accept(participantID, questionID, sub, e.Elapsed(), e.clock.Now())
}

// Elapsed is the server-measured time the current question has been open,
// excluding paused intervals.
func (e *Engine) Elapsed() time.Duration {
	if e.round.Status == domain.RoundActive {
		return e.banked + e.clock.Since(e.questionStart)
	}
	return e.banked
}

// TimeLimit returns the effective limit for the current question.
func (e *Engine) TimeLimit() time.Duration {
	question, ok := e.CurrentQuestion()
	if ok && question.TimeLimit > 0 {
		return question.TimeLimit
	}
	return e.round.Settings.TimeLimit
}

// Remaining reports the countdown for the current question, floored at zero.
// Zero-limit questions have no countdown.
func (e *Engine) Remaining() time.Duration {
	limit := e.TimeLimit()
	if limit <= 0 {
		return 0
	}
	remaining := limit - e.Elapsed()
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (e *Engine) resetQuestionClock() {
	e.questionStart = e.clock.Now()
	e.banked = 0
}
