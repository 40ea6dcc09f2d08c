package app

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/ledger"
	"livequiz-service/internal/round"
)

// Game is the authoritative in-memory state of one session: status, rounds,
// roster, answer ledger and subscriber set. Every mutation funnels through
// methods that hold the single mutex, which serialises the writer and makes
// acceptance order well-defined. Readers only ever see snapshots.
type Game struct {
	mu    sync.Mutex
	clock clockwork.Clock
	tick  time.Duration

	info         domain.SessionInfo
	rounds       []*domain.Round
	currentRound int
	engine       *round.Engine
	answers      *ledger.Ledger

	roster  map[string]*domain.Participant
	joinSeq int

	subscribers map[chan domain.Event]string
	eventSeq    uint64
	timerGen    int
}

// NewGame builds a session in the created state. tick is the cadence of
// server-driven question:timer events.
func NewGame(info domain.SessionInfo, rounds []*domain.Round, clock clockwork.Clock, tick time.Duration) *Game {
	if tick <= 0 {
		tick = time.Second
	}
	info.Status = domain.SessionCreated
	return &Game{
		clock:        clock,
		tick:         tick,
		info:         info,
		rounds:       rounds,
		currentRound: -1,
		answers:      ledger.New(),
		roster:       make(map[string]*domain.Participant),
		subscribers:  make(map[chan domain.Event]string),
	}
}

// Info returns the session identity and lifecycle fields.
func (g *Game) Info() domain.SessionInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.info
}

func (g *Game) ID() string       { return g.info.ID }
func (g *Game) JoinCode() string { return g.info.JoinCode }

// Subscribe registers an event channel scoped to a participant; events
// targeted at other participants (answer acceptance) are filtered out. An
// empty participantID receives broadcast events only. The caller must invoke
// the returned cancel function to avoid leaks.
func (g *Game) Subscribe(participantID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 32)
	g.mu.Lock()
	g.subscribers[ch] = participantID
	g.mu.Unlock()

	cancel := func() {
		g.mu.Lock()
		if _, ok := g.subscribers[ch]; ok {
			delete(g.subscribers, ch)
			close(ch)
		}
		g.mu.Unlock()
	}
	return ch, cancel
}

// broadcastLocked fans an event out in application order. target restricts
// delivery to one participant's channels; empty means everyone. Slow
// subscribers lose their oldest pending event rather than blocking the
// writer; resync recovers any gap.
func (g *Game) broadcastLocked(eventType string, payload any, target string) {
	g.eventSeq++
	event := domain.Event{Type: eventType, Seq: g.eventSeq, Payload: payload}
	for ch, pid := range g.subscribers {
		if target != "" && pid != target {
			continue
		}
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

// Join registers a participant, or reactivates an existing entry on
// reconnect. The first join moves the session from created to lobby.
func (g *Game) Join(participantID, displayName string, role domain.Role) (domain.SessionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.info.Status == domain.SessionCompleted {
		return domain.SessionSnapshot{}, domain.ErrSessionClosed
	}

	if p, ok := g.roster[participantID]; ok {
		p.Connected = true
		p.Active = true
		if displayName != "" {
			p.DisplayName = displayName
		}
		g.broadcastLocked(domain.EventRosterChanged, g.rosterLocked(), "")
		return g.snapshotLocked(participantID), nil
	}

	// The host is established at session creation; nobody joins into the
	// host role afterwards.
	if role == domain.RoleHost && g.info.Status != domain.SessionCreated {
		return domain.SessionSnapshot{}, domain.ErrForbidden
	}

	switch g.info.Status {
	case domain.SessionCreated:
		g.info.Status = domain.SessionLobby
	case domain.SessionLobby:
	default:
		if !g.info.Settings.AllowLateJoin {
			return domain.SessionSnapshot{}, &domain.Rejection{
				Code:    domain.CodeSessionClosed,
				Message: "joining after start is disabled for this session",
			}
		}
	}

	if max := g.info.Settings.MaxParticipants; max > 0 && role != domain.RoleHost {
		players := 0
		for _, p := range g.roster {
			if p.Active && p.Role == domain.RolePlayer {
				players++
			}
		}
		if players >= max {
			return domain.SessionSnapshot{}, domain.ErrCapacityExceeded
		}
	}

	g.joinSeq++
	g.roster[participantID] = &domain.Participant{
		ID:          participantID,
		DisplayName: displayName,
		Role:        role,
		Connected:   true,
		Active:      true,
		JoinOrder:   g.joinSeq,
	}
	g.broadcastLocked(domain.EventRosterChanged, g.rosterLocked(), "")
	return g.snapshotLocked(participantID), nil
}

// MarkDisconnected flags transport loss. The roster entry and score are
// retained; only leave or kick removes a participant.
func (g *Game) MarkDisconnected(participantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.roster[participantID]
	if !ok || !p.Connected {
		return
	}
	p.Connected = false
	g.broadcastLocked(domain.EventRosterChanged, g.rosterLocked(), "")
}

// Leave deactivates a participant at their own request.
func (g *Game) Leave(participantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.roster[participantID]
	if !ok || !p.Active {
		return
	}
	p.Active = false
	p.Connected = false
	g.broadcastLocked(domain.EventRosterChanged, g.rosterLocked(), "")
}

// Kick removes a participant. Host only.
func (g *Game) Kick(actorID, targetID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	p, ok := g.roster[targetID]
	if !ok {
		return domain.ErrNotFound
	}
	p.Active = false
	p.Connected = false
	g.broadcastLocked(domain.EventRosterChanged, g.rosterLocked(), "")
	return nil
}

// StartSession moves lobby -> active. Host only.
func (g *Game) StartSession(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	if g.info.Status != domain.SessionLobby {
		return domain.InvalidTransition("session", string(g.info.Status), "start")
	}
	g.info.Status = domain.SessionActive
	g.info.StartedAt = g.clock.Now()
	g.broadcastLocked(domain.EventSessionState, g.snapshotLocked(""), "")
	return nil
}

// PauseSession suspends the session and, transitively, the current round.
func (g *Game) PauseSession(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	if g.info.Status != domain.SessionActive {
		return domain.InvalidTransition("session", string(g.info.Status), "pause")
	}
	g.info.Status = domain.SessionPaused
	if g.engine != nil && g.engine.Status() == domain.RoundActive {
		_ = g.engine.Pause()
		g.timerGen++
		g.broadcastLocked(domain.EventRoundPaused, g.roundSnapshotLocked(), "")
	}
	g.broadcastLocked(domain.EventSessionState, g.snapshotLocked(""), "")
	return nil
}

// ResumeSession is the only backward transition pair with pause.
func (g *Game) ResumeSession(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	if g.info.Status != domain.SessionPaused {
		return domain.InvalidTransition("session", string(g.info.Status), "resume")
	}
	g.info.Status = domain.SessionActive
	if g.engine != nil && g.engine.Status() == domain.RoundPaused {
		_ = g.engine.Resume()
		g.startTimerLocked()
		g.broadcastLocked(domain.EventRoundResumed, g.roundSnapshotLocked(), "")
	}
	g.broadcastLocked(domain.EventSessionState, g.snapshotLocked(""), "")
	return nil
}

// EndSession is immediate and terminal for the whole session scope.
func (g *Game) EndSession(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	if g.info.Status == domain.SessionCompleted {
		return domain.InvalidTransition("session", string(g.info.Status), "end")
	}
	g.info.Status = domain.SessionCompleted
	g.info.EndedAt = g.clock.Now()
	g.timerGen++
	if g.engine != nil {
		switch g.engine.Status() {
		case domain.RoundActive, domain.RoundPaused:
			_ = g.engine.End()
		}
	}
	g.broadcastLocked(domain.EventSessionState, g.snapshotLocked(""), "")
	return nil
}

// StartRound activates the next ready round and its first question.
func (g *Game) StartRound(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	if g.info.Status != domain.SessionActive {
		return domain.InvalidTransition("session", string(g.info.Status), "start round")
	}
	if g.engine != nil && g.engine.Status() != domain.RoundCompleted {
		return domain.InvalidTransition("round", string(g.engine.Status()), "start next round")
	}
	next := g.currentRound + 1
	if next >= len(g.rounds) {
		return domain.InvalidTransition("session", string(g.info.Status), "start round: none remaining")
	}

	engine, err := round.NewEngine(g.rounds[next], g.answers, g.clock)
	if err != nil {
		return err
	}
	if err := engine.Start(); err != nil {
		return err
	}
	g.currentRound = next
	g.engine = engine
	g.broadcastLocked(domain.EventRoundStarted, g.roundSnapshotLocked(), "")
	g.broadcastQuestionLocked()
	g.startTimerLocked()
	return nil
}

func (g *Game) PauseRound(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	if g.engine == nil {
		return domain.InvalidTransition("round", "none", "pause")
	}
	if err := g.engine.Pause(); err != nil {
		return err
	}
	g.timerGen++
	g.broadcastLocked(domain.EventRoundPaused, g.roundSnapshotLocked(), "")
	return nil
}

func (g *Game) ResumeRound(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	if g.engine == nil {
		return domain.InvalidTransition("round", "none", "resume")
	}
	if g.info.Status != domain.SessionActive {
		return domain.InvalidTransition("session", string(g.info.Status), "resume round")
	}
	if err := g.engine.Resume(); err != nil {
		return err
	}
	g.broadcastLocked(domain.EventRoundResumed, g.roundSnapshotLocked(), "")
	g.startTimerLocked()
	return nil
}

// EndRound terminates the current round early.
func (g *Game) EndRound(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	if g.engine == nil {
		return domain.InvalidTransition("round", "none", "end")
	}
	if err := g.engine.End(); err != nil {
		return err
	}
	g.timerGen++
	g.broadcastLocked(domain.EventRoundEnded, g.roundSnapshotLocked(), "")
	return nil
}

// AdvanceQuestion moves past a revealed question, or completes the round
// when none remain.
func (g *Game) AdvanceQuestion(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	if g.engine == nil {
		return domain.InvalidTransition("round", "none", "advance question")
	}
	completed, err := g.engine.AdvanceQuestion()
	if err != nil {
		return err
	}
	if completed {
		g.timerGen++
		g.broadcastLocked(domain.EventRoundEnded, g.roundSnapshotLocked(), "")
		return nil
	}
	g.broadcastQuestionLocked()
	g.startTimerLocked()
	return nil
}

// Reveal closes the current question, commits the scoring batch and
// broadcasts the whole outcome as one event so no subscriber ever observes
// a partial reveal.
func (g *Game) Reveal(actorID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	if g.engine == nil {
		return domain.InvalidTransition("round", "none", "reveal")
	}
	question, hasQuestion := g.engine.CurrentQuestion()
	before := ledger.Standings(g.answers, g.rosterLocked())

	if _, err := g.engine.Reveal(); err != nil {
		return err
	}
	g.timerGen++

	after := ledger.Standings(g.answers, g.rosterLocked())
	deltas := ledger.Deltas(before, after)

	payload := domain.RevealPayload{Deltas: deltas}
	if hasQuestion {
		payload.QuestionID = question.ID
		payload.CorrectAnswer = question.Answer
		for _, opt := range question.Options {
			if opt.Correct {
				payload.CorrectOptionID = opt.ID
				break
			}
		}
		for _, entry := range g.answers.ForQuestion(question.ID) {
			payload.Answers = append(payload.Answers, domain.RevealedAnswer{
				ParticipantID: entry.ParticipantID,
				OptionID:      entry.OptionID,
				Correct:       entry.Correct,
				Points:        entry.Points,
				Seq:           entry.Seq,
				TimedOut:      entry.TimedOut,
			})
		}
		if fastest, ok := ledger.FastestCorrect(g.answers, question.ID); ok {
			payload.FastestParticipantID = fastest
		}
	}
	g.broadcastLocked(domain.EventQuestionRevealed, payload, "")
	if len(deltas) > 0 {
		g.broadcastLocked(domain.EventScoreDelta, deltas, "")
	}
	return nil
}

// Submit proposes an answer for the current question. The single writer
// accepts or rejects; rejections carry a stable reason the submitting
// client can surface.
func (g *Game) Submit(participantID string, payload domain.SubmitPayload) (domain.Answer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.info.Status == domain.SessionCompleted {
		return domain.Answer{}, domain.ErrSessionClosed
	}
	p, ok := g.roster[participantID]
	if !ok {
		return domain.Answer{}, domain.ErrNotFound
	}
	if !p.Active {
		return domain.Answer{}, domain.ErrForbidden
	}
	if g.engine == nil {
		return domain.Answer{}, domain.ErrRoundClosed
	}

	answer, err := g.engine.AcceptAnswer(participantID, payload.QuestionID, ledger.Submission{
		OptionID:   payload.OptionID,
		Text:       payload.Text,
		ReportedMs: payload.ReportedMs,
		TimedOut:   payload.TimedOut,
	})
	if err != nil {
		return domain.Answer{}, err
	}
	g.broadcastLocked(domain.EventAnswerAccepted, answer, participantID)
	return answer, nil
}

// Snapshot returns the authoritative view. forParticipant, when set, adds
// that participant's own ledger entries.
func (g *Game) Snapshot(forParticipant string) domain.SessionSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked(forParticipant)
}

// Resync serves a reconnecting client: it marks the participant connected
// again and returns a full snapshot. It is idempotent and side-effect-free
// with respect to transitions and points.
func (g *Game) Resync(participantID string) (domain.SessionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.roster[participantID]
	if !ok {
		return domain.SessionSnapshot{}, domain.ErrNotFound
	}
	if !p.Connected {
		p.Connected = true
		g.broadcastLocked(domain.EventRosterChanged, g.rosterLocked(), "")
	}
	return g.snapshotLocked(participantID), nil
}

// UpdateSettings replaces the session settings. Host only, and only before
// the session starts; settings are frozen once play begins.
func (g *Game) UpdateSettings(actorID string, settings domain.SessionSettings) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireHostLocked(actorID); err != nil {
		return err
	}
	switch g.info.Status {
	case domain.SessionCreated, domain.SessionLobby:
	default:
		return domain.InvalidTransition("session", string(g.info.Status), "update settings")
	}
	g.info.Settings = settings
	g.broadcastLocked(domain.EventSessionState, g.snapshotLocked(""), "")
	return nil
}

// HasConnected reports whether any participant is currently connected.
func (g *Game) HasConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.roster {
		if p.Connected {
			return true
		}
	}
	return false
}

func (g *Game) requireHostLocked(actorID string) error {
	p, ok := g.roster[actorID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Role != domain.RoleHost || !p.Active {
		return domain.ErrForbidden
	}
	return nil
}

func (g *Game) rosterLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(g.roster))
	for _, p := range g.roster {
		view := *p
		view.Score = g.answers.TotalFor(p.ID)
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out
}

func (g *Game) roundSnapshotLocked() *domain.RoundSnapshot {
	if g.engine == nil {
		return nil
	}
	r := g.engine.Round()
	snap := &domain.RoundSnapshot{
		ID:            r.ID,
		Ordinal:       r.Ordinal,
		Type:          r.Type,
		Status:        r.Status,
		QuestionCount: len(r.Questions),
		Current:       r.Current,
	}
	if question, ok := g.engine.CurrentQuestion(); ok && (r.Status == domain.RoundActive || r.Status == domain.RoundPaused) {
		view := question.View(r.Settings.TimeLimit)
		snap.Question = &view
		snap.Remaining = g.engine.Remaining()
	}
	return snap
}

func (g *Game) snapshotLocked(forParticipant string) domain.SessionSnapshot {
	snap := domain.SessionSnapshot{
		Session:   g.info,
		Round:     g.roundSnapshotLocked(),
		Roster:    g.rosterLocked(),
		Standings: ledger.Standings(g.answers, g.rosterLocked()),
	}
	if forParticipant != "" {
		snap.YourAnswers = g.answers.ForParticipant(forParticipant)
	}
	return snap
}

func (g *Game) broadcastQuestionLocked() {
	question, ok := g.engine.CurrentQuestion()
	if !ok {
		return
	}
	view := question.View(g.engine.Round().Settings.TimeLimit)
	g.broadcastLocked(domain.EventQuestionStarted, view, "")
}

// startTimerLocked spawns the server-driven countdown for the current
// question. Bumping timerGen invalidates any previous timer goroutine.
func (g *Game) startTimerLocked() {
	g.timerGen++
	if g.engine == nil || g.engine.TimeLimit() <= 0 {
		return
	}
	gen := g.timerGen
	question, ok := g.engine.CurrentQuestion()
	if !ok {
		return
	}
	go g.runTimer(gen, question.ID)
}

func (g *Game) runTimer(gen int, questionID string) {
	ticker := g.clock.NewTicker(g.tick)
	defer ticker.Stop()
	for range ticker.Chan() {
		g.mu.Lock()
		if gen != g.timerGen || g.engine == nil || g.engine.Status() != domain.RoundActive {
			g.mu.Unlock()
			return
		}
		remaining := g.engine.Remaining()
		g.broadcastLocked(domain.EventQuestionTimer, domain.TimerPayload{
			QuestionID:  questionID,
			RemainingMs: remaining.Milliseconds(),
		}, "")
		if remaining <= 0 {
			log.Debug().Str("session_id", g.info.ID).Str("question_id", questionID).Msg("question timer expired")
			g.mu.Unlock()
			return
		}
		g.mu.Unlock()
	}
}
