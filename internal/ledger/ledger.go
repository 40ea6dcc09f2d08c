package ledger

import (
	"sync"
	"time"

	"livequiz-service/internal/domain"
)

type slotKey struct {
	participantID string
	questionID    string
}

// Ledger is the append/upsert store of accepted answers keyed by
// (participant, question). Acceptance assigns a server-wide monotonic
// sequence number which is the sole ordering authority for who answered
// first; client-reported timings are recorded but never consulted.
type Ledger struct {
	mu      sync.Mutex
	nextSeq uint64
	entries map[slotKey]*domain.Answer
	order   []slotKey
}

func New() *Ledger {
	return &Ledger{entries: make(map[slotKey]*domain.Answer)}
}

// Submission is the acceptance-time input for one answer.
type Submission struct {
	OptionID   string
	Text       string
	ReportedMs int64
	TimedOut   bool
}

// Accept records an answer for the slot, or rejects with DuplicateAnswer if
// the slot is already occupied. A timed-out submission may only fill an
// empty slot and carries no selected option. elapsed is the server-measured
// time since the question started; receivedAt is the server clock at
// acceptance.
func (l *Ledger) Accept(participantID, questionID string, sub Submission, elapsed time.Duration, receivedAt time.Time) (domain.Answer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := slotKey{participantID, questionID}
	if _, ok := l.entries[key]; ok {
		return domain.Answer{}, domain.ErrDuplicateAnswer
	}

	l.nextSeq++
	entry := &domain.Answer{
		ParticipantID: participantID,
		QuestionID:    questionID,
		Seq:           l.nextSeq,
		Elapsed:       elapsed,
		ReportedMs:    sub.ReportedMs,
		ReceivedAt:    receivedAt,
		TimedOut:      sub.TimedOut,
	}
	if !sub.TimedOut {
		entry.OptionID = sub.OptionID
		entry.Text = sub.Text
	}
	l.entries[key] = entry
	l.order = append(l.order, key)
	return *entry, nil
}

// Entry returns the recorded answer for a slot, if any.
func (l *Ledger) Entry(participantID, questionID string) (domain.Answer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[slotKey{participantID, questionID}]
	if !ok {
		return domain.Answer{}, false
	}
	return *entry, true
}

// ForQuestion returns all entries for a question in acceptance order.
func (l *Ledger) ForQuestion(questionID string) []domain.Answer {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Answer
	for _, key := range l.order {
		if key.questionID == questionID {
			out = append(out, *l.entries[key])
		}
	}
	return out
}

// ForParticipant returns all of one participant's entries in acceptance
// order, used to rebuild "already answered" state on resync.
func (l *Ledger) ForParticipant(participantID string) []domain.Answer {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Answer
	for _, key := range l.order {
		if key.participantID == participantID {
			out = append(out, *l.entries[key])
		}
	}
	return out
}

// RevealResult carries the scoring outcome for one entry of a reveal batch.
type RevealResult struct {
	ParticipantID string
	Correct       bool
	Points        int
}

// CommitReveal writes points for every entry of the question under one lock
// so no reader observes a partially revealed question.
func (l *Ledger) CommitReveal(questionID string, results []RevealResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, res := range results {
		entry, ok := l.entries[slotKey{res.ParticipantID, questionID}]
		if !ok {
			continue
		}
		entry.Revealed = true
		entry.Correct = res.Correct
		entry.Points = res.Points
	}
}

// TotalFor derives a participant's cumulative score from revealed entries.
// Totals are never stored independently; this is the single source of truth.
func (l *Ledger) TotalFor(participantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, key := range l.order {
		if key.participantID != participantID {
			continue
		}
		if entry := l.entries[key]; entry.Revealed {
			total += entry.Points
		}
	}
	return total
}
