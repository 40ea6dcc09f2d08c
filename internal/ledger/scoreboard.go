package ledger

import (
	"sort"

	"livequiz-service/internal/domain"
)

// Standings derives the leaderboard from the ledger alone. Rank is by
// descending score with a stable tie-break on participant join order.
// Inactive (kicked/left) participants are excluded; disconnected ones are
// not.
func Standings(l *Ledger, roster []domain.Participant) []domain.Standing {
	type row struct {
		participant domain.Participant
		score       int
	}
	rows := make([]row, 0, len(roster))
	for _, p := range roster {
		if !p.Active {
			continue
		}
		rows = append(rows, row{participant: p, score: l.TotalFor(p.ID)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].participant.JoinOrder < rows[j].participant.JoinOrder
	})

	standings := make([]domain.Standing, len(rows))
	for i, r := range rows {
		standings[i] = domain.Standing{
			ParticipantID: r.participant.ID,
			DisplayName:   r.participant.DisplayName,
			Score:         r.score,
			Rank:          i + 1,
		}
	}
	return standings
}

// Deltas reports only the rows whose score or rank changed between two
// leaderboard computations.
func Deltas(before, after []domain.Standing) []domain.ScoreDelta {
	prev := make(map[string]domain.Standing, len(before))
	for _, s := range before {
		prev[s.ParticipantID] = s
	}
	var deltas []domain.ScoreDelta
	for _, s := range after {
		old, ok := prev[s.ParticipantID]
		if ok && old.Score == s.Score && old.Rank == s.Rank {
			continue
		}
		deltas = append(deltas, domain.ScoreDelta{
			ParticipantID: s.ParticipantID,
			NewScore:      s.Score,
			NewRank:       s.Rank,
		})
	}
	return deltas
}

// FastestCorrect returns the participant with the lowest accepted sequence
// number among correct answers for the question. Cosmetic only.
func FastestCorrect(l *Ledger, questionID string) (string, bool) {
	for _, entry := range l.ForQuestion(questionID) {
		if entry.Revealed && entry.Correct {
			return entry.ParticipantID, true
		}
	}
	return "", false
}
