package round

import (
	"fmt"
	"math"
	"strings"
	"time"

	"livequiz-service/internal/domain"
)

// Scorer computes points for one accepted answer at reveal time. elapsed is
// always the server-measured time from the question-start event.
type Scorer interface {
	Score(correct bool, elapsed time.Duration) int
}

// FixedScorer awards a constant for every correct answer.
type FixedScorer struct {
	Points  int
	Penalty int // zero or negative, for incorrect answers
}

func (s FixedScorer) Score(correct bool, _ time.Duration) int {
	if correct {
		return s.Points
	}
	return s.Penalty
}

// GraduatedScorer decays the award by elapsed time:
// max(Min, Max - floor(elapsedSeconds*DecreaseRate)).
type GraduatedScorer struct {
	Max          int
	Min          int
	DecreaseRate float64
	Penalty      int
}

func (s GraduatedScorer) Score(correct bool, elapsed time.Duration) int {
	if !correct {
		return s.Penalty
	}
	points := s.Max - int(math.Floor(elapsed.Seconds()*s.DecreaseRate))
	if points < s.Min {
		return s.Min
	}
	return points
}

// ScorerFor selects the strategy for a round by its type.
func ScorerFor(r *domain.Round) (Scorer, error) {
	switch r.Type {
	case domain.RoundFixed:
		points := r.Settings.PointsPerQuestion
		if points == 0 {
			points = 1
		}
		return FixedScorer{Points: points, Penalty: r.Settings.Penalty}, nil
	case domain.RoundGraduated:
		return GraduatedScorer{
			Max:          r.Settings.MaxPoints,
			Min:          r.Settings.MinPoints,
			DecreaseRate: r.Settings.DecreaseRate,
			Penalty:      r.Settings.Penalty,
		}, nil
	default:
		return nil, fmt.Errorf("unknown round type %q", r.Type)
	}
}

// IsCorrect checks an answer against the question's correct option, or its
// canonical text for free-text questions. Timed-out entries are never
// correct.
func IsCorrect(q domain.Question, a domain.Answer) bool {
	if a.TimedOut {
		return false
	}
	if len(q.Options) > 0 {
		for _, opt := range q.Options {
			if opt.Correct {
				return opt.ID == a.OptionID
			}
		}
		return false
	}
	return q.Answer != "" && strings.EqualFold(strings.TrimSpace(a.Text), strings.TrimSpace(q.Answer))
}
