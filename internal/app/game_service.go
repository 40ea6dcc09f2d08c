package app

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"livequiz-service/internal/domain"
)

// GameRepository is the durable resource API the engine calls for state it
// did not originate: create, fetch by id or join code, list active sessions
// and delete. Implementations live under internal/infra.
type GameRepository interface {
	Put(game *Game)
	Get(id string) (*Game, bool)
	GetByCode(code string) (*Game, bool)
	ListActive() []domain.SessionInfo
	Delete(id string)
}

// QuestionRepository loads question-set content (from cache/backing store).
type QuestionRepository interface {
	GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// RoundConfig describes one round of a new session.
type RoundConfig struct {
	Type          domain.RoundType     `json:"type"`
	QuestionSetID string               `json:"questionSetId"`
	Settings      domain.RoundSettings `json:"settings"`
}

// SessionConfig is the host's create-session request.
type SessionConfig struct {
	Settings domain.SessionSettings `json:"settings"`
	Rounds   []RoundConfig          `json:"rounds"`
}

// GameService owns session lifecycle around the Game aggregates.
type GameService struct {
	games     GameRepository
	questions QuestionRepository
	clock     clockwork.Clock
	tick      time.Duration
	rnd       *rand.Rand
}

// Option tweaks service construction, mainly for deterministic tests.
type Option func(*GameService)

func WithClock(clock clockwork.Clock) Option {
	return func(s *GameService) { s.clock = clock }
}

func WithTimerTick(tick time.Duration) Option {
	return func(s *GameService) { s.tick = tick }
}

func NewGameService(games GameRepository, questions QuestionRepository, opts ...Option) *GameService {
	s := &GameService{
		games:     games,
		questions: questions,
		clock:     clockwork.NewRealClock(),
		tick:      time.Second,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession materialises a new session from question sets, registers
// the host on the roster and stores the game in the directory.
func (s *GameService) CreateSession(ctx context.Context, hostID, hostName string, cfg SessionConfig) (*Game, error) {
	if hostID == "" {
		return nil, domain.ErrAuthenticationRequired
	}
	if len(cfg.Rounds) == 0 {
		return nil, &domain.Rejection{Code: domain.CodeInvalidTransition, Message: "session needs at least one round"}
	}

	rounds := make([]*domain.Round, 0, len(cfg.Rounds))
	for i, rc := range cfg.Rounds {
		set, err := s.questions.GetQuestionSet(ctx, rc.QuestionSetID)
		if err != nil {
			return nil, fmt.Errorf("load question set %s: %w", rc.QuestionSetID, err)
		}
		questions := set.Questions
		if pool := cfg.Settings.QuestionPool; pool > 0 && pool < len(questions) {
			questions = questions[:pool]
		}
		if len(questions) == 0 {
			return nil, &domain.Rejection{Code: domain.CodeNotFound, Message: "question set " + rc.QuestionSetID + " is empty"}
		}
		round := &domain.Round{
			ID:        uuid.NewString(),
			Ordinal:   i,
			Type:      rc.Type,
			Questions: questions,
			Settings:  rc.Settings,
			Status:    domain.RoundReady,
			Current:   -1,
		}
		rounds = append(rounds, round)
	}

	info := domain.SessionInfo{
		ID:        ulid.Make().String(),
		JoinCode:  s.newJoinCode(),
		Settings:  cfg.Settings,
		CreatedAt: s.clock.Now(),
	}
	game := NewGame(info, rounds, s.clock, s.tick)
	if _, err := game.Join(hostID, hostName, domain.RoleHost); err != nil {
		return nil, err
	}
	s.games.Put(game)
	log.Info().
		Str("session_id", info.ID).
		Str("join_code", info.JoinCode).
		Int("rounds", len(rounds)).
		Msg("session created")
	return game, nil
}

// Get fetches a session by its identifier.
func (s *GameService) Get(id string) (*Game, error) {
	game, ok := s.games.Get(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return game, nil
}

// Resolve maps a human-entered join code to a session. Raw identifiers
// typed by humans are never trusted without this step.
func (s *GameService) Resolve(code string) (*Game, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrNotFound
	}
	game, ok := s.games.GetByCode(code)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return game, nil
}

// ListActive returns every non-completed session in the directory.
func (s *GameService) ListActive() []domain.SessionInfo {
	return s.games.ListActive()
}

// UpdateSettings replaces session settings before the game starts.
func (s *GameService) UpdateSettings(actorID, sessionID string, settings domain.SessionSettings) error {
	game, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	return game.UpdateSettings(actorID, settings)
}

// Delete ends the session (terminal broadcast included) and removes it from
// the directory. Host only.
func (s *GameService) Delete(actorID, sessionID string) error {
	game, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if info := game.Info(); info.Status != domain.SessionCompleted {
		if err := game.EndSession(actorID); err != nil {
			return err
		}
	}
	s.games.Delete(sessionID)
	log.Info().Str("session_id", sessionID).Msg("session deleted")
	return nil
}

// joinCodeAlphabet avoids ambiguous glyphs so codes survive being read out
// loud and typed on phones.
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func (s *GameService) newJoinCode() string {
	code := make([]byte, 6)
	for i := range code {
		code[i] = joinCodeAlphabet[s.rnd.Intn(len(joinCodeAlphabet))]
	}
	return string(code)
}
