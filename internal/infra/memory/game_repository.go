package memory

import (
	"sync"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
)

// GameRepository is the in-memory implementation of app.GameRepository,
// indexing games by identifier and by join code.
type GameRepository struct {
	mu     sync.RWMutex
	games  map[string]*app.Game
	byCode map[string]string
}

func NewGameRepository() *GameRepository {
	return &GameRepository{
		games:  make(map[string]*app.Game),
		byCode: make(map[string]string),
	}
}

func (r *GameRepository) Put(game *app.Game) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[game.ID()] = game
	r.byCode[game.JoinCode()] = game.ID()
}

func (r *GameRepository) Get(id string) (*app.Game, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	game, ok := r.games[id]
	return game, ok
}

func (r *GameRepository) GetByCode(code string) (*app.Game, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[code]
	if !ok {
		return nil, false
	}
	game, ok := r.games[id]
	return game, ok
}

func (r *GameRepository) ListActive() []domain.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SessionInfo
	for _, game := range r.games {
		info := game.Info()
		if info.Status != domain.SessionCompleted {
			out = append(out, info)
		}
	}
	return out
}

func (r *GameRepository) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	game, ok := r.games[id]
	if !ok {
		return
	}
	delete(r.byCode, game.JoinCode())
	delete(r.games, id)
}
