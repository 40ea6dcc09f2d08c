package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
)

// GameDirectory is a Redis-aware implementation of app.GameRepository.
// Notes:
//   - Games themselves stay in a local in-memory map so the in-process
//     single-writer broadcast logic is reused as-is.
//   - Redis marks session liveness and indexes join codes, so a fleet
//     fronted by sticky routing can resolve codes to instances.
//   - For true distribution you'd pair this with a pub/sub projector that
//     fans out session events.
type GameDirectory struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	games  map[string]*app.Game
	byCode map[string]string
}

func NewGameDirectory(client *redis.Client, ttl time.Duration) *GameDirectory {
	return &GameDirectory{
		client: client,
		ttl:    ttl,
		games:  make(map[string]*app.Game),
		byCode: make(map[string]string),
	}
}

func (d *GameDirectory) Put(game *app.Game) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.games[game.ID()] = game
	d.byCode[game.JoinCode()] = game.ID()
	// best-effort liveness marker and code index
	ctx := context.Background()
	_ = d.client.Set(ctx, d.sessionKey(game.ID()), "1", d.ttl).Err()
	_ = d.client.Set(ctx, d.codeKey(game.JoinCode()), game.ID(), d.ttl).Err()
}

func (d *GameDirectory) Get(id string) (*app.Game, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	game, ok := d.games[id]
	return game, ok
}

func (d *GameDirectory) GetByCode(code string) (*app.Game, bool) {
	d.mu.RLock()
	id, ok := d.byCode[code]
	d.mu.RUnlock()
	if !ok {
		// the code may have been registered by another instance
		id, err := d.client.Get(context.Background(), d.codeKey(code)).Result()
		if err != nil || id == "" {
			return nil, false
		}
		return d.Get(id)
	}
	return d.Get(id)
}

func (d *GameDirectory) ListActive() []domain.SessionInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []domain.SessionInfo
	for _, game := range d.games {
		info := game.Info()
		if info.Status != domain.SessionCompleted {
			out = append(out, info)
		}
	}
	return out
}

func (d *GameDirectory) Delete(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	game, ok := d.games[id]
	if !ok {
		return
	}
	ctx := context.Background()
	_ = d.client.Del(ctx, d.sessionKey(id)).Err()
	_ = d.client.Del(ctx, d.codeKey(game.JoinCode())).Err()
	delete(d.byCode, game.JoinCode())
	delete(d.games, id)
}

func (d *GameDirectory) sessionKey(id string) string {
	return "game:session:" + id
}

func (d *GameDirectory) codeKey(code string) string {
	return "game:code:" + code
}
