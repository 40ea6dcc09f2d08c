package redis

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
)

func testGame(id, code string) *app.Game {
	info := domain.SessionInfo{ID: id, JoinCode: code}
	rounds := []*domain.Round{{
		ID:        "r1",
		Type:      domain.RoundFixed,
		Questions: []domain.Question{{ID: "q1", Prompt: "one"}},
	}}
	return app.NewGame(info, rounds, clockwork.NewFakeClock(), time.Second)
}

func TestDirectoryPutRegistersKeys(t *testing.T) {
	client, mr := testClient(t)
	dir := NewGameDirectory(client, time.Minute)

	game := testGame("sess-1", "ABC234")
	dir.Put(game)

	if !mr.Exists("game:session:sess-1") {
		t.Fatal("expected liveness key")
	}
	if got, _ := mr.Get("game:code:ABC234"); got != "sess-1" {
		t.Fatalf("expected code index to hold session id, got %q", got)
	}

	fetched, ok := dir.Get("sess-1")
	if !ok || fetched.ID() != "sess-1" {
		t.Fatalf("get: %v ok=%v", fetched, ok)
	}
	byCode, ok := dir.GetByCode("ABC234")
	if !ok || byCode.ID() != "sess-1" {
		t.Fatalf("get by code: %v ok=%v", byCode, ok)
	}
}

func TestDirectoryGetByCodeFallsBackToRedisIndex(t *testing.T) {
	client, _ := testClient(t)
	dir := NewGameDirectory(client, time.Minute)
	other := NewGameDirectory(client, time.Minute)

	dir.Put(testGame("sess-1", "ABC234"))

	// another instance resolves the code via redis but does not own the game
	if _, ok := other.GetByCode("ABC234"); ok {
		t.Fatal("directory must not fabricate games it does not hold")
	}
	if _, ok := dir.GetByCode("UNKNWN"); ok {
		t.Fatal("unknown code must miss")
	}
}

func TestDirectoryListActiveAndDelete(t *testing.T) {
	client, mr := testClient(t)
	dir := NewGameDirectory(client, time.Minute)

	game := testGame("sess-1", "ABC234")
	dir.Put(game)
	if got := dir.ListActive(); len(got) != 1 || got[0].ID != "sess-1" {
		t.Fatalf("list active: %+v", got)
	}

	dir.Delete("sess-1")
	if _, ok := dir.Get("sess-1"); ok {
		t.Fatal("expected game removed")
	}
	if mr.Exists("game:session:sess-1") || mr.Exists("game:code:ABC234") {
		t.Fatal("expected redis keys removed")
	}
	if got := dir.ListActive(); len(got) != 0 {
		t.Fatalf("expected empty directory, got %+v", got)
	}
}
