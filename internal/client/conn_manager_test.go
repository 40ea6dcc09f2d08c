package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"
	transport "livequiz-service/internal/transport/http"
)

func testHandler(t *testing.T) (http.Handler, *app.Game) {
	t.Helper()
	loader := memory.NewStaticQuestionLoader(map[string]domain.QuestionSet{
		"set-1": {ID: "set-1", Questions: []domain.Question{
			{ID: "q1", Ordinal: 0, Prompt: "one", Options: []domain.Option{
				{ID: "a", Text: "right", Correct: true},
				{ID: "b", Text: "wrong"},
			}},
		}},
	})
	service := app.NewGameService(
		memory.NewGameRepository(),
		memory.NewQuestionRepository(loader, time.Minute),
	)
	game, err := service.CreateSession(context.Background(), "host", "Host", app.SessionConfig{
		Settings: domain.SessionSettings{AllowLateJoin: true},
		Rounds: []app.RoundConfig{{
			Type:          domain.RoundFixed,
			QuestionSetID: "set-1",
			Settings:      domain.RoundSettings{PointsPerQuestion: 1},
		}},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return transport.NewRouter(transport.NewWSHandler(service)), game
}

// restartableServer lets tests kill and revive the server on a fixed address.
type restartableServer struct {
	addr    string
	handler http.Handler
	srv     *http.Server

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// serve runs a server on ln, tracking accepted connections so stop can
// sever hijacked websockets, which http.Server.Close cannot reach.
func (s *restartableServer) serve(ln net.Listener) {
	s.srv = &http.Server{
		Handler: s.handler,
		ConnState: func(conn net.Conn, state http.ConnState) {
			s.mu.Lock()
			defer s.mu.Unlock()
			switch state {
			case http.StateNew:
				s.conns[conn] = struct{}{}
			case http.StateClosed:
				delete(s.conns, conn)
			}
		},
	}
	go s.srv.Serve(ln)
}

func startRestartable(t *testing.T, handler http.Handler) *restartableServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &restartableServer{addr: ln.Addr().String(), handler: handler, conns: make(map[net.Conn]struct{})}
	s.serve(ln)
	t.Cleanup(func() { s.stop() })
	return s
}

func (s *restartableServer) stop() {
	s.srv.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}

func (s *restartableServer) restart(t *testing.T) {
	t.Helper()
	var ln net.Listener
	var err error
	for i := 0; i < 50; i++ {
		ln, err = net.Listen("tcp", s.addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("rebind %s: %v", s.addr, err)
	}
	s.serve(ln)
}

func (s *restartableServer) wsURL() string { return "ws://" + s.addr }

func fastBackoff() BackoffPolicy {
	return BackoffPolicy{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2, MaxAttempts: 60}
}

func TestBackoffPolicyDelays(t *testing.T) {
	policy := DefaultBackoffPolicy()
	expected := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		15 * time.Second, // capped
		15 * time.Second,
	}
	for i, want := range expected {
		if got := policy.Delay(i + 1); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, want, got)
		}
	}
}

func TestOpenRequiresParticipant(t *testing.T) {
	manager := NewManager("ws://127.0.0.1:0")
	_, err := manager.Open(context.Background(), domain.ChannelPlayer, AuthContext{JoinCode: "ABCDEF"})
	if !errors.Is(err, domain.ErrAuthenticationRequired) {
		t.Fatalf("expected AuthenticationRequired, got %v", err)
	}
}

func TestOpenDeliversHandshakeSnapshot(t *testing.T) {
	handler, game := testHandler(t)
	server := startRestartable(t, handler)

	manager := NewManager(server.wsURL(), WithBackoff(fastBackoff()))
	conn, err := manager.Open(context.Background(), domain.ChannelPlayer, AuthContext{
		JoinCode:      game.JoinCode(),
		ParticipantID: "alice",
		DisplayName:   "Alice",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	snapshot := conn.Snapshot()
	if snapshot.Session.ID != game.ID() {
		t.Fatalf("snapshot names wrong session: %+v", snapshot.Session)
	}
	found := false
	for _, p := range snapshot.Roster {
		if p.ID == "alice" && p.Connected {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected alice on handshake roster, got %+v", snapshot.Roster)
	}
}

func TestSubscribeReceivesBroadcasts(t *testing.T) {
	handler, game := testHandler(t)
	server := startRestartable(t, handler)

	manager := NewManager(server.wsURL(), WithBackoff(fastBackoff()))
	conn, err := manager.Open(context.Background(), domain.ChannelPlayer, AuthContext{
		JoinCode:      game.JoinCode(),
		ParticipantID: "alice",
		DisplayName:   "Alice",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	rosters := make(chan []domain.Participant, 4)
	unsubscribe := conn.Subscribe(domain.EventRosterChanged, func(event domain.Event) {
		roster, err := Payload[[]domain.Participant](event)
		if err != nil {
			t.Errorf("decode roster: %v", err)
			return
		}
		rosters <- roster
	})
	defer unsubscribe()

	if _, err := game.Join("bob", "Bob", domain.RolePlayer); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	select {
	case roster := <-rosters:
		for _, p := range roster {
			if p.ID == "bob" {
				return
			}
		}
		t.Fatalf("bob missing from roster %+v", roster)
	case <-time.After(3 * time.Second):
		t.Fatal("no roster:changed delivered")
	}
}

func TestReconnectReportsAttemptAndRefreshesSnapshot(t *testing.T) {
	handler, game := testHandler(t)
	server := startRestartable(t, handler)

	manager := NewManager(server.wsURL(), WithBackoff(fastBackoff()))
	conn, err := manager.Open(context.Background(), domain.ChannelPlayer, AuthContext{
		JoinCode:      game.JoinCode(),
		ParticipantID: "alice",
		DisplayName:   "Alice",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	reconnects := make(chan domain.ReconnectedPayload, 1)
	unsubscribe := conn.Subscribe(domain.EventReconnected, func(event domain.Event) {
		payload, err := Payload[domain.ReconnectedPayload](event)
		if err != nil {
			return
		}
		select {
		case reconnects <- payload:
		default:
		}
	})
	defer unsubscribe()

	server.stop()
	time.Sleep(30 * time.Millisecond) // let a few attempts fail
	server.restart(t)

	select {
	case payload := <-reconnects:
		if payload.Attempt < 1 {
			t.Fatalf("attempt must be 1-based, got %d", payload.Attempt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnected event")
	}

	// the re-handshake replaced the snapshot with fresh authoritative state
	snapshot := conn.Snapshot()
	if snapshot.Session.ID != game.ID() {
		t.Fatalf("stale snapshot after reconnect: %+v", snapshot.Session)
	}
	if err := conn.Err(); err != nil {
		t.Fatalf("unexpected terminal error: %v", err)
	}
}

func TestConnectionLostAfterExhaustedRetries(t *testing.T) {
	handler, game := testHandler(t)
	server := startRestartable(t, handler)

	policy := BackoffPolicy{Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2, MaxAttempts: 3}
	manager := NewManager(server.wsURL(), WithBackoff(policy))
	conn, err := manager.Open(context.Background(), domain.ChannelPlayer, AuthContext{
		JoinCode:      game.JoinCode(),
		ParticipantID: "alice",
		DisplayName:   "Alice",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	failures := make(chan domain.Rejection, 1)
	conn.Subscribe(domain.EventError, func(event domain.Event) {
		rejection, err := Payload[domain.Rejection](event)
		if err != nil {
			return
		}
		select {
		case failures <- rejection:
		default:
		}
	})

	server.stop() // and never restart

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection never became terminal")
	}
	if !errors.Is(conn.Err(), domain.ErrConnectionLost) {
		t.Fatalf("expected ConnectionLost, got %v", conn.Err())
	}
	select {
	case rejection := <-failures:
		if rejection.Code != domain.CodeConnectionLost {
			t.Fatalf("expected ConnectionLost rejection, got %+v", rejection)
		}
	case <-time.After(time.Second):
		t.Fatal("no terminal error event dispatched")
	}

	// publishing on a dead channel is refused, not retried
	if err := conn.Publish(domain.EventAnswerSubmit, nil); !errors.Is(err, domain.ErrConnectionLost) {
		t.Fatalf("expected ConnectionLost from Publish, got %v", err)
	}
}

func TestResyncRoundTrip(t *testing.T) {
	handler, game := testHandler(t)
	server := startRestartable(t, handler)

	manager := NewManager(server.wsURL(), WithBackoff(fastBackoff()))
	conn, err := manager.Open(context.Background(), domain.ChannelPlayer, AuthContext{
		JoinCode:      game.JoinCode(),
		ParticipantID: "alice",
		DisplayName:   "Alice",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if err := game.StartSession("host"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := game.StartRound("host"); err != nil {
		t.Fatalf("start round: %v", err)
	}

	accepted := make(chan struct{}, 1)
	conn.Subscribe(domain.EventAnswerAccepted, func(domain.Event) {
		select {
		case accepted <- struct{}{}:
		default:
		}
	})
	if err := conn.Publish(domain.EventAnswerSubmit, domain.SubmitPayload{QuestionID: "q1", OptionID: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("answer never accepted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	snapshot, err := conn.Resync(ctx)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if len(snapshot.YourAnswers) != 1 || snapshot.YourAnswers[0].QuestionID != "q1" {
		t.Fatalf("expected alice's answer in snapshot, got %+v", snapshot.YourAnswers)
	}
	if got := conn.Snapshot(); len(got.YourAnswers) != 1 {
		t.Fatal("resync must replace the cached snapshot")
	}
}
