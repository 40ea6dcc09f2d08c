package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.GameService, *app.Game) {
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
			Settings:      domain.RoundSettings{PointsPerQuestion: 3},
		}},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	server := httptest.NewServer(NewRouter(NewWSHandler(service)))
	t.Cleanup(server.Close)
	return server, service, game
}

func dialChannel(t *testing.T, server *httptest.Server, channel, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + channel + "?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", channel, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEvent struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil consumes events until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) wireEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var event wireEvent
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}
		if event.Type == eventType {
			return event
		}
	}
	t.Fatalf("no %s before deadline", eventType)
	return wireEvent{}
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": eventType, "payload": payload}); err != nil {
		t.Fatalf("send %s: %v", eventType, err)
	}
}

func TestWebSocketAnswerFlow(t *testing.T) {
	server, _, game := newTestServer(t)
	code := game.JoinCode()

	host := dialChannel(t, server, "host", "code="+code+"&participantId=host&name=Host")
	readUntil(t, host, domain.EventSessionState)

	player := dialChannel(t, server, "player", "code="+code+"&participantId=alice&name=Alice")
	readUntil(t, player, domain.EventSessionState)

	send(t, host, domain.EventSessionStart, nil)
	send(t, host, domain.EventRoundStart, nil)

	started := readUntil(t, player, domain.EventQuestionStarted)
	var view domain.QuestionView
	if err := json.Unmarshal(started.Payload, &view); err != nil {
		t.Fatalf("decode question: %v", err)
	}
	if view.ID != "q1" {
		t.Fatalf("expected q1, got %+v", view)
	}
	for _, opt := range view.Options {
		if opt.Correct {
			t.Fatal("correct flag leaked over the wire")
		}
	}

	send(t, player, domain.EventAnswerSubmit, domain.SubmitPayload{QuestionID: "q1", OptionID: "a", ReportedMs: 1200})
	accepted := readUntil(t, player, domain.EventAnswerAccepted)
	var answer domain.Answer
	if err := json.Unmarshal(accepted.Payload, &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.Seq == 0 || answer.QuestionID != "q1" {
		t.Fatalf("unexpected acceptance %+v", answer)
	}

	// duplicate submission comes back as a typed rejection, not a disconnect
	send(t, player, domain.EventAnswerSubmit, domain.SubmitPayload{QuestionID: "q1", OptionID: "b"})
	rejected := readUntil(t, player, domain.EventAnswerRejected)
	var rejection domain.Rejection
	if err := json.Unmarshal(rejected.Payload, &rejection); err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if rejection.Code != domain.CodeDuplicateAnswer {
		t.Fatalf("expected DuplicateAnswer, got %+v", rejection)
	}

	send(t, host, domain.EventRoundReveal, nil)
	revealed := readUntil(t, player, domain.EventQuestionRevealed)
	var reveal domain.RevealPayload
	if err := json.Unmarshal(revealed.Payload, &reveal); err != nil {
		t.Fatalf("decode reveal: %v", err)
	}
	if reveal.CorrectOptionID != "a" || len(reveal.Answers) != 1 {
		t.Fatalf("unexpected reveal %+v", reveal)
	}
	if reveal.Answers[0].Points != 3 || !reveal.Answers[0].Correct {
		t.Fatalf("expected 3 points for alice, got %+v", reveal.Answers[0])
	}
}

func TestHandshakeRequiresParticipant(t *testing.T) {
	server, _, game := newTestServer(t)

	resp, err := http.Get(server.URL + "/ws/player?code=" + game.JoinCode())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var rejection domain.Rejection
	if err := json.NewDecoder(resp.Body).Decode(&rejection); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if rejection.Code != domain.CodeAuthenticationRequired {
		t.Fatalf("expected AuthenticationRequired, got %+v", rejection)
	}
}

func TestHandshakeRejectsUnknowns(t *testing.T) {
	server, _, game := newTestServer(t)

	resp, err := http.Get(server.URL + "/ws/backchannel?code=" + game.JoinCode() + "&participantId=x")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown channel: expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/ws/player?code=ZZZZZZ&participantId=x")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown code: expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/ws/player?participantId=x")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("no session reference: expected 404, got %d", resp.StatusCode)
	}
}

func TestObserverChannel(t *testing.T) {
	server, _, game := newTestServer(t)
	code := game.JoinCode()

	// observers need no participant identity
	observer := dialChannel(t, server, "observer", "code="+code)
	readUntil(t, observer, domain.EventSessionState)

	// but they cannot submit answers
	send(t, observer, domain.EventAnswerSubmit, domain.SubmitPayload{QuestionID: "q1", OptionID: "a"})
	errEvent := readUntil(t, observer, domain.EventError)
	var rejection domain.Rejection
	if err := json.Unmarshal(errEvent.Payload, &rejection); err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if rejection.Code != domain.CodeAuthenticationRequired {
		t.Fatalf("expected AuthenticationRequired, got %+v", rejection)
	}

	// joining a player is visible to the observer as a roster change
	player := dialChannel(t, server, "player", "code="+code+"&participantId=alice&name=Alice")
	readUntil(t, player, domain.EventSessionState)
	readUntil(t, observer, domain.EventRosterChanged)
}

func TestPlayerCannotDriveSession(t *testing.T) {
	server, _, game := newTestServer(t)
	player := dialChannel(t, server, "player", "code="+game.JoinCode()+"&participantId=alice&name=Alice")
	readUntil(t, player, domain.EventSessionState)

	send(t, player, domain.EventSessionStart, nil)
	errEvent := readUntil(t, player, domain.EventError)
	var rejection domain.Rejection
	if err := json.Unmarshal(errEvent.Payload, &rejection); err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if rejection.Code != domain.CodeForbidden {
		t.Fatalf("expected Forbidden, got %+v", rejection)
	}
}

func TestResyncRestoresAnswersAfterReconnect(t *testing.T) {
	server, _, game := newTestServer(t)
	code := game.JoinCode()

	host := dialChannel(t, server, "host", "code="+code+"&participantId=host&name=Host")
	readUntil(t, host, domain.EventSessionState)
	player := dialChannel(t, server, "player", "code="+code+"&participantId=alice&name=Alice")
	readUntil(t, player, domain.EventSessionState)

	send(t, host, domain.EventSessionStart, nil)
	send(t, host, domain.EventRoundStart, nil)
	readUntil(t, player, domain.EventQuestionStarted)
	send(t, player, domain.EventAnswerSubmit, domain.SubmitPayload{QuestionID: "q1", OptionID: "a"})
	readUntil(t, player, domain.EventAnswerAccepted)

	// drop the transport and come back with the same participant id
	player.Close()
	reconnected := dialChannel(t, server, "player", "code="+code+"&participantId=alice&name=Alice")
	readUntil(t, reconnected, domain.EventSessionState)

	send(t, reconnected, domain.EventResyncRequest, nil)
	snapEvent := readUntil(t, reconnected, domain.EventResyncSnapshot)
	var snapshot domain.SessionSnapshot
	if err := json.Unmarshal(snapEvent.Payload, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.YourAnswers) != 1 || snapshot.YourAnswers[0].QuestionID != "q1" {
		t.Fatalf("expected alice's answer in resync snapshot, got %+v", snapshot.YourAnswers)
	}

	// the slot is still occupied, resync did not clear it
	send(t, reconnected, domain.EventAnswerSubmit, domain.SubmitPayload{QuestionID: "q1", OptionID: "b"})
	rejected := readUntil(t, reconnected, domain.EventAnswerRejected)
	var rejection domain.Rejection
	if err := json.Unmarshal(rejected.Payload, &rejection); err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if rejection.Code != domain.CodeDuplicateAnswer {
		t.Fatalf("expected DuplicateAnswer after resync, got %+v", rejection)
	}
}

func TestLeaveTearsDownConnection(t *testing.T) {
	server, _, game := newTestServer(t)
	player := dialChannel(t, server, "player", "code="+game.JoinCode()+"&participantId=alice&name=Alice")
	readUntil(t, player, domain.EventSessionState)

	send(t, player, domain.EventLeave, nil)

	_ = player.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var event wireEvent
		if err := player.ReadJSON(&event); err != nil {
			break // server closed the connection
		}
	}

	for _, p := range game.Snapshot("").Roster {
		if p.ID == "alice" && p.Active {
			t.Fatal("leave must deactivate the participant")
		}
	}
}
