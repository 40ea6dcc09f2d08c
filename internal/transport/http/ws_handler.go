package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// WSHandler upgrades HTTP requests into channel connections and wires them
// to the game use cases. Each websocket carries exactly one logical channel
// (session, player, host or observer); a client process opens several.
type WSHandler struct {
	service  *app.GameService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServeWS handles GET /ws/{channel}. Handshake parameters: sessionId or
// code (join code, resolved server-side), participantId (required except on
// the observer channel) and name.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	switch channel {
	case domain.ChannelSession, domain.ChannelPlayer, domain.ChannelHost, domain.ChannelObserver:
	default:
		writeRejection(w, http.StatusNotFound, domain.ErrNotFound)
		return
	}

	participantID := r.URL.Query().Get("participantId")
	displayName := r.URL.Query().Get("name")
	if participantID == "" && channel != domain.ChannelObserver {
		writeRejection(w, http.StatusUnauthorized, domain.ErrAuthenticationRequired)
		return
	}

	game, err := h.resolveGame(r)
	if err != nil {
		writeRejection(w, http.StatusNotFound, domain.ErrNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	var snapshot domain.SessionSnapshot
	if channel == domain.ChannelObserver {
		snapshot = game.Snapshot("")
	} else {
		role := domain.RolePlayer
		if channel == domain.ChannelHost {
			role = domain.RoleHost
		}
		snapshot, err = game.Join(participantID, displayName, role)
		if err != nil {
			_ = conn.WriteJSON(domain.Event{Type: domain.EventError, Payload: rejectionFor(err)})
			return
		}
	}

	updates, cancel := game.Subscribe(participantID)
	defer cancel()
	if channel != domain.ChannelObserver {
		defer game.MarkDisconnected(participantID)
	}

	send := make(chan domain.Event, 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		pings := time.NewTicker(pingPeriod)
		defer pings.Stop()
		for {
			select {
			case event, ok := <-send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(event); err != nil {
					log.Debug().Err(err).Str("channel", channel).Msg("ws write error")
					return
				}
			case <-pings.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- update:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- domain.Event{Type: domain.EventSessionState, Payload: snapshot}

	// Absent heartbeats beyond pongWait are a transport loss even if the
	// socket has not errored yet.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundEvent
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if h.handleInbound(game, channel, participantID, inbound, send) {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// handleInbound dispatches one client event. The returned flag requests
// connection teardown.
func (h *WSHandler) handleInbound(game *app.Game, channel, participantID string, inbound inboundEvent, send chan<- domain.Event) bool {
	switch inbound.Type {
	case domain.EventAnswerSubmit:
		if channel == domain.ChannelObserver {
			send <- domain.Event{Type: domain.EventError, Payload: rejectionFor(domain.ErrAuthenticationRequired)}
			return false
		}
		var payload domain.SubmitPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			send <- domain.Event{Type: domain.EventError, Payload: &domain.Rejection{Code: domain.CodeInvalidTransition, Message: "invalid answer payload"}}
			return false
		}
		if _, err := game.Submit(participantID, payload); err != nil {
			send <- domain.Event{Type: domain.EventAnswerRejected, Payload: rejectionFor(err)}
		}
		// acceptance is broadcast to the submitter's channels by the writer

	case domain.EventResyncRequest:
		if participantID == "" {
			send <- domain.Event{Type: domain.EventResyncSnapshot, Payload: game.Snapshot("")}
			return false
		}
		snapshot, err := game.Resync(participantID)
		if err != nil {
			send <- domain.Event{Type: domain.EventError, Payload: rejectionFor(err)}
			return false
		}
		send <- domain.Event{Type: domain.EventResyncSnapshot, Payload: snapshot}

	case domain.EventLeave:
		if channel != domain.ChannelObserver {
			game.Leave(participantID)
		}
		return true

	case domain.EventKick:
		var payload domain.KickPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			send <- domain.Event{Type: domain.EventError, Payload: &domain.Rejection{Code: domain.CodeInvalidTransition, Message: "invalid kick payload"}}
			return false
		}
		if err := game.Kick(participantID, payload.ParticipantID); err != nil {
			send <- domain.Event{Type: domain.EventError, Payload: rejectionFor(err)}
		}

	case domain.EventSessionStart, domain.EventSessionPause, domain.EventSessionResume, domain.EventSessionEnd,
		domain.EventRoundStart, domain.EventRoundPause, domain.EventRoundResume,
		domain.EventRoundAdvance, domain.EventRoundReveal, domain.EventRoundEnd:
		if err := h.hostCommand(game, participantID, inbound.Type); err != nil {
			send <- domain.Event{Type: domain.EventError, Payload: rejectionFor(err)}
		}

	default:
		send <- domain.Event{Type: domain.EventError, Payload: &domain.Rejection{Code: domain.CodeInvalidTransition, Message: "unsupported event type " + inbound.Type}}
	}
	return false
}

func (h *WSHandler) hostCommand(game *app.Game, actorID, eventType string) error {
	switch eventType {
	case domain.EventSessionStart:
		return game.StartSession(actorID)
	case domain.EventSessionPause:
		return game.PauseSession(actorID)
	case domain.EventSessionResume:
		return game.ResumeSession(actorID)
	case domain.EventSessionEnd:
		return game.EndSession(actorID)
	case domain.EventRoundStart:
		return game.StartRound(actorID)
	case domain.EventRoundPause:
		return game.PauseRound(actorID)
	case domain.EventRoundResume:
		return game.ResumeRound(actorID)
	case domain.EventRoundAdvance:
		return game.AdvanceQuestion(actorID)
	case domain.EventRoundReveal:
		return game.Reveal(actorID)
	case domain.EventRoundEnd:
		return game.EndRound(actorID)
	}
	return domain.ErrNotFound
}

func (h *WSHandler) resolveGame(r *http.Request) (*app.Game, error) {
	if code := r.URL.Query().Get("code"); code != "" {
		return h.service.Resolve(code)
	}
	if id := r.URL.Query().Get("sessionId"); id != "" {
		return h.service.Get(id)
	}
	return nil, domain.ErrNotFound
}

func rejectionFor(err error) *domain.Rejection {
	if rejection, ok := domain.RejectionOf(err); ok {
		return rejection
	}
	return &domain.Rejection{Code: domain.CodeNotFound, Message: err.Error()}
}

func writeRejection(w http.ResponseWriter, status int, err error) {
	var rejection *domain.Rejection
	if !errors.As(err, &rejection) {
		rejection = &domain.Rejection{Code: domain.CodeNotFound, Message: err.Error()}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejection)
}
