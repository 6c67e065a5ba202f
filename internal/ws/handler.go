package ws

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"oscehub/internal/config"
	"oscehub/internal/mediator"
	"oscehub/pkg/protocol"
	"oscehub/pkg/types"
)

// Handler upgrades HTTP requests to WebSocket connections and bridges them
// to the mediator: join on upgrade, decode-and-dispatch while the socket
// lives, disconnect (grace window) when it drops.
type Handler struct {
	mediator *mediator.Mediator
	registry *Registry
	config   *config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket handler bound to a mediator and registry.
func NewHandler(med *mediator.Mediator, registry *Registry, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		mediator: med,
		registry: registry,
		config:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Rehearsal clients are served from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles a connection request on /ws. Identity travels in query
// parameters: session_id, user_id, role, plus optional station_id and
// display_name for implicit session creation.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sessionID := query.Get("session_id")
	userID := query.Get("user_id")
	role := query.Get("role")
	stationID := query.Get("station_id")
	displayName := query.Get("display_name")

	if sessionID == "" {
		http.Error(w, "session_id parameter required", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "invalid user_id parameter", http.StatusBadRequest)
		return
	}
	if !types.IsValidRole(role) {
		http.Error(w, "invalid role parameter", http.StatusBadRequest)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(wsConn, h.config.BufferSize, h.config.WriteTimeout)
	conn.Bind(sessionID, userID, role, displayName)

	if err := h.registry.Register(conn); err != nil {
		log.Printf("Connection registration failed: %v user_id=%s", err, userID)
		conn.Close()
		return
	}

	joinReq := mediator.JoinRequest{
		SessionID:   sessionID,
		UserID:      userID,
		Role:        role,
		StationID:   stationID,
		DisplayName: displayName,
	}
	if err := h.mediator.Join(r.Context(), joinReq, conn); err != nil {
		log.Printf("Join rejected: %v user_id=%s session_id=%s", err, userID, sessionID)
		h.sendError(conn, err)
		h.registry.Unregister(conn)
		conn.Close()
		return
	}

	log.Printf("Participant connected user_id=%s role=%s session_id=%s", userID, role, sessionID)
	h.readLoop(conn, wsConn)
}

// readLoop consumes client messages until the socket drops, then hands the
// participant to the mediator's disconnect path (reconnection grace window).
func (h *Handler) readLoop(conn *Connection, wsConn *websocket.Conn) {
	defer func() {
		h.registry.Unregister(conn)
		h.mediator.Disconnect(conn.SessionID(), conn.UserID(), conn)
		conn.Close()
		log.Printf("Participant disconnected user_id=%s session_id=%s", conn.UserID(), conn.SessionID())
	}()

	wsConn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go h.pingLoop(wsConn, pingDone)

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v user_id=%s", err, conn.UserID())
			}
			return
		}
		if err := h.dispatch(conn, data); err != nil {
			h.sendError(conn, err)
		}
	}
}

func (h *Handler) pingLoop(wsConn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := wsConn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// dispatch decodes one client message and applies it through the mediator.
// Errors flow back to the sender only; other participants never observe a
// peer's rejected command.
func (h *Handler) dispatch(conn *Connection, data []byte) error {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		return err
	}

	sessionID := conn.SessionID()
	userID := conn.UserID()

	switch payload := msg.(type) {
	case protocol.SetReady:
		return h.mediator.SetReady(sessionID, userID)
	case protocol.ReleaseMaterial:
		return h.mediator.ReleaseMaterial(sessionID, userID, payload.ItemID)
	case protocol.ReleaseChecklist:
		return h.mediator.ReleaseChecklist(sessionID, userID)
	case protocol.UpdateScores:
		return h.mediator.UpdateScores(sessionID, userID, payload.Scores)
	case protocol.SubmitEvaluation:
		return h.mediator.SubmitEvaluation(sessionID, userID, payload.Scores)
	case protocol.StopTimer:
		return h.mediator.StopTimer(sessionID, userID, payload.Reason)
	case protocol.PauseTimer:
		return h.mediator.PauseTimer(sessionID, userID)
	case protocol.ResumeTimer:
		return h.mediator.ResumeTimer(sessionID, userID)
	case protocol.Resync:
		return h.mediator.Resync(sessionID, userID)
	default:
		return protocol.ErrUnknownMessageType
	}
}

// sendError reports a rejected command to the offending client as a typed
// server_error message. Send failures are logged and swallowed; the read
// loop notices dead sockets on its own.
func (h *Handler) sendError(conn *Connection, err error) {
	env := protocol.MustEncode(protocol.TypeServerError, protocol.ServerError{
		Code:    errorCode(err),
		Message: err.Error(),
	})
	if writeErr := conn.WriteJSON(env); writeErr != nil && !errors.Is(writeErr, ErrConnectionClosed) {
		log.Printf("Failed to send error to client: %v user_id=%s", writeErr, conn.UserID())
	}
}

// errorCode maps sentinel errors onto stable protocol codes clients can
// branch on without parsing messages.
func errorCode(err error) string {
	switch {
	case errors.Is(err, protocol.ErrInvalidEnvelope), errors.Is(err, protocol.ErrUnknownMessageType):
		return "bad_message"
	case errors.Is(err, mediator.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, mediator.ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, mediator.ErrUnauthorizedRole):
		return "unauthorized_role"
	case errors.Is(err, mediator.ErrTimerExists):
		return "timer_exists"
	case errors.Is(err, mediator.ErrTimerNotStarted),
		errors.Is(err, mediator.ErrTimerNotRunning),
		errors.Is(err, mediator.ErrTimerNotPaused):
		return "timer_state"
	case errors.Is(err, mediator.ErrChecklistNotReleasable):
		return "checklist_not_releasable"
	case errors.Is(err, mediator.ErrSubmissionNotOpen):
		return "submission_not_open"
	case errors.Is(err, mediator.ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, mediator.ErrUnknownMaterial):
		return "unknown_material"
	case errors.Is(err, mediator.ErrEmptySubmission):
		return "empty_submission"
	case errors.Is(err, types.ErrInvalidScore):
		return "invalid_score"
	default:
		return "internal_error"
	}
}
