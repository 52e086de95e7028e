package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"beatquiz/core/auth"
	"beatquiz/core/game"
	"beatquiz/logger"
	"beatquiz/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// LobbyHandler serves the lobby lifecycle endpoints and the lobby
// WebSocket.
type LobbyHandler struct {
	manager  *game.Manager
	tokens   *auth.TokenIssuer
	upgrader websocket.Upgrader
}

// NewLobbyHandler creates the lobby handler.
func NewLobbyHandler(manager *game.Manager, tokens *auth.TokenIssuer) *LobbyHandler {
	return &LobbyHandler{
		manager: manager,
		tokens:  tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// CreateLobbyResponse is the create-lobby response body.
type CreateLobbyResponse struct {
	Lobby *model.Lobby `json:"lobby"`
}

// JoinLobbyResponse is the join-lobby response body.
type JoinLobbyResponse struct {
	Lobby  *model.Lobby `json:"lobby"`
	IsHost bool         `json:"isHost"`
}

// CreateLobbyHandler creates a lobby with the caller as host.
func (h *LobbyHandler) CreateLobbyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	username, _ := GetUsernameFromContext(ctx)

	lobby, err := h.manager.CreateLobby(ctx, userID, username)
	if err != nil {
		logger.Error("failed to create lobby", logger.ErrorField(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, &CreateLobbyResponse{Lobby: lobby})
}

// JoinLobbyHandler adds the caller to the lobby in the URL.
func (h *LobbyHandler) JoinLobbyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := mux.Vars(r)["code"]

	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	username, _ := GetUsernameFromContext(ctx)

	lobby, isHost, err := h.manager.JoinLobby(ctx, code, userID, username)
	if err != nil {
		switch {
		case errors.Is(err, game.ErrLobbyNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, game.ErrLobbyFull):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			logger.Error("failed to join lobby", logger.ErrorField(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, &JoinLobbyResponse{Lobby: lobby, IsHost: isHost})
}

// LeaveLobbyHandler removes the caller from the lobby.
func (h *LobbyHandler) LeaveLobbyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := mux.Vars(r)["code"]

	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.manager.LeaveLobby(ctx, code, userID); err != nil {
		switch {
		case errors.Is(err, game.ErrLobbyNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, game.ErrNotInLobby):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			logger.Error("failed to leave lobby", logger.ErrorField(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"left": true})
}

// StartGameHandler starts the game. Host only.
func (h *LobbyHandler) StartGameHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := mux.Vars(r)["code"]

	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.manager.StartGame(ctx, code, userID); err != nil {
		switch {
		case errors.Is(err, game.ErrLobbyNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, game.ErrNotHost):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, game.ErrGameRunning):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			logger.Error("failed to start game", logger.ErrorField(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"started": true})
}

// DisbandLobbyHandler closes the lobby for everyone. Host only.
func (h *LobbyHandler) DisbandLobbyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := mux.Vars(r)["code"]

	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.manager.DisbandLobby(ctx, code, userID); err != nil {
		switch {
		case errors.Is(err, game.ErrLobbyNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, game.ErrNotHost):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			logger.Error("failed to disband lobby", logger.ErrorField(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"disbanded": true})
}

// GetLobbyHandler returns the lobby and its live players. The song of a
// round in progress stays hidden.
func (h *LobbyHandler) GetLobbyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := mux.Vars(r)["code"]

	info, err := h.manager.GetLobbyInfo(ctx, code)
	if err != nil {
		if errors.Is(err, game.ErrLobbyNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.Error("failed to get lobby", logger.ErrorField(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// SubmitGuessHandler records a guess over HTTP for clients without a
// live socket.
func (h *LobbyHandler) SubmitGuessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := mux.Vars(r)["code"]

	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req game.GuessData
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.manager.SubmitGuess(ctx, code, userID, req.Guess); err != nil {
		switch {
		case errors.Is(err, game.ErrLobbyNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, game.ErrGameNotRunning):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, game.ErrAlreadyGuessed):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			logger.Error("failed to submit guess", logger.ErrorField(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"submitted": true})
}

// WebSocketHandler upgrades the connection and attaches the client to
// the lobby hub. The token travels as a query parameter because
// browsers cannot set headers on WebSocket upgrades.
func (h *LobbyHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if code == "" {
		http.Error(w, "Lobby code is required", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.ParseToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	info, err := h.manager.GetLobbyInfo(ctx, code)
	if err != nil || info == nil {
		http.Error(w, "Lobby not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := &game.Client{
		Hub:       h.manager.GetHub(),
		Conn:      conn,
		Send:      make(chan []byte, 256),
		LobbyCode: code,
		UserID:    claims.UserID,
		Username:  claims.Username,
	}

	h.manager.GetHub().Register(client)

	go client.WritePump()
	go client.ReadPump(context.Background(), h.manager.HandleMessage)

	logger.Info("websocket connected",
		logger.String("lobby", code),
		logger.Int64("userId", claims.UserID),
		logger.String("username", claims.Username))
}

// RegisterLobbyRoutes wires the lobby endpoints onto the router.
func RegisterLobbyRoutes(router *mux.Router, handler *LobbyHandler, authMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	router.HandleFunc("/api/lobby", authMiddleware(handler.CreateLobbyHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/lobby/{code}", handler.GetLobbyHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/lobby/{code}/join", authMiddleware(handler.JoinLobbyHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/lobby/{code}/leave", authMiddleware(handler.LeaveLobbyHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/lobby/{code}/start", authMiddleware(handler.StartGameHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/lobby/{code}/disband", authMiddleware(handler.DisbandLobbyHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/lobby/{code}/guess", authMiddleware(handler.SubmitGuessHandler)).Methods(http.MethodPost)

	router.HandleFunc("/ws/lobby/{code}", handler.WebSocketHandler)
}
