package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"beatquiz/cache"
	"beatquiz/logger"
	"beatquiz/model"

	"github.com/gorilla/websocket"
)

// MessageType identifies a WebSocket message.
type MessageType string

const (
	// System messages
	MsgTypeJoin  MessageType = "join"
	MsgTypeLeave MessageType = "leave"
	MsgTypeError MessageType = "error"
	MsgTypePing  MessageType = "ping"
	MsgTypePong  MessageType = "pong"

	// Lobby events
	MsgTypePlayerJoined MessageType = "player_joined"
	MsgTypePlayerLeft   MessageType = "player_left"
	MsgTypeLobbyClosed  MessageType = "lobby_closed"

	// Game events
	MsgTypeGuess              MessageType = "guess"
	MsgTypePlayerGuessed      MessageType = "player_guessed"
	MsgTypeGameStarted        MessageType = "game_started"
	MsgTypeRoundStarted       MessageType = "round_started"
	MsgTypeRoundEndedPersonal MessageType = "round_ended_personal"
	MsgTypeRoundTransition    MessageType = "round_transition"
	MsgTypeGameEnded          MessageType = "game_ended"
)

// WSMessage is the wire format of every WebSocket message.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	LobbyCode string          `json:"lobbyCode,omitempty"`
	UserID    int64           `json:"userId,omitempty"`
	Username  string          `json:"username,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// GuessData is a player's guess submission.
type GuessData struct {
	Guess string `json:"guess"`
}

// PlayerEventData announces a player joining, leaving or guessing.
type PlayerEventData struct {
	PlayerID int64  `json:"player_id"`
	Username string `json:"username,omitempty"`
}

// RoundStartedData opens a guessing window. Error is set when the round
// had to be skipped because no song could be fetched.
type RoundStartedData struct {
	Round    int         `json:"round"`
	Duration int         `json:"duration"`
	Song     *model.Song `json:"song,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// RoundEndedPersonalData is unicast to each player when a round closes.
type RoundEndedPersonalData struct {
	Round         int               `json:"round"`
	CorrectAnswer string            `json:"correct_answer"`
	GuessResult   model.GuessResult `json:"guess_result"`
}

// RoundTransitionData announces the pause before the next round.
// NextRound is nil after the final round.
type RoundTransitionData struct {
	NextRound *int `json:"next_round"`
	Duration  int  `json:"duration"`
}

// GameEndedData closes the game with the final standings.
type GameEndedData struct {
	Winner  *int64               `json:"winner"`
	Players []model.PlayerOnline `json:"players"`
}

// Client is one WebSocket connection in a lobby.
type Client struct {
	Hub       *LobbyHub
	Conn      *websocket.Conn
	Send      chan []byte
	LobbyCode string
	UserID    int64
	Username  string
}

// LobbyHub routes WebSocket traffic between lobby members.
type LobbyHub struct {
	// lobby code -> connected clients
	lobbies map[string]map[*Client]bool

	// one connection per (lobby, user); key: code:userID
	userClients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu   sync.RWMutex
	done chan struct{}
}

// BroadcastMessage targets every client of a lobby, optionally excluding
// one user.
type BroadcastMessage struct {
	LobbyCode string
	Message   []byte
	ExcludeID int64
}

// NewLobbyHub creates the hub.
func NewLobbyHub() *LobbyHub {
	return &LobbyHub{
		lobbies:     make(map[string]map[*Client]bool),
		userClients: make(map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *BroadcastMessage, 256),
		done:        make(chan struct{}),
	}
}

// Run drives the hub loop until Stop is called.
func (h *LobbyHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToLobby(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop shuts the hub down.
func (h *LobbyHub) Stop() {
	close(h.done)
}

func (h *LobbyHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	code := client.LobbyCode
	userKey := h.userKey(code, client.UserID)

	// A new connection supersedes any previous one for the same user.
	if oldClient, exists := h.userClients[userKey]; exists {
		h.removeClient(oldClient)
	}

	if h.lobbies[code] == nil {
		h.lobbies[code] = make(map[*Client]bool)
	}

	h.lobbies[code][client] = true
	h.userClients[userKey] = client

	ctx := context.Background()
	lobbyCache := cache.NewLobbyCache()
	if err := lobbyCache.UpdateUserPresence(ctx, code, client.UserID); err != nil {
		logger.Warn("failed to update presence on register",
			logger.ErrorField(err),
			logger.String("lobby", code),
			logger.Int64("user", client.UserID))
	}

	logger.Info("client registered",
		logger.String("lobby", code),
		logger.Int64("user", client.UserID),
		logger.String("username", client.Username))
}

func (h *LobbyHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeClient(client)
}

// removeClient drops a client. Caller must hold the lock.
func (h *LobbyHub) removeClient(client *Client) {
	code := client.LobbyCode
	userKey := h.userKey(code, client.UserID)

	if _, ok := h.lobbies[code]; ok {
		if _, ok := h.lobbies[code][client]; ok {
			delete(h.lobbies[code], client)
			close(client.Send)

			if len(h.lobbies[code]) == 0 {
				delete(h.lobbies, code)
			}
		}
	}

	// A stale unregister from a superseded socket must not wipe the
	// mapping or presence of the connection that replaced it.
	if h.userClients[userKey] != client {
		return
	}
	delete(h.userClients, userKey)

	ctx := context.Background()
	lobbyCache := cache.NewLobbyCache()
	if err := lobbyCache.RemoveUserPresence(ctx, code, client.UserID); err != nil {
		logger.Warn("failed to remove presence on unregister",
			logger.ErrorField(err),
			logger.String("lobby", code),
			logger.Int64("user", client.UserID))
	}

	logger.Info("client unregistered",
		logger.String("lobby", code),
		logger.Int64("user", client.UserID))
}

func (h *LobbyHub) broadcastToLobby(msg *BroadcastMessage) {
	h.mu.RLock()
	clients, ok := h.lobbies[msg.LobbyCode]
	if !ok {
		h.mu.RUnlock()
		return
	}

	// Copy the client list so the lock is not held while sending.
	clientList := make([]*Client, 0, len(clients))
	for client := range clients {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clientList {
		if msg.ExcludeID > 0 && client.UserID == msg.ExcludeID {
			continue
		}

		select {
		case client.Send <- msg.Message:
		default:
			slow = append(slow, client)
		}
	}

	// Evict slow consumers directly. Going through the unregister
	// channel here would block the hub loop on itself.
	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			h.removeClient(client)
		}
		h.mu.Unlock()
	}
}

func (h *LobbyHub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.lobbies {
		for client := range clients {
			close(client.Send)
		}
	}
	h.lobbies = make(map[string]map[*Client]bool)
	h.userClients = make(map[string]*Client)
}

func (h *LobbyHub) userKey(code string, userID int64) string {
	return fmt.Sprintf("%s:%d", code, userID)
}

// Register queues a client registration.
func (h *LobbyHub) Register(client *Client) {
	h.register <- client
}

// Unregister queues a client removal.
func (h *LobbyHub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends raw bytes to a lobby.
func (h *LobbyHub) Broadcast(code string, message []byte, excludeUserID int64) {
	h.broadcast <- &BroadcastMessage{
		LobbyCode: code,
		Message:   message,
		ExcludeID: excludeUserID,
	}
}

// BroadcastWSMessage marshals and broadcasts a WSMessage to a lobby.
func (h *LobbyHub) BroadcastWSMessage(code string, msg *WSMessage, excludeUserID int64) error {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.Broadcast(code, data, excludeUserID)
	return nil
}

// GetLobbyClients returns all clients connected to a lobby.
func (h *LobbyHub) GetLobbyClients(code string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.lobbies[code]
	result := make([]*Client, 0, len(clients))
	for client := range clients {
		result = append(result, client)
	}
	return result
}

// GetLobbyClientCount returns the number of connected clients.
func (h *LobbyHub) GetLobbyClientCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.lobbies[code])
}

// GetClient returns a user's client, or nil.
func (h *LobbyHub) GetClient(code string, userID int64) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.userClients[h.userKey(code, userID)]
}

// SendToUser unicasts a message to one lobby member.
func (h *LobbyHub) SendToUser(code string, userID int64, msg *WSMessage) error {
	h.mu.RLock()
	client := h.userClients[h.userKey(code, userID)]
	h.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("user not connected: %d", userID)
	}

	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full for user: %d", userID)
	}
}

// ========== Client methods ==========

// ReadPump reads messages from the socket until it closes.
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, client *Client, msg *WSMessage)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := c.Conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn("websocket read error",
						logger.ErrorField(err),
						logger.String("lobby", c.LobbyCode),
						logger.Int64("user", c.UserID))
				}
				return
			}

			var msg WSMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				logger.Warn("invalid message format",
					logger.ErrorField(err),
					logger.String("lobby", c.LobbyCode))
				continue
			}

			if msg.Type == MsgTypePing {
				lobbyCache := cache.NewLobbyCache()
				if err := lobbyCache.UpdateUserPresence(ctx, c.LobbyCode, c.UserID); err != nil {
					logger.Warn("failed to update presence",
						logger.ErrorField(err),
						logger.String("lobby", c.LobbyCode),
						logger.Int64("user", c.UserID))
				}

				pong := &WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}
				if data, err := json.Marshal(pong); err == nil {
					select {
					case c.Send <- data:
					default:
					}
				}
				continue
			}

			handler(ctx, c, &msg)
		}
	}
}

// WritePump writes queued messages and keeps the connection alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush the rest of the queue into the same frame.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues a message for this client. Messages are dropped
// when the buffer is full.
func (c *Client) SendMessage(msg *WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	default:
		return nil
	}
}
