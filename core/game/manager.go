package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"beatquiz/logger"
	"beatquiz/model"
	"beatquiz/repository"
)

// Lobby operation errors mapped to HTTP statuses by the handlers.
var (
	ErrLobbyNotFound  = errors.New("invalid lobby code")
	ErrLobbyFull      = errors.New("lobby is full")
	ErrNotHost        = errors.New("only host can start the game")
	ErrNotInLobby     = errors.New("not in a lobby")
	ErrAlreadyGuessed = errors.New("you have already made a guess this round")
	ErrGameNotRunning = errors.New("game is not running")
	ErrGameRunning    = errors.New("game already running")
)

// SongSource supplies a random track for a round.
type SongSource interface {
	RandomChartTrack(ctx context.Context) (*model.Song, error)
}

// LobbyState is the live lobby state the manager needs. Implemented by
// cache.LobbyCache.
type LobbyState interface {
	SetPlayer(ctx context.Context, code string, player *model.PlayerOnline) error
	RemovePlayer(ctx context.Context, code string, userID int64) error
	GetPlayer(ctx context.Context, code string, userID int64) (*model.PlayerOnline, error)
	GetPlayers(ctx context.Context, code string) ([]model.PlayerOnline, error)
	CountPlayers(ctx context.Context, code string) (int64, error)
	AddScore(ctx context.Context, code string, userID int64, points int) (int, error)
	SetHost(ctx context.Context, code string, userID int64, isHost bool) error
	ResetGuesses(ctx context.Context, code string, userIDs []int64) error
	SetGuess(ctx context.Context, code string, userID int64, guess string) error
	GetGuess(ctx context.Context, code string, userID int64) (*model.Guess, error)
	GetGuesses(ctx context.Context, code string) (map[int64]model.Guess, error)
	SetRoundState(ctx context.Context, code string, state *model.RoundState) error
	ClearRoundState(ctx context.Context, code string) error
	RemoveUserPresence(ctx context.Context, code string, userID int64) error
	IncrSoloScore(ctx context.Context, userID int64) (int64, error)
	GetSoloScore(ctx context.Context, userID int64) (int64, error)
	ResetSoloScore(ctx context.Context, userID int64) error
	ClearLobby(ctx context.Context, code string) error
}

// Options tune the game pacing.
type Options struct {
	MaxRounds        int
	MaxPlayers       int
	GuessDuration    time.Duration
	TransitionPause  time.Duration
	FetchRetries     int
	FetchRetryPause  time.Duration
	SimilarityCutoff float64
}

// DefaultOptions returns the stock pacing: 10 rounds, 8 players, 30 s
// guess window, 5 s transitions.
func DefaultOptions() Options {
	return Options{
		MaxRounds:        10,
		MaxPlayers:       8,
		GuessDuration:    30 * time.Second,
		TransitionPause:  5 * time.Second,
		FetchRetries:     3,
		FetchRetryPause:  time.Second,
		SimilarityCutoff: 0.7,
	}
}

// Manager glues the lobby repository, the live cache, the hub and the
// song source into the game operations.
type Manager struct {
	repo  repository.LobbyRepository
	cache LobbyState
	hub   *LobbyHub
	songs SongSource
	opts  Options

	// running engines by lobby code
	mu      sync.Mutex
	engines map[string]context.CancelFunc
}

// NewManager creates a game manager.
func NewManager(repo repository.LobbyRepository, lobbyCache LobbyState, hub *LobbyHub, songs SongSource, opts Options) *Manager {
	if opts.MaxRounds <= 0 {
		opts = DefaultOptions()
	}
	return &Manager{
		repo:    repo,
		cache:   lobbyCache,
		hub:     hub,
		songs:   songs,
		opts:    opts,
		engines: make(map[string]context.CancelFunc),
	}
}

// GetHub returns the hub instance.
func (m *Manager) GetHub() *LobbyHub {
	return m.hub
}

// ========== Lobby lifecycle ==========

// CreateLobby creates a lobby and seats the creator as host.
func (m *Manager) CreateLobby(ctx context.Context, userID int64, username string) (*model.Lobby, error) {
	code, err := m.generateUniqueCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate lobby code: %w", err)
	}

	lobby := &model.Lobby{
		Code:       code,
		HostID:     userID,
		Status:     model.LobbyStatusWaiting,
		Round:      0,
		MaxRounds:  m.opts.MaxRounds,
		MaxPlayers: m.opts.MaxPlayers,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := m.repo.Create(ctx, lobby); err != nil {
		return nil, fmt.Errorf("failed to create lobby: %w", err)
	}

	player := &model.LobbyPlayer{
		LobbyCode: code,
		UserID:    userID,
		Username:  username,
		IsHost:    true,
		JoinedAt:  time.Now(),
	}
	if err := m.repo.AddPlayer(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to seat host: %w", err)
	}

	online := &model.PlayerOnline{
		UserID:   userID,
		Username: username,
		IsHost:   true,
		JoinedAt: time.Now().UnixMilli(),
	}
	if err := m.cache.SetPlayer(ctx, code, online); err != nil {
		logger.Warn("failed to cache host", logger.ErrorField(err))
	}

	logger.Info("lobby created",
		logger.String("lobby", code),
		logger.Int64("host", userID))
	return lobby, nil
}

// generateUniqueCode picks an unused 6-digit numeric code.
func (m *Manager) generateUniqueCode(ctx context.Context) (string, error) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < 100; i++ {
		code := fmt.Sprintf("%06d", r.Intn(900000)+100000)

		exists, err := m.repo.ExistsByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}

	return "", fmt.Errorf("could not find a free lobby code")
}

// JoinLobby adds a player to a lobby. Joining a lobby the player is
// already in is a no-op that reports the current host flag.
func (m *Manager) JoinLobby(ctx context.Context, code string, userID int64, username string) (*model.Lobby, bool, error) {
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up lobby: %w", err)
	}
	if lobby == nil {
		return nil, false, ErrLobbyNotFound
	}

	if existing, err := m.cache.GetPlayer(ctx, code, userID); err == nil && existing != nil {
		return lobby, existing.IsHost, nil
	}

	count, err := m.cache.CountPlayers(ctx, code)
	if err != nil {
		logger.Warn("failed to count cached players", logger.ErrorField(err))
		count, _ = m.repo.CountActivePlayers(ctx, code)
	}
	if count >= int64(lobby.MaxPlayers) {
		return nil, false, ErrLobbyFull
	}

	player := &model.LobbyPlayer{
		LobbyCode: code,
		UserID:    userID,
		Username:  username,
		IsHost:    false,
		JoinedAt:  time.Now(),
	}
	if err := m.repo.AddPlayer(ctx, player); err != nil {
		return nil, false, fmt.Errorf("failed to join lobby: %w", err)
	}

	online := &model.PlayerOnline{
		UserID:   userID,
		Username: username,
		JoinedAt: time.Now().UnixMilli(),
	}
	if err := m.cache.SetPlayer(ctx, code, online); err != nil {
		logger.Warn("failed to cache player", logger.ErrorField(err))
	}

	m.broadcastPlayerEvent(code, MsgTypePlayerJoined, userID, username)

	logger.Info("player joined lobby",
		logger.String("lobby", code),
		logger.Int64("user", userID),
		logger.String("username", username))
	return lobby, false, nil
}

// LeaveLobby removes a player. An emptied lobby is deleted; a departing
// host hands the lobby to the earliest remaining joiner.
func (m *Manager) LeaveLobby(ctx context.Context, code string, userID int64) error {
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to look up lobby: %w", err)
	}
	if lobby == nil {
		return ErrLobbyNotFound
	}

	player, err := m.cache.GetPlayer(ctx, code, userID)
	if err != nil {
		return fmt.Errorf("failed to look up player: %w", err)
	}
	if player == nil {
		return ErrNotInLobby
	}
	wasHost := player.IsHost

	if err := m.cache.RemovePlayer(ctx, code, userID); err != nil {
		logger.Warn("failed to remove cached player", logger.ErrorField(err))
	}
	if err := m.cache.RemoveUserPresence(ctx, code, userID); err != nil {
		logger.Warn("failed to remove presence", logger.ErrorField(err))
	}
	if err := m.repo.RemovePlayer(ctx, code, userID); err != nil {
		logger.Warn("failed to mark player departed", logger.ErrorField(err))
	}

	remaining, err := m.cache.GetPlayers(ctx, code)
	if err != nil {
		logger.Warn("failed to list remaining players", logger.ErrorField(err))
		remaining = nil
	}

	if len(remaining) == 0 {
		m.stopEngine(code)
		if err := m.cache.ClearLobby(ctx, code); err != nil {
			logger.Warn("failed to clear lobby cache", logger.ErrorField(err))
		}
		if err := m.repo.Delete(ctx, code); err != nil {
			logger.Warn("failed to delete empty lobby", logger.ErrorField(err))
		}
		logger.Info("empty lobby deleted", logger.String("lobby", code))
		return nil
	}

	if wasHost {
		next := remaining[0]
		if err := m.cache.SetHost(ctx, code, next.UserID, true); err != nil {
			logger.Warn("failed to promote host in cache", logger.ErrorField(err))
		}
		if err := m.repo.SetPlayerHost(ctx, code, next.UserID, true); err != nil {
			logger.Warn("failed to promote host", logger.ErrorField(err))
		}
		if err := m.repo.SetHost(ctx, code, next.UserID); err != nil {
			logger.Warn("failed to update lobby host", logger.ErrorField(err))
		}
		logger.Info("host promoted",
			logger.String("lobby", code),
			logger.Int64("newHost", next.UserID))
	}

	m.broadcastPlayerEvent(code, MsgTypePlayerLeft, userID, "")

	logger.Info("player left lobby",
		logger.String("lobby", code),
		logger.Int64("user", userID),
		logger.Bool("wasHost", wasHost))
	return nil
}

// DisbandLobby closes a lobby for everyone. Host only.
func (m *Manager) DisbandLobby(ctx context.Context, code string, userID int64) error {
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to look up lobby: %w", err)
	}
	if lobby == nil {
		return ErrLobbyNotFound
	}

	player, err := m.cache.GetPlayer(ctx, code, userID)
	if err != nil || player == nil || !player.IsHost {
		return ErrNotHost
	}

	m.stopEngine(code)

	m.hub.BroadcastWSMessage(code, &WSMessage{
		Type:      MsgTypeLobbyClosed,
		LobbyCode: code,
	}, 0)

	if err := m.cache.ClearLobby(ctx, code); err != nil {
		logger.Warn("failed to clear lobby cache", logger.ErrorField(err))
	}
	if err := m.repo.Delete(ctx, code); err != nil {
		return fmt.Errorf("failed to delete lobby: %w", err)
	}

	logger.Info("lobby disbanded",
		logger.String("lobby", code),
		logger.Int64("host", userID))
	return nil
}

// StartGame launches the round engine. Host only.
func (m *Manager) StartGame(ctx context.Context, code string, userID int64) error {
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to look up lobby: %w", err)
	}
	if lobby == nil {
		return ErrLobbyNotFound
	}

	player, err := m.cache.GetPlayer(ctx, code, userID)
	if err != nil || player == nil || !player.IsHost {
		return ErrNotHost
	}

	if lobby.Status == model.LobbyStatusPlaying {
		return ErrGameRunning
	}

	// Registering the engine under the lock is the gate against two
	// concurrent host requests launching two engines for one lobby.
	engineCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if _, running := m.engines[code]; running {
		m.mu.Unlock()
		cancel()
		return ErrGameRunning
	}
	m.engines[code] = cancel
	m.mu.Unlock()

	if err := m.repo.UpdateStatus(ctx, code, model.LobbyStatusPlaying); err != nil {
		m.stopEngine(code)
		return fmt.Errorf("failed to mark lobby playing: %w", err)
	}

	m.hub.BroadcastWSMessage(code, &WSMessage{
		Type:      MsgTypeGameStarted,
		LobbyCode: code,
	}, 0)

	go m.runGame(engineCtx, code)

	logger.Info("game started",
		logger.String("lobby", code),
		logger.Int64("host", userID))
	return nil
}

// GetLobbyInfo returns the lobby with its live players.
func (m *Manager) GetLobbyInfo(ctx context.Context, code string) (*model.LobbyInfo, error) {
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if lobby == nil {
		return nil, ErrLobbyNotFound
	}

	players, err := m.cache.GetPlayers(ctx, code)
	if err != nil {
		logger.Warn("failed to list players", logger.ErrorField(err))
		players = []model.PlayerOnline{}
	}

	return &model.LobbyInfo{
		Lobby:   *lobby,
		Players: players,
	}, nil
}

// ========== Guessing ==========

// SubmitGuess records a player's guess for the round in progress. Each
// player gets one submission per round.
func (m *Manager) SubmitGuess(ctx context.Context, code string, userID int64, guess string) error {
	lobby, err := m.repo.GetByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to look up lobby: %w", err)
	}
	if lobby == nil {
		return ErrLobbyNotFound
	}
	if lobby.Status != model.LobbyStatusPlaying {
		return ErrGameNotRunning
	}

	record, err := m.cache.GetGuess(ctx, code, userID)
	if err != nil {
		return fmt.Errorf("failed to look up guess: %w", err)
	}
	if record != nil && record.Submitted {
		return ErrAlreadyGuessed
	}

	if err := m.cache.SetGuess(ctx, code, userID, guess); err != nil {
		return fmt.Errorf("failed to record guess: %w", err)
	}

	m.broadcastPlayerEvent(code, MsgTypePlayerGuessed, userID, "")
	return nil
}

// ValidateGuess scores a solo-mode guess against a known title and
// updates the player's running solo score.
func (m *Manager) ValidateGuess(ctx context.Context, userID int64, guess, title string) (bool, int64, error) {
	correct := IsCloseMatch(guess, title, m.opts.SimilarityCutoff)

	var score int64
	var err error
	if correct {
		score, err = m.cache.IncrSoloScore(ctx, userID)
	} else {
		score, err = m.cache.GetSoloScore(ctx, userID)
	}
	if err != nil {
		return correct, 0, fmt.Errorf("failed to update solo score: %w", err)
	}
	return correct, score, nil
}

// ResetSoloScore zeroes a player's solo score.
func (m *Manager) ResetSoloScore(ctx context.Context, userID int64) error {
	return m.cache.ResetSoloScore(ctx, userID)
}

// ========== Engine control ==========

func (m *Manager) stopEngine(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cancel, ok := m.engines[code]; ok {
		cancel()
		delete(m.engines, code)
	}
}

// Shutdown stops every running engine.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for code, cancel := range m.engines {
		cancel()
		delete(m.engines, code)
	}
}

// ========== WebSocket message handling ==========

// HandleMessage dispatches a client WebSocket message.
func (m *Manager) HandleMessage(ctx context.Context, client *Client, msg *WSMessage) {
	// Tolerate a double-encoded data field from older clients.
	data := msg.Data
	if len(data) > 0 && data[0] == '"' {
		var decoded string
		if err := json.Unmarshal(data, &decoded); err == nil {
			data = json.RawMessage(decoded)
		}
	}

	switch msg.Type {
	case MsgTypeGuess:
		var guessData GuessData
		if err := json.Unmarshal(data, &guessData); err != nil {
			logger.Warn("failed to parse guess",
				logger.ErrorField(err),
				logger.String("lobby", client.LobbyCode))
			return
		}
		if err := m.SubmitGuess(ctx, client.LobbyCode, client.UserID, guessData.Guess); err != nil {
			m.sendError(client, err.Error())
		}

	case MsgTypeLeave:
		if err := m.LeaveLobby(ctx, client.LobbyCode, client.UserID); err != nil {
			logger.Warn("leave via websocket failed",
				logger.ErrorField(err),
				logger.String("lobby", client.LobbyCode),
				logger.Int64("user", client.UserID))
		}

	case MsgTypeJoin:
		// Membership is established over HTTP; the socket join only
		// refreshes presence, which ReadPump already does on ping.
	}
}

func (m *Manager) sendError(client *Client, message string) {
	data, _ := json.Marshal(map[string]string{"error": message})
	client.SendMessage(&WSMessage{
		Type:      MsgTypeError,
		LobbyCode: client.LobbyCode,
		Data:      data,
	})
}

// ========== Broadcast helpers ==========

func (m *Manager) broadcastPlayerEvent(code string, msgType MessageType, userID int64, username string) {
	data, _ := json.Marshal(&PlayerEventData{PlayerID: userID, Username: username})
	msg := &WSMessage{
		Type:      msgType,
		LobbyCode: code,
		UserID:    userID,
		Data:      data,
	}
	m.hub.BroadcastWSMessage(code, msg, 0)
}
