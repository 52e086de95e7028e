package model

import "time"

// Lobby is a game room identified by a 6-digit numeric code.
type Lobby struct {
	Code       string     `json:"code" gorm:"primaryKey;size:6"`
	HostID     int64      `json:"hostId" gorm:"index;not null"`
	Status     string     `json:"status" gorm:"size:20;default:'waiting';index"` // waiting, playing, finished
	Round      int        `json:"round" gorm:"default:0"`
	MaxRounds  int        `json:"maxRounds" gorm:"default:10"`
	MaxPlayers int        `json:"maxPlayers" gorm:"default:8"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// TableName sets the table name.
func (Lobby) TableName() string {
	return "lobbies"
}

// LobbyPlayer is a player's membership in a lobby.
type LobbyPlayer struct {
	ID        int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	LobbyCode string     `json:"lobbyCode" gorm:"size:6;index;not null"`
	UserID    int64      `json:"userId" gorm:"index;not null"`
	Username  string     `json:"username" gorm:"size:100"`
	IsHost    bool       `json:"isHost" gorm:"default:false"`
	Score     int        `json:"score" gorm:"default:0"`
	JoinedAt  time.Time  `json:"joinedAt"`
	LeftAt    *time.Time `json:"leftAt,omitempty"`
}

// TableName sets the table name.
func (LobbyPlayer) TableName() string {
	return "lobby_players"
}

// GameResult is one player's final standing in a finished game.
type GameResult struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	LobbyCode string    `json:"lobbyCode" gorm:"size:6;index;not null"`
	UserID    int64     `json:"userId" gorm:"index;not null"`
	Score     int       `json:"score"`
	Won       bool      `json:"won"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName sets the table name.
func (GameResult) TableName() string {
	return "game_results"
}

// ========== Non-persisted structures (Redis and WebSocket) ==========

// PlayerOnline is a player's live state kept in the lobby cache.
type PlayerOnline struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	IsHost   bool   `json:"is_host"`
	Score    int    `json:"score"`
	JoinedAt int64  `json:"joinedAt"` // Unix millis
}

// Guess is one player's submission for the current round.
type Guess struct {
	Guess     string `json:"guess"`
	Submitted bool   `json:"submitted"`
}

// GuessResult is the per-player outcome of a round.
type GuessResult struct {
	Guess   *string `json:"guess"`
	Correct bool    `json:"correct"`
}

// RoundState is the live state of the round in progress.
type RoundState struct {
	Round     int   `json:"round"`
	Song      *Song `json:"song,omitempty"`
	StartedAt int64 `json:"startedAt"` // Unix millis
	EndsAt    int64 `json:"endsAt"`
}

// LobbyInfo is the lobby with its live players (API responses).
type LobbyInfo struct {
	Lobby
	Players []PlayerOnline `json:"players"`
}

// ========== Constants ==========

const (
	LobbyStatusWaiting  = "waiting"
	LobbyStatusPlaying  = "playing"
	LobbyStatusFinished = "finished"
)
