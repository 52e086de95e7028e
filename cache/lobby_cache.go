package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"beatquiz/model"

	"github.com/redis/go-redis/v9"
)

const (
	lobbyPlayersKey  = "lobby:%s:players"     // Hash: userID -> PlayerOnline JSON
	lobbyGuessesKey  = "lobby:%s:guesses"     // Hash: userID -> Guess JSON
	lobbyRoundKey    = "lobby:%s:round"       // String: RoundState JSON
	lobbyPresenceKey = "lobby:%s:presence:%d" // String: heartbeat key per user
	lobbyPresenceSet = "lobby:%s:online"      // Set: connected user ids
	soloScoreKey     = "score:solo:%d"        // String: per-user solo score

	lobbyTTL    = 24 * time.Hour
	presenceTTL = 60 * time.Second
	soloTTL     = 24 * time.Hour
)

// LobbyCache holds the live state of lobbies: players, scores, round
// guesses and presence heartbeats.
type LobbyCache struct {
	client *redis.Client
}

// NewLobbyCache creates a lobby cache backed by the global client.
func NewLobbyCache() *LobbyCache {
	return &LobbyCache{client: RedisClient}
}

// ========== Players ==========

// SetPlayer stores a player's live state.
func (c *LobbyCache) SetPlayer(ctx context.Context, code string, player *model.PlayerOnline) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyPlayersKey, code)
	data, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, strconv.FormatInt(player.UserID, 10), data)
	pipe.Expire(ctx, key, lobbyTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RemovePlayer drops a player's live state.
func (c *LobbyCache) RemovePlayer(ctx context.Context, code string, userID int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyPlayersKey, code)
	return c.client.HDel(ctx, key, strconv.FormatInt(userID, 10)).Err()
}

// GetPlayer fetches one player's live state. Returns nil when absent.
func (c *LobbyCache) GetPlayer(ctx context.Context, code string, userID int64) (*model.PlayerOnline, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyPlayersKey, code)
	data, err := c.client.HGet(ctx, key, strconv.FormatInt(userID, 10)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var player model.PlayerOnline
	if err := json.Unmarshal([]byte(data), &player); err != nil {
		return nil, err
	}
	return &player, nil
}

// GetPlayers returns all players ordered by join time.
func (c *LobbyCache) GetPlayers(ctx context.Context, code string) ([]model.PlayerOnline, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyPlayersKey, code)
	result, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	players := make([]model.PlayerOnline, 0, len(result))
	for _, data := range result {
		var player model.PlayerOnline
		if err := json.Unmarshal([]byte(data), &player); err == nil {
			players = append(players, player)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].JoinedAt < players[j].JoinedAt })
	return players, nil
}

// CountPlayers returns the number of players in the lobby.
func (c *LobbyCache) CountPlayers(ctx context.Context, code string) (int64, error) {
	if c.client == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyPlayersKey, code)
	return c.client.HLen(ctx, key).Result()
}

// AddScore adds points to a player's score and returns the new total.
func (c *LobbyCache) AddScore(ctx context.Context, code string, userID int64, points int) (int, error) {
	player, err := c.GetPlayer(ctx, code, userID)
	if err != nil {
		return 0, err
	}
	if player == nil {
		return 0, fmt.Errorf("player not found in lobby")
	}

	player.Score += points
	if err := c.SetPlayer(ctx, code, player); err != nil {
		return 0, err
	}
	return player.Score, nil
}

// SetHost updates a player's host flag.
func (c *LobbyCache) SetHost(ctx context.Context, code string, userID int64, isHost bool) error {
	player, err := c.GetPlayer(ctx, code, userID)
	if err != nil {
		return err
	}
	if player == nil {
		return fmt.Errorf("player not found in lobby")
	}

	player.IsHost = isHost
	return c.SetPlayer(ctx, code, player)
}

// ========== Round guesses ==========

// ResetGuesses clears all guesses and seeds an empty record per player,
// so each player gets exactly one submission per round.
func (c *LobbyCache) ResetGuesses(ctx context.Context, code string, userIDs []int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyGuessesKey, code)
	empty, _ := json.Marshal(&model.Guess{})

	pipe := c.client.Pipeline()
	pipe.Del(ctx, key)
	for _, id := range userIDs {
		pipe.HSet(ctx, key, strconv.FormatInt(id, 10), empty)
	}
	pipe.Expire(ctx, key, lobbyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetGuess records a player's guess for the current round.
func (c *LobbyCache) SetGuess(ctx context.Context, code string, userID int64, guess string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyGuessesKey, code)
	data, err := json.Marshal(&model.Guess{Guess: guess, Submitted: true})
	if err != nil {
		return err
	}
	return c.client.HSet(ctx, key, strconv.FormatInt(userID, 10), data).Err()
}

// GetGuess fetches a player's guess record. Returns nil when absent.
func (c *LobbyCache) GetGuess(ctx context.Context, code string, userID int64) (*model.Guess, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyGuessesKey, code)
	data, err := c.client.HGet(ctx, key, strconv.FormatInt(userID, 10)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var guess model.Guess
	if err := json.Unmarshal([]byte(data), &guess); err != nil {
		return nil, err
	}
	return &guess, nil
}

// GetGuesses returns all guess records keyed by user id.
func (c *LobbyCache) GetGuesses(ctx context.Context, code string) (map[int64]model.Guess, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyGuessesKey, code)
	result, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	guesses := make(map[int64]model.Guess, len(result))
	for id, data := range result {
		userID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		var guess model.Guess
		if err := json.Unmarshal([]byte(data), &guess); err == nil {
			guesses[userID] = guess
		}
	}
	return guesses, nil
}

// ========== Round state ==========

// SetRoundState stores the round in progress.
func (c *LobbyCache) SetRoundState(ctx context.Context, code string, state *model.RoundState) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyRoundKey, code)
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal round state: %w", err)
	}
	return c.client.Set(ctx, key, data, lobbyTTL).Err()
}

// GetRoundState fetches the round in progress. Returns nil when no round
// is open.
func (c *LobbyCache) GetRoundState(ctx context.Context, code string) (*model.RoundState, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(lobbyRoundKey, code)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var state model.RoundState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ClearRoundState removes the round marker.
func (c *LobbyCache) ClearRoundState(ctx context.Context, code string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	return c.client.Del(ctx, fmt.Sprintf(lobbyRoundKey, code)).Err()
}

// ========== Presence heartbeats ==========

// UpdateUserPresence refreshes a user's heartbeat.
func (c *LobbyCache) UpdateUserPresence(ctx context.Context, code string, userID int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	presenceKey := fmt.Sprintf(lobbyPresenceKey, code, userID)
	onlineSetKey := fmt.Sprintf(lobbyPresenceSet, code)

	pipe := c.client.Pipeline()
	pipe.Set(ctx, presenceKey, time.Now().UnixMilli(), presenceTTL)
	pipe.SAdd(ctx, onlineSetKey, userID)
	pipe.Expire(ctx, onlineSetKey, lobbyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveUserPresence drops a user's heartbeat.
func (c *LobbyCache) RemoveUserPresence(ctx context.Context, code string, userID int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	presenceKey := fmt.Sprintf(lobbyPresenceKey, code, userID)
	onlineSetKey := fmt.Sprintf(lobbyPresenceSet, code)

	pipe := c.client.Pipeline()
	pipe.Del(ctx, presenceKey)
	pipe.SRem(ctx, onlineSetKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

// GetActiveOnlineCount counts users with a live heartbeat, pruning the
// expired ones from the online set.
func (c *LobbyCache) GetActiveOnlineCount(ctx context.Context, code string) (int64, error) {
	if c.client == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}

	onlineSetKey := fmt.Sprintf(lobbyPresenceSet, code)
	members, err := c.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	activeCount := int64(0)
	expired := make([]interface{}, 0)
	for _, memberStr := range members {
		userID, err := strconv.ParseInt(memberStr, 10, 64)
		if err != nil {
			continue
		}

		presenceKey := fmt.Sprintf(lobbyPresenceKey, code, userID)
		exists, err := c.client.Exists(ctx, presenceKey).Result()
		if err != nil {
			continue
		}
		if exists > 0 {
			activeCount++
		} else {
			expired = append(expired, memberStr)
		}
	}

	if len(expired) > 0 {
		c.client.SRem(ctx, onlineSetKey, expired...)
	}
	return activeCount, nil
}

// ========== Solo scores ==========

// IncrSoloScore bumps a user's solo score and returns the new value.
func (c *LobbyCache) IncrSoloScore(ctx context.Context, userID int64) (int64, error) {
	if c.client == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(soloScoreKey, userID)
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, soloTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// GetSoloScore reads a user's solo score.
func (c *LobbyCache) GetSoloScore(ctx context.Context, userID int64) (int64, error) {
	if c.client == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}

	val, err := c.client.Get(ctx, fmt.Sprintf(soloScoreKey, userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// ResetSoloScore zeroes a user's solo score.
func (c *LobbyCache) ResetSoloScore(ctx context.Context, userID int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	return c.client.Set(ctx, fmt.Sprintf(soloScoreKey, userID), 0, soloTTL).Err()
}

// ========== Cleanup ==========

// ClearLobby removes all live state for a lobby.
func (c *LobbyCache) ClearLobby(ctx context.Context, code string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	keys := []string{
		fmt.Sprintf(lobbyPlayersKey, code),
		fmt.Sprintf(lobbyGuessesKey, code),
		fmt.Sprintf(lobbyRoundKey, code),
		fmt.Sprintf(lobbyPresenceSet, code),
	}
	return c.client.Del(ctx, keys...).Err()
}
