package game

import (
	"context"
	"encoding/json"
	"time"

	"beatquiz/logger"
	"beatquiz/model"
)

// runGame drives a lobby through its rounds until the last round
// completes or the context is cancelled.
func (m *Manager) runGame(ctx context.Context, code string) {
	defer func() {
		m.mu.Lock()
		delete(m.engines, code)
		m.mu.Unlock()
	}()

	logger.Info("game engine started", logger.String("lobby", code))

	for round := 1; round <= m.opts.MaxRounds; round++ {
		if err := m.playRound(ctx, code, round); err != nil {
			if ctx.Err() != nil {
				logger.Info("game engine stopped",
					logger.String("lobby", code),
					logger.Int("round", round))
				return
			}
			logger.Error("round failed",
				logger.ErrorField(err),
				logger.String("lobby", code),
				logger.Int("round", round))
		}
	}

	m.finishGame(ctx, code)
}

// playRound runs a single round: fetch a track, open the guess window,
// score the guesses and announce the transition to the next round.
func (m *Manager) playRound(ctx context.Context, code string, round int) error {
	players, err := m.cache.GetPlayers(ctx, code)
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.UserID)
	}
	if err := m.cache.ResetGuesses(ctx, code, ids); err != nil {
		logger.Warn("failed to reset guesses", logger.ErrorField(err))
	}

	if err := m.repo.UpdateRound(ctx, code, round); err != nil {
		logger.Warn("failed to persist round number", logger.ErrorField(err))
	}

	song := m.fetchSong(ctx)
	if song == nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("skipping round, no track available",
			logger.String("lobby", code),
			logger.Int("round", round))
		m.broadcastRoundStarted(code, round, nil, "could not fetch a song, skipping round")
		if !sleepCtx(ctx, m.opts.TransitionPause) {
			return ctx.Err()
		}
		return nil
	}

	now := time.Now()
	state := &model.RoundState{
		Round:     round,
		Song:      song,
		StartedAt: now.UnixMilli(),
		EndsAt:    now.Add(m.opts.GuessDuration).UnixMilli(),
	}
	if err := m.cache.SetRoundState(ctx, code, state); err != nil {
		logger.Warn("failed to cache round state", logger.ErrorField(err))
	}

	m.broadcastRoundStarted(code, round, song, "")

	if !sleepCtx(ctx, m.opts.GuessDuration) {
		return ctx.Err()
	}

	m.scoreRound(ctx, code, round, song)

	if err := m.cache.ClearRoundState(ctx, code); err != nil {
		logger.Warn("failed to clear round state", logger.ErrorField(err))
	}

	var next *int
	if round < m.opts.MaxRounds {
		n := round + 1
		next = &n
	}
	m.broadcastRoundTransition(code, next)

	if !sleepCtx(ctx, m.opts.TransitionPause) {
		return ctx.Err()
	}
	return nil
}

// fetchSong asks the song source for a complete track, retrying with a
// short pause between attempts.
func (m *Manager) fetchSong(ctx context.Context) *model.Song {
	for attempt := 1; attempt <= m.opts.FetchRetries; attempt++ {
		song, err := m.songs.RandomChartTrack(ctx)
		if err == nil && song != nil && song.Complete() {
			return song
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("track fetch attempt failed",
			logger.Int("attempt", attempt),
			logger.ErrorField(err))
		if attempt < m.opts.FetchRetries {
			if !sleepCtx(ctx, m.opts.FetchRetryPause) {
				return nil
			}
		}
	}
	return nil
}

// scoreRound compares every player's guess against the track title and
// sends each player their personal outcome.
func (m *Manager) scoreRound(ctx context.Context, code string, round int, song *model.Song) {
	players, err := m.cache.GetPlayers(ctx, code)
	if err != nil {
		logger.Error("failed to list players for scoring", logger.ErrorField(err))
		return
	}

	guesses, err := m.cache.GetGuesses(ctx, code)
	if err != nil {
		logger.Warn("failed to read guesses", logger.ErrorField(err))
		guesses = map[int64]model.Guess{}
	}

	for _, player := range players {
		result := model.GuessResult{}
		if g, ok := guesses[player.UserID]; ok && g.Submitted {
			guess := g.Guess
			result.Guess = &guess
			result.Correct = IsCloseMatch(guess, song.Title, m.opts.SimilarityCutoff)
		}

		if result.Correct {
			if _, err := m.cache.AddScore(ctx, code, player.UserID, 1); err != nil {
				logger.Warn("failed to add score", logger.ErrorField(err))
			}
			if err := m.repo.UpdatePlayerScore(ctx, code, player.UserID, 1); err != nil {
				logger.Warn("failed to persist score", logger.ErrorField(err))
			}
		}

		data, _ := json.Marshal(&RoundEndedPersonalData{
			Round:         round,
			CorrectAnswer: song.Title,
			GuessResult:   result,
		})
		if err := m.hub.SendToUser(code, player.UserID, &WSMessage{
			Type:      MsgTypeRoundEndedPersonal,
			LobbyCode: code,
			UserID:    player.UserID,
			Data:      data,
		}); err != nil {
			logger.Debug("player unreachable for round result",
				logger.String("lobby", code),
				logger.Int64("user", player.UserID))
		}
	}
}

// finishGame picks the winner, announces it and persists the outcome.
func (m *Manager) finishGame(ctx context.Context, code string) {
	players, err := m.cache.GetPlayers(ctx, code)
	if err != nil {
		logger.Error("failed to list players at game end", logger.ErrorField(err))
		players = nil
	}

	var winner *int64
	best := -1
	for _, p := range players {
		if p.Score > best {
			best = p.Score
			id := p.UserID
			winner = &id
		}
	}

	data, _ := json.Marshal(&GameEndedData{
		Winner:  winner,
		Players: players,
	})
	m.hub.BroadcastWSMessage(code, &WSMessage{
		Type:      MsgTypeGameEnded,
		LobbyCode: code,
		Data:      data,
	}, 0)

	results := make([]*model.GameResult, 0, len(players))
	for _, p := range players {
		results = append(results, &model.GameResult{
			LobbyCode: code,
			UserID:    p.UserID,
			Score:     p.Score,
			Won:       winner != nil && p.UserID == *winner,
			CreatedAt: time.Now(),
		})
	}
	if len(results) > 0 {
		if err := m.repo.SaveResults(ctx, results); err != nil {
			logger.Warn("failed to save game results", logger.ErrorField(err))
		}
	}

	if err := m.repo.Finish(ctx, code); err != nil {
		logger.Warn("failed to mark lobby finished", logger.ErrorField(err))
	}

	logger.Info("game finished", logger.String("lobby", code))
}

func (m *Manager) broadcastRoundStarted(code string, round int, song *model.Song, errMsg string) {
	payload := &RoundStartedData{
		Round:    round,
		Duration: int(m.opts.GuessDuration.Seconds()),
		Song:     song,
	}
	if errMsg != "" {
		payload.Error = errMsg
	}
	data, _ := json.Marshal(payload)
	m.hub.BroadcastWSMessage(code, &WSMessage{
		Type:      MsgTypeRoundStarted,
		LobbyCode: code,
		Data:      data,
	}, 0)
}

func (m *Manager) broadcastRoundTransition(code string, next *int) {
	data, _ := json.Marshal(&RoundTransitionData{
		NextRound: next,
		Duration:  int(m.opts.TransitionPause.Seconds()),
	})
	m.hub.BroadcastWSMessage(code, &WSMessage{
		Type:      MsgTypeRoundTransition,
		LobbyCode: code,
		Data:      data,
	}, 0)
}

// sleepCtx waits for d or until ctx is cancelled, reporting whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
