package server

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"beatquiz/core/deezer"
	"beatquiz/core/game"
	"beatquiz/logger"
	"beatquiz/storage"
)

// GameHandler serves the solo-mode endpoints backed by the chart API.
type GameHandler struct {
	manager  *game.Manager
	deezer   *deezer.Client
	previews *storage.PreviewCache
}

// NewGameHandler creates the game handler. previews may be nil.
func NewGameHandler(manager *game.Manager, deezerClient *deezer.Client, previews *storage.PreviewCache) *GameHandler {
	return &GameHandler{
		manager:  manager,
		deezer:   deezerClient,
		previews: previews,
	}
}

// RandomSongHandler returns a random chart track for solo play.
func (h *GameHandler) RandomSongHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	song, err := h.deezer.RandomChartTrack(ctx)
	if err != nil {
		logger.Error("failed to fetch random track", logger.ErrorField(err))
		http.Error(w, "Could not fetch a song", http.StatusBadGateway)
		return
	}

	// Serve the clip from the preview cache when one is configured so
	// repeated plays skip the upstream CDN.
	if h.previews != nil {
		key := trackKey(song.PreviewURL)
		if !h.previews.Cached(ctx, key) {
			if err := h.previews.Store(ctx, key, song.PreviewURL); err != nil {
				logger.Warn("failed to cache preview", logger.ErrorField(err))
			}
		}
		if h.previews.Cached(ctx, key) {
			if u, err := h.previews.PresignedURL(ctx, key, 15*time.Minute); err == nil {
				song.PreviewURL = u
			}
		}
	}

	writeJSON(w, http.StatusOK, song)
}

// ValidateGuessRequest is the solo guess-check request body.
type ValidateGuessRequest struct {
	Guess string `json:"guess"`
	Song  string `json:"song"`
}

// ValidateGuessResponse reports the verdict and the running solo score.
type ValidateGuessResponse struct {
	Correct bool  `json:"correct"`
	Score   int64 `json:"score"`
}

// ValidateGuessHandler scores a solo guess against the given title.
func (h *GameHandler) ValidateGuessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req ValidateGuessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Guess == "" || req.Song == "" {
		http.Error(w, "Guess and song title are required", http.StatusBadRequest)
		return
	}

	correct, score, err := h.manager.ValidateGuess(ctx, userID, req.Guess, req.Song)
	if err != nil {
		logger.Error("failed to validate guess", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, &ValidateGuessResponse{Correct: correct, Score: score})
}

// ResetScoreHandler zeroes the caller's solo score.
func (h *GameHandler) ResetScoreHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.manager.ResetSoloScore(ctx, userID); err != nil {
		logger.Error("failed to reset score", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"score": 0})
}

func trackKey(previewURL string) string {
	sum := sha1.Sum([]byte(previewURL))
	return hex.EncodeToString(sum[:])
}
