package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "songs", cfg.SongsDir)

	assert.Equal(t, "https://api.deezer.com", cfg.DeezerAPIURL)
	assert.Equal(t, 100, cfg.ChartPositions)

	assert.Equal(t, 10, cfg.MaxRounds)
	assert.Equal(t, 8, cfg.MaxPlayers)
	assert.Equal(t, 30*time.Second, cfg.GuessDuration)
	assert.Equal(t, 5*time.Second, cfg.TransitionPause)
	assert.Equal(t, 3, cfg.FetchRetries)
	assert.Equal(t, time.Second, cfg.FetchRetryPause)
	assert.InDelta(t, 0.7, cfg.SimilarityCutoff, 0.0001)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SONGS_DIR", "/data/songs")
	t.Setenv("MAX_ROUNDS", "5")
	t.Setenv("GUESS_SECONDS", "10")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "/data/songs", cfg.SongsDir)
	assert.Equal(t, 5, cfg.MaxRounds)
	assert.Equal(t, 10*time.Second, cfg.GuessDuration)
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("MAX_ROUNDS", "not-a-number")

	cfg := Load()
	assert.Equal(t, 10, cfg.MaxRounds)
}
