package library

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.mp3"), []byte("not real audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp3"), []byte("not real audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	tracks, err := scanDir(dir)
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	// Sorted by filename, with the filename standing in for a missing tag.
	assert.Equal(t, "a.mp3", tracks[0].Filename)
	assert.Equal(t, "a.mp3", tracks[0].Title)
	assert.Equal(t, "/api/audio/a.mp3", tracks[0].AudioURL)
	assert.Equal(t, "b.mp3", tracks[1].Filename)
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "songs")

	_, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRandomSong(t *testing.T) {
	dir := t.TempDir()
	lib, err := New(dir)
	require.NoError(t, err)

	_, err = lib.RandomSong()
	assert.ErrorIs(t, err, ErrNoTracks)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "track.mp3"), []byte("x"), 0o644))
	require.NoError(t, lib.Start())
	defer lib.Stop()

	song, err := lib.RandomSong()
	require.NoError(t, err)
	assert.Equal(t, "track.mp3", song.Title)
	assert.Equal(t, "Unknown Artist", song.Artist)
	assert.Equal(t, "/api/audio/track.mp3", song.PreviewURL)
	assert.True(t, song.Complete())
}

func TestWatcherPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	lib, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, lib.Start())
	defer lib.Stop()

	assert.Empty(t, lib.Tracks())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.mp3"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		return lib.Contains("new.mp3")
	}, 3*time.Second, 50*time.Millisecond)
}
