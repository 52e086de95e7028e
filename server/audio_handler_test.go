package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"beatquiz/core/library"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAudioHandler(t *testing.T) (*AudioHandler, string) {
	t.Helper()

	dir := t.TempDir()
	lib, err := library.New(dir)
	require.NoError(t, err)
	require.NoError(t, lib.Start())
	t.Cleanup(lib.Stop)

	return NewAudioHandler(lib), dir
}

func newAudioRouter(h *AudioHandler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/audio/{filename}", h.ServeAudioHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/library", h.LibraryHandler).Methods(http.MethodGet)
	return router
}

func TestServeAudio(t *testing.T) {
	h, dir := newTestAudioHandler(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "track.mp3"), []byte("fake mp3 bytes"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/audio/track.mp3", nil)
	rec := httptest.NewRecorder()
	newAudioRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "fake mp3 bytes", rec.Body.String())
}

func TestServeAudioMissingFile(t *testing.T) {
	h, _ := newTestAudioHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/audio/nope.mp3", nil)
	rec := httptest.NewRecorder()
	newAudioRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeAudioRejectsTraversal(t *testing.T) {
	h, _ := newTestAudioHandler(t)

	for _, filename := range []string{
		"../secret.txt",
		"..\\secret.txt",
		"sub/track.mp3",
		"..",
		"",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/audio/x", nil)
		req = mux.SetURLVars(req, map[string]string{"filename": filename})
		rec := httptest.NewRecorder()
		h.ServeAudioHandler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "filename %q should be rejected", filename)
	}
}

func TestLibraryHandler(t *testing.T) {
	h, dir := newTestAudioHandler(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.mp3"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp3"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	// Pick up the files written after the initial scan.
	assert.Eventually(t, func() bool {
		return len(h.library.Tracks()) == 2
	}, 3*time.Second, 50*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/library", nil)
	rec := httptest.NewRecorder()
	newAudioRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tracks []library.Track `json:"tracks"`
		Count  int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "a.mp3", body.Tracks[0].Filename)
	assert.Equal(t, "b.mp3", body.Tracks[1].Filename)
	assert.Equal(t, "/api/audio/a.mp3", body.Tracks[0].AudioURL)
}
