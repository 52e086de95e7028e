package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"beatquiz/core/library"

	"github.com/gorilla/mux"
)

// AudioHandler serves local audio files and the library index.
type AudioHandler struct {
	library *library.Library
}

// NewAudioHandler creates the audio handler.
func NewAudioHandler(lib *library.Library) *AudioHandler {
	return &AudioHandler{library: lib}
}

// ServeAudioHandler streams a file from the songs directory.
func (h *AudioHandler) ServeAudioHandler(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	// Reject anything that could escape the songs directory.
	if filename == "" || strings.Contains(filename, "..") ||
		strings.ContainsAny(filename, "/\\") || filename != filepath.Base(filename) {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	path := filepath.Join(h.library.Dir(), filename)
	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, path)
}

// LibraryHandler returns the indexed local tracks.
func (h *AudioHandler) LibraryHandler(w http.ResponseWriter, r *http.Request) {
	tracks := h.library.Tracks()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tracks": tracks,
		"count":  len(tracks),
	})
}
