package library

import (
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"beatquiz/logger"
	"beatquiz/model"

	"github.com/dhowden/tag"
	"github.com/fsnotify/fsnotify"
	"github.com/tcolgate/mp3"
)

// Track is one local audio file in the songs directory.
type Track struct {
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Artist   string `json:"artist,omitempty"`
	Duration string `json:"duration"`
	AudioURL string `json:"audio_url"`
}

// Library keeps an in-memory index of the songs directory and refreshes
// it when files change on disk.
type Library struct {
	dir string

	mu     sync.RWMutex
	tracks []Track

	watcher *fsnotify.Watcher
	quit    chan struct{}
}

// New creates a library over dir. The directory is created if missing.
func New(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	l := &Library{
		dir:  dir,
		quit: make(chan struct{}),
	}
	return l, nil
}

// Start scans the directory and begins watching it for changes.
func (l *Library) Start() error {
	l.rescan()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return err
	}
	l.watcher = watcher

	go l.watchLoop()
	return nil
}

// Stop shuts the watcher down.
func (l *Library) Stop() {
	close(l.quit)
	if l.watcher != nil {
		l.watcher.Close()
	}
}

// Dir returns the songs directory path.
func (l *Library) Dir() string {
	return l.dir
}

// Tracks returns a snapshot of the current index.
func (l *Library) Tracks() []Track {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Track, len(l.tracks))
	copy(out, l.tracks)
	return out
}

// ErrNoTracks is returned when the songs directory holds no audio.
var ErrNoTracks = errors.New("no local tracks available")

// RandomSong picks a random indexed track as a playable round song.
func (l *Library) RandomSong() (*model.Song, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.tracks) == 0 {
		return nil, ErrNoTracks
	}

	t := l.tracks[rand.Intn(len(l.tracks))]
	artist := t.Artist
	if artist == "" {
		artist = "Unknown Artist"
	}
	return &model.Song{
		Title:      t.Title,
		Artist:     artist,
		PreviewURL: t.AudioURL,
	}, nil
}

// Contains reports whether filename is an indexed track.
func (l *Library) Contains(filename string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, t := range l.tracks {
		if t.Filename == filename {
			return true
		}
	}
	return false
}

func (l *Library) watchLoop() {
	debounce := time.NewTimer(0)
	<-debounce.C

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(500 * time.Millisecond)

		case <-debounce.C:
			l.rescan()

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("songs watcher error", logger.ErrorField(err))

		case <-l.quit:
			return
		}
	}
}

func (l *Library) rescan() {
	tracks, err := scanDir(l.dir)
	if err != nil {
		logger.Error("failed to scan songs directory",
			logger.ErrorField(err),
			logger.String("dir", l.dir))
		return
	}

	l.mu.Lock()
	l.tracks = tracks
	l.mu.Unlock()

	logger.Info("songs library indexed",
		logger.String("dir", l.dir),
		logger.Int("tracks", len(tracks)))
}

func scanDir(dir string) ([]Track, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var tracks []Track
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".mp3" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		track := Track{
			Filename: entry.Name(),
			Title:    entry.Name(),
			AudioURL: "/api/audio/" + entry.Name(),
		}

		if f, err := os.Open(path); err == nil {
			if m, err := tag.ReadFrom(f); err == nil {
				if m.Title() != "" {
					track.Title = m.Title()
				}
				track.Artist = m.Artist()
			}
			f.Close()
		}

		if dur, err := mp3Duration(path); err == nil {
			track.Duration = dur.Truncate(time.Second).String()
		}

		tracks = append(tracks, track)
	}

	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].Filename < tracks[j].Filename
	})
	return tracks, nil
}

func mp3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var duration time.Duration

	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			if err == io.EOF {
				break
			}
			return 0, err
		}
		duration += frame.Duration()
	}
	return duration, nil
}
