package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beatquiz/cache"
	"beatquiz/config"
	"beatquiz/core/auth"
	"beatquiz/core/deezer"
	"beatquiz/core/game"
	"beatquiz/core/library"
	"beatquiz/db"
	"beatquiz/logger"
	"beatquiz/model"
	"beatquiz/repository"
	"beatquiz/storage"

	"github.com/gorilla/mux"
)

// Start wires the application together and runs the HTTP server until
// it receives an interrupt.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	if err := db.Connect(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(
		&model.User{},
		&model.Lobby{},
		&model.LobbyPlayer{},
		&model.GameResult{},
	); err != nil {
		logger.Fatal("failed to migrate database", logger.ErrorField(err))
	}

	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to redis", logger.ErrorField(err))
	}
	defer cache.CloseRedis()

	var previews *storage.PreviewCache
	if cfg.MinioEndpoint != "" {
		if err := storage.InitMinio(cfg); err != nil {
			logger.Fatal("failed to initialize minio", logger.ErrorField(err))
		}
		previews = storage.NewPreviewCache(cfg.MinioBucket)
	}

	lib, err := library.New(cfg.SongsDir)
	if err != nil {
		logger.Fatal("failed to open songs directory", logger.ErrorField(err))
	}
	if err := lib.Start(); err != nil {
		logger.Fatal("failed to watch songs directory", logger.ErrorField(err))
	}
	defer lib.Stop()

	hub := game.NewLobbyHub()
	go hub.Run()
	defer hub.Stop()

	deezerClient := deezer.NewClient(cfg.DeezerAPIURL, cfg.DeezerTimeout, cfg.ChartPositions)
	lobbyRepo := repository.NewGormLobbyRepository(db.DB)
	userRepo := repository.NewGormUserRepository(db.DB)
	lobbyCache := cache.NewLobbyCache()
	tokens := auth.NewTokenIssuer(cfg.JWTSecret)

	songs := &chartWithLocalFallback{chart: deezerClient, library: lib}
	manager := game.NewManager(lobbyRepo, lobbyCache, hub, songs, game.Options{
		MaxRounds:        cfg.MaxRounds,
		MaxPlayers:       cfg.MaxPlayers,
		GuessDuration:    cfg.GuessDuration,
		TransitionPause:  cfg.TransitionPause,
		FetchRetries:     cfg.FetchRetries,
		FetchRetryPause:  cfg.FetchRetryPause,
		SimilarityCutoff: cfg.SimilarityCutoff,
	})
	defer manager.Shutdown()

	authHandler := NewAuthHandler(userRepo, tokens)
	lobbyHandler := NewLobbyHandler(manager, tokens)
	gameHandler := NewGameHandler(manager, deezerClient, previews)
	audioHandler := NewAudioHandler(lib)

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/api/init-session", authHandler.InitSessionHandler).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/api/auth/register", authHandler.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", authHandler.LoginHandler).Methods(http.MethodPost)

	RegisterLobbyRoutes(router, lobbyHandler, authHandler.AuthMiddleware)

	router.HandleFunc("/api/random-song", gameHandler.RandomSongHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/validate-guess", authHandler.AuthMiddleware(gameHandler.ValidateGuessHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/reset-score", authHandler.AuthMiddleware(gameHandler.ResetScoreHandler)).Methods(http.MethodPost)

	router.HandleFunc("/api/audio/{filename}", audioHandler.ServeAudioHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/library", audioHandler.LibraryHandler).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}

// chartWithLocalFallback serves rounds from the chart API and falls
// back to the local songs library when the upstream is unreachable.
type chartWithLocalFallback struct {
	chart   *deezer.Client
	library *library.Library
}

func (s *chartWithLocalFallback) RandomChartTrack(ctx context.Context) (*model.Song, error) {
	song, err := s.chart.RandomChartTrack(ctx)
	if err == nil {
		return song, nil
	}

	local, localErr := s.library.RandomSong()
	if localErr != nil {
		return nil, err
	}
	logger.Warn("chart API unreachable, using local track", logger.ErrorField(err))
	return local, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
