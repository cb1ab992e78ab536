package main

import (
	"context"
	"flag"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/command"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/storage"
	"github.com/Tyrowin/roomchat/internal/tcpserver"
)

func main() {
	configDir := flag.String("config", "", "directory holding config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		logger := logging.L()
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.Init(cfg.Log)
	logger.Info().
		Str("http_addr", cfg.Server.Port).
		Str("tcp_addr", cfg.TCP.Addr).
		Bool("tcp_enabled", cfg.TCP.Enabled).
		Msg("starting roomchat")

	hubLogger := logger.With().Str(logging.FieldComponent, "hub").Logger()
	hub := chat.NewHub(chat.HubConfig{
		Rooms: chat.RoomPolicy{
			DefaultRoom: cfg.Rooms.DefaultRoom,
			HistorySize: cfg.Rooms.HistorySize,
			AutoCreate:  cfg.Rooms.AutoCreate,
			DeleteEmpty: cfg.Rooms.DeleteEmpty,
		},
		ActivitySize: cfg.Activity.MaxEntries,
		Logger:       &hubLogger,
	})

	store, err := storage.NewLocalStorage(storage.LocalConfig{
		BasePath: cfg.Upload.Dir,
		MaxSize:  cfg.Upload.MaxSize,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.Upload.Dir).Msg("failed to prepare upload storage")
	}

	web := server.New(server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
		WriteWait:      cfg.WebSocket.WriteWait,
		RateBurst:      cfg.RateLimit.Burst,
		RateRefill:     cfg.RateLimit.RefillInterval,
		ReplayLimit:    cfg.Rooms.ReplayLimit,
		UploadMaxSize:  cfg.Upload.MaxSize,
	}, hub, store, logger)

	httpServer := server.CreateServer(server.HTTPConfig{
		Addr:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, web.SetupRoutes())

	// Binding either listener is the only fatal runtime error, so both are
	// bound before anything is served.
	httpListener, err := server.Listen(httpServer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bind HTTP listener")
	}
	logger.Info().Str("addr", httpListener.Addr().String()).Msg("http listening")

	var lines *tcpserver.Server
	if cfg.TCP.Enabled {
		dispatcher := command.New(hub,
			command.WithReplayLimit(cfg.Rooms.ReplayLimit),
			command.WithLogger(logger.With().Str(logging.FieldComponent, "command").Logger()),
		)
		lines = tcpserver.New(tcpserver.Config{
			Addr:          cfg.TCP.Addr,
			MaxLineLength: cfg.TCP.MaxLineLength,
			SendBuffer:    cfg.TCP.SendBuffer,
			WriteWait:     cfg.TCP.WriteWait,
			RateBurst:     cfg.RateLimit.Burst,
			RateRefill:    cfg.RateLimit.RefillInterval,
		}, hub, dispatcher, logger)
		if err := lines.Listen(); err != nil {
			logger.Fatal().Err(err).Msg("failed to bind line transport")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		return server.StartServer(httpServer, httpListener)
	})
	if lines != nil {
		g.Go(func() error {
			return lines.Serve(ctx)
		})
	}
	go func() {
		if err := g.Wait(); err != nil {
			logger.Error().Err(err).Msg("listener stopped")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomchat": func(ctx context.Context) error {
				logger.Info().Msg("graceful shutdown initiated")
				defer cancel()

				if err := hub.Shutdown(ctx); err != nil {
					logger.Warn().Err(err).Msg("hub shutdown incomplete")
				}
				if lines != nil {
					if err := lines.Shutdown(ctx); err != nil {
						logger.Warn().Err(err).Msg("line transport shutdown incomplete")
					}
				}
				if err := web.Shutdown(ctx); err != nil {
					logger.Warn().Err(err).Msg("websocket shutdown incomplete")
				}
				return server.ShutdownServer(ctx, httpServer)
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("exit_code", exitCode).Msg("roomchat stopped")
	os.Exit(exitCode)
}
