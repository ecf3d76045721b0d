package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"twitch-chat-client/auth"
	"twitch-chat-client/bridge"
	"twitch-chat-client/config"
	"twitch-chat-client/events"
	"twitch-chat-client/httpapi"
	"twitch-chat-client/logging"
	"twitch-chat-client/service"
	"twitch-chat-client/storage"
	"twitch-chat-client/telemetry"
	"twitch-chat-client/tokens"
	"twitch-chat-client/twitch"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "console")
		bootLogger.Fatal().Err(err).Msg("не удалось загрузить конфигурацию")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("сервис завершился с ошибкой")
	}
	logger.Info().Msg("завершение работы...")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("twitch-chat-client", version, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("трейсинг выключен")
	} else {
		defer shutdownTracing()
	}

	if cfg.Twitch.OAuthToken == "" && cfg.Twitch.TokenFile != "" {
		loadStoredToken(ctx, &cfg.Twitch, logger)
	}

	client := twitch.NewClient(cfg.Twitch, logger)
	defer client.Close()
	srv := service.New(client, logger)

	if cfg.Postgres.Enabled() {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := storage.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		batcher := storage.NewBatcher(ctx, pool, storage.BatchConfig{
			MaxBatch:      cfg.Batch.MaxBatch,
			FlushEvery:    cfg.Batch.FlushEvery,
			ChanBuffer:    cfg.Batch.ChanBuffer,
			StatsLogEvery: cfg.Batch.StatsLogEvery,
			FlushTimeout:  cfg.Batch.FlushTimeout,
		}, logger)
		defer func() {
			select {
			case <-batcher.Done():
			case <-time.After(cfg.Batch.FlushTimeout):
				logger.Warn().Msg("батчер не успел сделать финальный флаш")
			}
		}()

		handler := service.NewHandler(batcher, pool, cfg.Batch.FlushTimeout, logger)
		srv.Attach(handler.Handle, handler.Kinds()...)
	} else {
		srv.Attach(service.NewLogHandler(logger), events.KindMessage, events.KindRoomState, events.KindChannelJoined, events.KindChannelParted)
	}

	if cfg.Redis.Enabled() {
		rb := bridge.NewRedisBridge(bridge.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, logger)
		if err := rb.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("мост в redis выключен")
		} else {
			defer rb.Stop()
			srv.Attach(rb.Handle)
		}
	}

	if cfg.Metrics.Addr != "" {
		httpSrv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           httpapi.NewRouter(client, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("http сервер слушает")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("ошибка http сервера")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	return srv.Run(ctx)
}

// loadStoredToken подставляет токен, сохранённый командой twitch-auth.
func loadStoredToken(ctx context.Context, tc *config.TwitchConfig, logger zerolog.Logger) {
	manager := tokens.NewChatTokenManager(tokens.FileTokenStore{Path: tc.TokenFile}, func(ctx context.Context, token string) (string, time.Duration, error) {
		v, err := auth.ValidateToken(ctx, token)
		return v.Login, v.ExpiresIn, err
	})
	tok, err := manager.Get(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info().Str("path", tc.TokenFile).Msg("сохранённого токена нет, вход анонимный")
			return
		}
		logger.Warn().Err(err).Msg("сохранённый токен не подходит, вход анонимный")
		return
	}
	tc.OAuthToken = tok.Access
	if tc.Username == "" {
		tc.Username = tok.Login
	}
	logger.Info().Str("login", tc.Username).Time("expires_at", tok.ExpiresAt).Msg("используется сохранённый токен чата")
}
