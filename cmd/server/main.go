// Command server starts the realtime chat server.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/attachment"
	"github.com/Tyrowin/nexus-chat-server/internal/auth"
	"github.com/Tyrowin/nexus-chat-server/internal/migrate"
	"github.com/Tyrowin/nexus-chat-server/internal/repository"
	"github.com/Tyrowin/nexus-chat-server/internal/repository/postgres"
	"github.com/Tyrowin/nexus-chat-server/internal/repository/sqlite"
	"github.com/Tyrowin/nexus-chat-server/internal/server"
	"github.com/Tyrowin/nexus-chat-server/internal/service"
)

const shutdownTimeout = 5 * time.Second

type stores struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	closer   io.Closer
}

func main() {
	cfg := server.NewConfigFromEnv()

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting", zap.String("addr", cfg.Port))

	if cfg.JWTSecret == "" {
		logger.Fatal("missing token signing key (JWT_SECRET)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.closer.Close()

	uploads, err := attachment.NewDiskStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal("attachment store", zap.Error(err))
	}

	tokens := auth.NewTokenCodec([]byte(cfg.JWTSecret), cfg.TokenTTL)
	srv := server.New(*cfg, server.Deps{
		Logger:      logger,
		Tokens:      tokens,
		Accounts:    service.NewAuthService(st.users, tokens),
		Messages:    service.NewMessageService(st.messages, st.users),
		Attachments: uploads,
	})
	srv.StartHub()

	httpServer := server.CreateServer(cfg.Port, srv.Handler())
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}

	if err := srv.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := srv.Hub().Shutdown(shutdownTimeout); err != nil {
		logger.Error("hub shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// openStores selects the backend by DSN scheme: postgres:// or postgresql://
// use PostgreSQL (after migrations), sqlite:// uses an embedded database.
func openStores(ctx context.Context, dsn string, logger *zap.Logger) (stores, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if err := migrate.Up(ctx, dsn); err != nil {
			return stores{}, err
		}
		db, err := postgres.New(ctx, dsn)
		if err != nil {
			return stores{}, err
		}
		logger.Info("using postgres store")
		return stores{users: postgres.NewUserRepo(db), messages: postgres.NewMessageRepo(db), closer: db}, nil
	}

	path := strings.TrimPrefix(dsn, "sqlite://")
	db, err := sqlite.New(path)
	if err != nil {
		return stores{}, err
	}
	logger.Info("using sqlite store", zap.String("path", path))
	return stores{users: sqlite.NewUserRepo(db), messages: sqlite.NewMessageRepo(db), closer: db}, nil
}
