package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/vadimbarashkov/short-url-service/internal/config"
	"github.com/vadimbarashkov/short-url-service/internal/entity"
	"github.com/vadimbarashkov/short-url-service/internal/shortcode"
	"github.com/vadimbarashkov/short-url-service/internal/usecase"
	"github.com/vadimbarashkov/short-url-service/pkg/postgres"
	"github.com/vadimbarashkov/short-url-service/pkg/redis"
	"golang.org/x/sync/errgroup"

	delivery "github.com/vadimbarashkov/short-url-service/internal/adapter/delivery/http"
	memoryRepo "github.com/vadimbarashkov/short-url-service/internal/adapter/repository/memory"
	postgresRepo "github.com/vadimbarashkov/short-url-service/internal/adapter/repository/postgres"
	redisRepo "github.com/vadimbarashkov/short-url-service/internal/adapter/repository/redis"
)

const serviceName = "short-url-service"

type urlRepository interface {
	Save(ctx context.Context, shortCode, originalURL string) (*entity.URL, error)
	RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.URL, error)
	RetrieveAndUpdateStats(ctx context.Context, shortCode string) (*entity.URL, error)
	Update(ctx context.Context, shortCode, originalURL string) (*entity.URL, error)
	Remove(ctx context.Context, shortCode string) error
	List(ctx context.Context) ([]*entity.URL, error)
}

func parseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}

func newLogger(cfg config.Log) (*httplog.Logger, error) {
	const op = "app.newLogger"

	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid log level: %w", op, err)
	}

	return httplog.NewLogger(serviceName, httplog.Options{
		JSON:             cfg.JSON,
		LogLevel:         level,
		Concise:          !cfg.JSON,
		MessageFieldName: "msg",
		Writer:           os.Stdout,
	}), nil
}

// newRepository opens the storage backend selected by cfg.Storage.Driver.
// The returned close function releases the underlying connections.
func newRepository(ctx context.Context, cfg *config.Config) (urlRepository, func() error, error) {
	const op = "app.newRepository"

	switch cfg.Storage.Driver {
	case config.StorageMemory:
		repo := memoryRepo.NewURLRepository()
		return repo, repo.Close, nil

	case config.StoragePostgres:
		db, err := postgres.New(
			ctx,
			cfg.Postgres.DSN(),
			postgres.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
			postgres.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
			postgres.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
			postgres.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: failed to connect to database: %w", op, err)
		}

		if err := postgres.RunMigrations(cfg.Postgres.MigrationsPath, cfg.Postgres.DSN()); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("%s: failed to run migrations: %w", op, err)
		}

		return postgresRepo.NewURLRepository(db), db.Close, nil

	case config.StorageRedis:
		client, err := redis.New(
			ctx,
			cfg.Redis.Addr(),
			redis.WithPassword(cfg.Redis.Password),
			redis.WithDB(cfg.Redis.DB),
			redis.WithPoolSize(cfg.Redis.PoolSize),
			redis.WithTimeouts(cfg.Redis.DialTimeout, cfg.Redis.ReadTimeout, cfg.Redis.WriteTimeout),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: failed to connect to redis: %w", op, err)
		}

		return redisRepo.NewURLRepository(client), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("%s: unknown storage driver %q", op, cfg.Storage.Driver)
	}
}

// shutdownServer stops server gracefully, giving in-flight requests at most timeout to finish.
// Connections still open after that are closed forcibly.
func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return errors.Join(err, server.Close())
	}

	return nil
}

func Run(ctx context.Context, cfg *config.Config) error {
	const op = "app.Run"

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	urlRepo, closeRepo, err := newRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := closeRepo(); err != nil {
			logger.Error("failed to close storage", slog.String("err", err.Error()))
		}
	}()

	urlUseCase := usecase.NewURLUseCase(
		urlRepo,
		shortcode.New(shortcode.DefaultLength),
		usecase.WithMaxRetries(cfg.ShortCode.MaxRetries),
		usecase.WithLogger(logger.Logger),
	)

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        delivery.NewRouter(logger, urlUseCase),
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("env", cfg.Env),
			slog.String("addr", server.Addr),
			slog.String("storage", cfg.Storage.Driver),
		)

		var err error

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: server error occurred: %w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("shutting down server")

		if err := shutdownServer(server, cfg.HTTPServer.ShutdownTimeout); err != nil {
			return fmt.Errorf("%s: failed to shutdown server: %w", op, err)
		}

		return nil
	})

	return g.Wait()
}
