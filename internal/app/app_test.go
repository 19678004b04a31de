package app

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadimbarashkov/short-url-service/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	testCases := []struct {
		level   string
		want    slog.Level
		wantErr bool
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "INFO", want: slog.LevelInfo},
		{level: "warn", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
		{level: "verbose", want: slog.LevelInfo, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			got, err := parseLogLevel(tc.level)

			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("invalid level", func(t *testing.T) {
		logger, err := newLogger(config.Log{Level: "loud"})

		assert.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("success", func(t *testing.T) {
		logger, err := newLogger(config.Log{Level: "warn", JSON: true})

		require.NoError(t, err)
		assert.NotNil(t, logger.Logger)
	})
}

func TestNewRepository(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		cfg := &config.Config{Storage: config.Storage{Driver: "cassandra"}}

		repo, closeRepo, err := newRepository(context.Background(), cfg)

		assert.ErrorContains(t, err, "unknown storage driver")
		assert.Nil(t, repo)
		assert.Nil(t, closeRepo)
	})

	t.Run("memory", func(t *testing.T) {
		cfg := &config.Config{Storage: config.Storage{Driver: config.StorageMemory}}

		repo, closeRepo, err := newRepository(context.Background(), cfg)
		require.NoError(t, err)

		url, err := repo.Save(context.Background(), "abc123", "https://example.com")
		require.NoError(t, err)
		assert.Equal(t, "abc123", url.ShortCode)

		assert.NoError(t, closeRepo())
	})
}

func TestShutdownServer(t *testing.T) {
	t.Run("idle server", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		server := &http.Server{Handler: http.NotFoundHandler()}
		go server.Serve(ln)

		assert.NoError(t, shutdownServer(server, time.Second))
	})

	t.Run("hung request", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		started := make(chan struct{})
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })

		server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(started)
			<-release
		})}
		go server.Serve(ln)

		go http.Get("http://" + ln.Addr().String())
		<-started

		begin := time.Now()
		err = shutdownServer(server, 50*time.Millisecond)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(begin), 5*time.Second)
	})
}
