package main

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	"github.com/christopherjohns/pollchat/internal/config"
	"github.com/christopherjohns/pollchat/internal/server"
	"github.com/christopherjohns/pollchat/internal/storage"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var backend storage.Backend
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		backend = storage.NewRedisBackend(rdb, cfg.BackendTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := backend.Ping(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		log.Printf("Connected to Redis at %s", cfg.RedisAddr)
	} else {
		backend = storage.NewMemoryBackend()
		log.Printf("REDIS_ADDR not set, storing messages in memory")
	}

	srv := server.New(cfg.ListenAddr, backend,
		server.WithCapacity(cfg.MessageCapacity),
		server.WithRateLimit(cfg.RateLimit.Max, cfg.RateLimit.Window),
		server.WithMaxStreamConns(cfg.MaxStreamConns),
	)

	go func() {
		log.Printf("Starting pollchat server on %s", cfg.ListenAddr)
		if err := srv.Run(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	var store io.Closer
	if rdb != nil {
		store = rdb
	}
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		shutdownOperations(srv.Shutdown, store),
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}

// shutdownOperations stops the HTTP server before closing the Redis client,
// which the hub's subscriptions still use while draining.
func shutdownOperations(stop func(context.Context) error, store io.Closer) map[string]gfshutdown.Operation {
	return map[string]gfshutdown.Operation{
		"http-server": func(ctx context.Context) error {
			err := stop(ctx)
			if store != nil {
				if cerr := store.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}
			return err
		},
	}
}
