package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fintrack/backend/internal/config"
	"fintrack/backend/internal/httpapi"
	"fintrack/backend/internal/notify"
	"fintrack/backend/internal/service"
	"fintrack/backend/internal/store"
	"fintrack/backend/internal/store/memory"
	pgstore "fintrack/backend/internal/store/postgres"
	sqlitestore "fintrack/backend/internal/store/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading configuration from environment")
	}

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("invalid ledger timezone: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var feed store.ChangeFeed = notify.NewMemory()
	if cfg.RedisAddr != "" {
		redisFeed := notify.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannelPrefix)
		if err := redisFeed.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using in-process change feed", err)
			_ = redisFeed.Close()
		} else {
			feed = redisFeed
			closers = append(closers, redisFeed.Close)
			log.Println("change feed: redis")
		}
	} else {
		log.Println("change feed: in-process")
	}

	svc := service.New(repo, feed, service.Options{Location: loc})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("fintrack backend listening on %s (ledger timezone %s)", cfg.Address(), loc)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// openRepository picks postgres, then sqlite, then the seeded in-memory store.
// A configured backend that fails to open is fatal rather than silently
// replaced by memory.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		log.Println("repository: postgres")
		return pg, pg.Close, nil
	case cfg.SQLitePath != "":
		db, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite unavailable at %s: %w", cfg.SQLitePath, err)
		}
		log.Printf("repository: sqlite (%s)", cfg.SQLitePath)
		return db, db.Close, nil
	default:
		log.Println("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AccessTokenTTLMinutes > 7*24*60 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must not exceed one week")
	}
	return nil
}
