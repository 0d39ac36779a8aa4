// Command applock-mockapi serves the mock auth backend over HTTP.
//
// Environment (a .env file in the working directory is loaded first):
//
//	MOCKAPI_SECRET  HS256 signing secret (required, at least 16 bytes)
//	REDIS_ADDR      enables the failed-login limiter when set
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/applock"
	"github.com/MrEthical07/applock/internal/mockapi"
	"github.com/MrEthical07/applock/internal/rate"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	var (
		addr        = flag.String("addr", ":8085", "listen address")
		tokenTTL    = flag.Duration("token-ttl", 30*time.Minute, "access token lifetime")
		maxAttempts = flag.Int("max-attempts", 5, "failed logins per username per window (needs REDIS_ADDR)")
		window      = flag.Duration("window", time.Minute, "failed login window")
		logLevel    = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
		os.Exit(1)
	}

	log, err := applock.NewLogger(*logLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	secret := os.Getenv("MOCKAPI_SECRET")
	if len(secret) < 16 {
		log.Fatal("MOCKAPI_SECRET must be set to at least 16 bytes")
	}

	cfg := mockapi.Config{
		Secret:   []byte(secret),
		TokenTTL: *tokenTTL,
		Logger:   log.Named("mockapi"),
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{redisAddr}})
		defer func() { _ = client.Close() }()
		cfg.Limiter = rate.New(client, rate.Config{MaxAttempts: *maxAttempts, Window: *window})
		log.Info("failed-login limiter enabled", zap.String("redis", redisAddr))
	}

	srv, err := mockapi.New(cfg)
	if err != nil {
		log.Fatal("failed to build mock backend", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("mock backend listening", zap.String("addr", *addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// SIGUSR1 toggles the simulated outage.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	down := false
	for s := range sig {
		if s == syscall.SIGUSR1 {
			down = !down
			srv.SetDown(down)
			log.Info("outage toggled", zap.Bool("down", down))
			continue
		}
		break
	}
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}
