// Package main runs the geoharvest catalogue server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/geoharvest/internal/app/runtime"
	"github.com/R3E-Network/geoharvest/internal/config"
	"github.com/R3E-Network/geoharvest/internal/middleware"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

func main() {
	issueFor := flag.String("issue-token", "", "Print an API token for the given user and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if *issueFor != "" {
		if cfg.Auth.JWTSecret == "" {
			log.Fatal("API_JWT_SECRET must be set to issue tokens")
		}
		token, err := middleware.IssueToken(cfg.Auth.JWTSecret, *issueFor, *tokenTTL)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	appLog := logger.New(runtime.LoggingConfig(cfg.Logging))
	application, err := runtime.NewApplication(cfg, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("failed to initialise application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		appLog.WithError(err).Error("server stopped")
	}

	appLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Error("shutdown error")
		os.Exit(1)
	}
	appLog.Info("stopped")
}
