package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"gomatter/internal"
	"gomatter/internal/config"
	"gomatter/internal/container"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := internal.NewLogger(internal.ParseLogLevel(appConfig.Server.LogLevel))
	defer logger.Sync()

	if appConfig.Server.GinMode != "" {
		gin.SetMode(appConfig.Server.GinMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(ctx, appConfig, logger)
	if err != nil {
		log.Fatalf("Failed to create application container: %v", err)
	}

	if err := appContainer.StartRuleWatcher(ctx); err != nil {
		logger.Warn("Rule watcher disabled: %v", err)
	}

	server := appContainer.NewServer()
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + appConfig.Server.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed: %v", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown: %v", err)
	}
	if err := appContainer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Container shutdown: %v", err)
	}
}
