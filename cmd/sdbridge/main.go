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
	"github.com/slack-go/slack"
	"gorm.io/gorm/logger"

	"github.com/sdbridge/sdbridge/internal/chat"
	"github.com/sdbridge/sdbridge/internal/config"
	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/database"
	"github.com/sdbridge/sdbridge/internal/escalation"
	"github.com/sdbridge/sdbridge/internal/eventlog"
	"github.com/sdbridge/sdbridge/internal/filterstore"
	"github.com/sdbridge/sdbridge/internal/handlers"
	"github.com/sdbridge/sdbridge/internal/middleware"
	"github.com/sdbridge/sdbridge/internal/notify"
	"github.com/sdbridge/sdbridge/internal/poller"
	"github.com/sdbridge/sdbridge/internal/routing"
	"github.com/sdbridge/sdbridge/internal/servicedir"
	"github.com/sdbridge/sdbridge/internal/statestore"
	"github.com/sdbridge/sdbridge/internal/ticketing"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting sdbridge...")

	// Hash the admin password
	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("Failed to hash admin password: %v", err)
	}

	jwtAuthMiddleware := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
	})
	log.Printf("JWT authentication enabled for user: %s", cfg.AdminUsername)

	// Initialize database connection and run migrations
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Chat delivery and admin alerting
	slackClient := slack.New(cfg.SlackBotToken)
	sender := chat.NewSlackSender(slackClient)

	var alerter *notify.AdminAlerter
	if cfg.AdminAlertChannel != "" {
		alerter = notify.NewAdminAlerter(sender, routing.Destination{
			ChannelID: cfg.AdminAlertChannel,
			ThreadID:  cfg.AdminAlertThread,
		}, cfg.AdminAlertMinInterval)
		log.Printf("Admin alerts go to %s", cfg.AdminAlertChannel)
	} else {
		log.Println("ADMIN_ALERT_CHANNEL not set, admin alerts disabled")
	}

	// State store: Redis primary with transparent in-memory fallback.
	// Without REDIS_URL state lives in memory only and a restart loses
	// the seen-set (duplicate notifications, never lost tracking).
	var stateStore *statestore.ResilientStore
	if cfg.RedisURL != "" {
		redisStore, err := statestore.NewRedisStore(cfg.RedisURL, cfg.StatePrefix, cfg.RedisTimeout)
		if err != nil {
			log.Fatalf("Failed to configure Redis state store: %v", err)
		}
		stateStore = statestore.NewResilientStore(redisStore, statestore.NewMemoryStore(), alerterOrNil(alerter))
		log.Printf("State store: redis (prefix %s)", cfg.StatePrefix)
	} else {
		stateStore = statestore.NewResilientStore(statestore.NewMemoryStore(), statestore.NewMemoryStore(), nil)
		log.Println("State store: memory (REDIS_URL not set)")
	}

	// Probe the backend once up front so a dead Redis is flagged before
	// the first poll cycle, and a stale degraded flag is cleared.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	stateStore.Ping(pingCtx)
	pingCancel()

	// Versioned configuration
	fallback, err := configstore.LoadFallbackPayload(cfg.FallbackConfigPath)
	if err != nil {
		log.Fatalf("Failed to load fallback configuration: %v", err)
	}
	cfgStore := configstore.NewStore(database.GetDB(), fallback)
	runtime := configstore.NewRuntime(cfgStore, cfg.ConfigRefreshTTL, alerterOrNil(alerter))

	// Ticketing backend client
	ticketClient := ticketing.NewClient(cfg.TicketingBaseURL, cfg.TicketingLogin, cfg.TicketingPassword, cfg.OpenStatusID, cfg.TicketingTimeout)

	// Delivery pipeline
	notifier := notify.NewNotifier(sender, cfg.MinNotifyInterval, cfg.MaxItemsInMessage, cfg.NotifyMaxAttempts, cfg.NotifyRetryBackoff, alerter)
	tracker := escalation.NewTracker(stateStore, notifier)
	icons := servicedir.NewDirectory(database.GetDB(), 5*time.Minute)

	ticketPoller := poller.NewTicketPoller(ticketClient, stateStore, runtime, notifier, alerter, tracker, icons, cfg.PollInterval, cfg.MaxBackoff)
	eventlogProcessor := eventlog.NewProcessor(ticketClient, stateStore, runtime, filterstore.NewStore(database.GetDB()),
		notifier, alerter, cfg.EventlogPollInterval, cfg.EventlogBatchSize, cfg.EventlogKeepaliveEvery, cfg.EventlogStartID)

	// HTTP API
	mux := http.NewServeMux()
	handlers.NewAuthHandler(jwtAuthMiddleware, cfg.JWTExpiryHours).SetupRoutes(mux)
	handlers.NewConfigHandler(cfgStore, runtime, jwtAuthMiddleware, alerter, cfg.ConfigReadToken).SetupRoutes(mux)
	handlers.NewDebugHandler(ticketClient, runtime, jwtAuthMiddleware).SetupRoutes(mux)
	handlers.NewHealthHandler(database.GetDB(), stateStore, runtime, notifier, alerter).SetupRoutes(mux)

	corsMiddleware := middleware.NewCORSMiddleware()
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      middleware.RequestIDMiddleware(corsMiddleware.Wrap(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on :%d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Start the pollers. Each owns distinct StateStore keys; run a single
	// process instance per queue.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	pollerDone := make(chan struct{})
	eventlogDone := make(chan struct{})
	go ticketPoller.Run(ctx, stop, pollerDone)
	go eventlogProcessor.Run(ctx, stop, eventlogDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal, cleaning up...")

	// Let in-flight poll cycles finish and persist their cursor/seen-set
	// before exiting.
	close(stop)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	for _, done := range []<-chan struct{}{pollerDone, eventlogDone} {
		select {
		case <-done:
		case <-waitCtx.Done():
			log.Println("Timed out waiting for pollers to finish")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
	log.Println("Shutdown complete")
}

// alerterOrNil avoids handing a typed-nil *AdminAlerter to interface
// fields.
func alerterOrNil(a *notify.AdminAlerter) statestore.Alerter {
	if a == nil {
		return nil
	}
	return a
}
