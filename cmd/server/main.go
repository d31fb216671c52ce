package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sokoni/auction-engine/internal/auction"
	"github.com/sokoni/auction-engine/internal/auth"
	"github.com/sokoni/auction-engine/internal/bidding"
	"github.com/sokoni/auction-engine/internal/config"
	"github.com/sokoni/auction-engine/internal/database"
	"github.com/sokoni/auction-engine/internal/escrow"
	"github.com/sokoni/auction-engine/internal/events"
	"github.com/sokoni/auction-engine/internal/fees"
	"github.com/sokoni/auction-engine/internal/ledger"
	"github.com/sokoni/auction-engine/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the auction engine with graceful shutdown
// support. It sets up all required services, the background processors
// and API routes.
func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	// The recorder and lock table are shared so every service appends to
	// the same outbox and serializes on the same per-auction locks.
	recorder := events.NewRecorder()
	locks := bidding.NewLockTable()
	calc := fees.NewCalculator(cfg.FeeRateBps, cfg.BurnShareBps)

	engine := bidding.NewEngine(db, ledgerService.Database(), recorder, locks, cfg.SnipeWindow, cfg.SnipeExtension)
	biddingHandlers := bidding.NewGinHandlers(engine)

	escrowService := escrow.NewService(db, ledgerService.Database(), calc, recorder, cfg.DeliveryWindow, cfg.AutoReleaseEnabled)
	escrowHandlers := escrow.NewGinHandlers(escrowService)

	auctionService := auction.NewService(db, ledgerService.Database(), escrowService, recorder, locks)
	auctionHandlers := auction.NewGinHandlers(auctionService)

	eventService := events.NewService(db)
	eventHandlers := events.NewGinHandlers(eventService)

	// Event publisher: NATS when configured, the log otherwise
	var publisher events.Publisher
	if cfg.NATSUrl != "" {
		publisher, err = events.NewNATSPublisher(cfg.NATSUrl)
		if err != nil {
			log.Error().Err(err).Msg("NATS unavailable, falling back to log publisher")
			publisher = events.NewLogPublisher()
		}
	} else {
		publisher = events.NewLogPublisher()
	}
	defer publisher.Close()

	// Create and start background processors
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	dispatcher := events.NewDispatcher(eventService.Database(), publisher, cfg.DispatchInterval)
	go dispatcher.Start(processorCtx)

	closeProcessor := auction.NewProcessor(auctionService, cfg.CloseSweepInterval)
	go closeProcessor.Start(processorCtx)

	releaseProcessor := escrow.NewProcessor(escrowService, cfg.ReleaseSweepInterval, cfg.AutoReleaseEnabled)
	go releaseProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg, authHandlers, auctionHandlers, biddingHandlers, ledgerHandlers, escrowHandlers, eventHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Called by the gateway with the internal API key
// - Auction, ledger and escrow routes: Protected by JWT authentication
// - Dispute and event routes: Additionally require the admin role
// - Internal routes: Protected by the internal API key
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	auctionHandlers *auction.GinHandlers,
	biddingHandlers *bidding.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	escrowHandlers *escrow.GinHandlers,
	eventHandlers *events.GinHandlers,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := v1.Group("/auth")
		authRoutes.Use(middleware.InternalAuth(cfg.InternalAPIKey))
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Auction routes
		auctions := v1.Group("/auctions")
		auctions.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			auctions.POST("", auctionHandlers.CreateAuctionHandler())
			auctions.GET("", auctionHandlers.ListAuctionsHandler())
			auctions.GET("/:auction_id", auctionHandlers.GetAuctionHandler())
			auctions.GET("/:auction_id/bids", biddingHandlers.GetBidsHandler())
			auctions.POST("/:auction_id/bids", biddingHandlers.PlaceBidHandler())
			auctions.POST("/:auction_id/buy-now", auctionHandlers.BuyNowHandler())
			auctions.POST("/:auction_id/close", auctionHandlers.CloseAuctionHandler())
			auctions.POST("/:auction_id/cancel", auctionHandlers.CancelAuctionHandler())
			auctions.POST("/:auction_id/activate", middleware.AdminAuth(), auctionHandlers.ActivateAuctionHandler())
		}

		// Ledger routes
		ledgerRoutes := v1.Group("/ledger")
		ledgerRoutes.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			ledgerRoutes.GET("/balance", ledgerHandlers.GetBalanceHandler())
			ledgerRoutes.GET("/entries", ledgerHandlers.GetEntriesHandler())
			ledgerRoutes.GET("/supply", middleware.AdminAuth(), ledgerHandlers.GetSupplyHandler())
		}

		// Escrow routes
		escrows := v1.Group("/escrows")
		escrows.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			escrows.GET("", escrowHandlers.ListEscrowsHandler())
			escrows.GET("/:escrow_id", escrowHandlers.GetEscrowHandler())
			escrows.POST("/:escrow_id/delivered", escrowHandlers.MarkDeliveredHandler())
			escrows.POST("/:escrow_id/confirm", escrowHandlers.ConfirmDeliveryHandler())
			escrows.POST("/:escrow_id/dispute", escrowHandlers.FileDisputeHandler())
		}

		// Dispute administration
		disputes := v1.Group("/disputes")
		disputes.Use(middleware.JWTAuth(cfg.JWTSecret), middleware.AdminAuth())
		{
			disputes.GET("", escrowHandlers.ListDisputesHandler())
			disputes.GET("/:dispute_id", escrowHandlers.GetDisputeHandler())
			disputes.POST("/:dispute_id/assign", escrowHandlers.AssignDisputeHandler())
			disputes.POST("/:dispute_id/resolve", escrowHandlers.ResolveDisputeHandler())
			disputes.POST("/:dispute_id/close", escrowHandlers.CloseDisputeHandler())
		}

		// Event feed for operators
		eventRoutes := v1.Group("/events")
		eventRoutes.Use(middleware.JWTAuth(cfg.JWTSecret), middleware.AdminAuth())
		{
			eventRoutes.GET("", eventHandlers.GetEventsHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.InternalAPIKey))
		{
			internal.POST("/ledger/credit", ledgerHandlers.CreditHandler())
		}
	}
}
