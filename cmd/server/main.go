package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	"github.com/treasurydesk/backend/internal/config"
	"github.com/treasurydesk/backend/internal/database"
	"github.com/treasurydesk/backend/internal/directory"
	"github.com/treasurydesk/backend/internal/ledger"
	mW "github.com/treasurydesk/backend/internal/middleware"
	"github.com/treasurydesk/backend/internal/permissions"
	"github.com/treasurydesk/backend/internal/services"
)

// @title Treasury Desk API
// @version 1.0
// @description Multi-account balance and operation grouping engine
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	cfg := config.LoadLedgerConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	store := ledger.NewPostgresStore(db)
	engine := ledger.NewEngine(store, cfg.LockMaxWait, cfg.RetryAttempts, cfg.RetryBackoff)
	accounts := ledger.NewAccounts(engine)
	dir := directory.New(db, redisClient, cfg.DirectoryTTL)
	grouper := ledger.NewGrouper(store, dir)
	pending := ledger.NewPendingLedger(store, dir)
	oracle := permissions.NewSQLOracle(db)

	accountService := services.NewAccountService(accounts, oracle)
	transactionService := services.NewTransactionService(engine, grouper, oracle, cfg.ListLimit)
	operationService := services.NewOperationService(grouper)
	pendingService := services.NewPendingEntryService(pending)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/accounts", accountService.ListAccounts)
			r.Post("/accounts", accountService.CreateAccount)
			r.Get("/accounts/{accountId}", accountService.GetAccount)
			r.Patch("/accounts/{accountId}", accountService.PatchAccount)
			r.Delete("/accounts/{accountId}", accountService.DeleteAccount)
			r.Post("/accounts/{accountId}/adjust-balance", accountService.AdjustBalance)

			r.Get("/transactions", transactionService.ListTransactions)
			r.Post("/transactions/deposit", transactionService.Deposit)
			r.Post("/transactions/withdrawal", transactionService.Withdrawal)
			r.Post("/transactions/transfer", transactionService.Transfer)
			r.Post("/transactions/confirming-settlement", transactionService.ConfirmingSettlement)
			r.Get("/transactions/{transactionId}", transactionService.GetTransaction)
			r.Patch("/transactions/{transactionId}", transactionService.EditTransaction)
			r.Delete("/transactions/{transactionId}", transactionService.DeleteTransaction)
			r.Get("/transactions/{transactionId}/can-edit", transactionService.CanEditTransaction)
			r.Put("/transactions/{transactionId}/operation", transactionService.AssignOperation)

			r.Get("/operations", operationService.ListOperations)
			r.Post("/operations", operationService.CreateOperation)
			r.Get("/operations/summary/dashboard", operationService.Dashboard)
			r.Get("/operations/summary/groups-balance", operationService.GroupsBalance)
			r.Get("/operations/{operationId}", operationService.GetOperation)
			r.Patch("/operations/{operationId}", operationService.PatchOperation)
			r.Delete("/operations/{operationId}", operationService.DeleteOperation)
			r.Get("/operations/{operationId}/flow", operationService.OperationFlow)

			r.Get("/pending-entries", pendingService.ListPendingEntries)
			r.Post("/pending-entries", pendingService.CreatePendingEntry)
			r.Get("/pending-entries/summary/groups", pendingService.PendingSummary)
			r.Get("/pending-entries/{entryId}", pendingService.GetPendingEntry)
			r.Post("/pending-entries/{entryId}/settle", pendingService.SettlePendingEntry)
			r.Post("/pending-entries/{entryId}/unsettle", pendingService.UnsettlePendingEntry)
			r.Delete("/pending-entries/{entryId}", pendingService.DeletePendingEntry)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
