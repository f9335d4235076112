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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/timebank/backend/docs"
	"github.com/timebank/backend/internal/database"
	"github.com/timebank/backend/internal/handlers"
	mW "github.com/timebank/backend/internal/middleware"
	"github.com/timebank/backend/internal/services"
)

// @title Time Bank Backend API
// @version 1.0
// @description API for a community time-banking credit ledger
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
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Time Bank Backend API"
	docs.SwaggerInfo.Description = "API for a community time-banking credit ledger"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	events := services.NewEventPublisher(redisClient)

	ledgerService := services.NewLedgerService(db, events)
	exchangeService := services.NewExchangeService(db, events)
	escrowService := services.NewEscrowService(db, ledgerService, events)
	governanceService := services.NewGovernanceService(db, events)
	rewardsService := services.NewRewardsService(db, ledgerService, events)
	inviteService := services.NewInviteService(db, redisClient)
	authService := services.NewAuthService(db, redisClient, ledgerService)

	ledgerHandler := handlers.NewLedgerHandler(ledgerService)
	exchangeHandler := handlers.NewExchangeHandler(exchangeService)
	escrowHandler := handlers.NewEscrowHandler(escrowService)
	governanceHandler := handlers.NewGovernanceHandler(governanceService)
	rewardsHandler := handlers.NewRewardsHandler(rewardsService)
	inviteHandler := handlers.NewInviteHandler(inviteService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/signup", authService.Signup)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			// Ledger endpoints
			r.Post("/ledger/register", ledgerHandler.Register)
			r.Post("/ledger/transfer", ledgerHandler.Transfer)
			r.Post("/ledger/mint", ledgerHandler.Mint)
			r.Post("/ledger/burn", ledgerHandler.Burn)
			r.Post("/ledger/active", ledgerHandler.SetActive)
			r.Post("/ledger/pause", ledgerHandler.TogglePause)
			r.Get("/ledger/stats", ledgerHandler.GetStats)
			r.Get("/ledger/accounts/{principal}", ledgerHandler.GetAccount)
			r.Get("/ledger/accounts/{principal}/balance", ledgerHandler.GetBalance)
			r.Get("/ledger/accounts/{principal}/active", ledgerHandler.GetActive)

			// Exchange endpoints
			r.Post("/exchanges", exchangeHandler.Create)
			r.Get("/exchanges/stats", exchangeHandler.GetStats)
			r.Get("/exchanges/{id}", exchangeHandler.Get)
			r.Get("/exchanges/{id}/status", exchangeHandler.GetStatus)
			r.Post("/exchanges/{id}/accept", exchangeHandler.Accept)
			r.Post("/exchanges/{id}/confirm", exchangeHandler.Confirm)
			r.Post("/exchanges/{id}/cancel", exchangeHandler.Cancel)
			r.Post("/exchanges/{id}/review", exchangeHandler.Review)

			// Escrow endpoints
			r.Post("/escrows", escrowHandler.Create)
			r.Get("/escrows/stats", escrowHandler.GetStats)
			r.Get("/escrows/{id}", escrowHandler.Get)
			r.Post("/escrows/{id}/release", escrowHandler.Release)
			r.Post("/escrows/{id}/dispute", escrowHandler.Dispute)
			r.Post("/escrows/{id}/resolve", escrowHandler.Resolve)

			// Governance endpoints
			r.Post("/governance/power", governanceHandler.SetPower)
			r.Get("/governance/power/{principal}", governanceHandler.GetPower)
			r.Get("/governance/stats", governanceHandler.GetStats)
			r.Post("/governance/proposals", governanceHandler.Propose)
			r.Get("/governance/proposals/{id}", governanceHandler.Get)
			r.Post("/governance/proposals/{id}/vote", governanceHandler.Vote)
			r.Get("/governance/proposals/{id}/votes/{principal}", governanceHandler.GetVote)
			r.Post("/governance/proposals/{id}/finalize", governanceHandler.Finalize)
			r.Post("/governance/proposals/{id}/execute", governanceHandler.Execute)
			r.Post("/governance/proposals/{id}/cancel", governanceHandler.Cancel)

			// Rewards endpoints
			r.Post("/rewards/periods", rewardsHandler.StartPeriod)
			r.Get("/rewards/periods/current", rewardsHandler.GetCurrentPeriod)
			r.Get("/rewards/periods/{id}", rewardsHandler.GetPeriod)
			r.Post("/rewards/periods/{id}/finalize", rewardsHandler.FinalizePeriod)
			r.Post("/rewards/periods/{id}/claim", rewardsHandler.Claim)
			r.Get("/rewards/periods/{id}/reward", rewardsHandler.GetReward)
			r.Get("/rewards/periods/{id}/contribution", rewardsHandler.GetContribution)
			r.Get("/rewards/periods/{id}/eligibility", rewardsHandler.GetEligibility)
			r.Get("/rewards/lifetime/{principal}", rewardsHandler.GetLifetime)
			r.Post("/rewards/contribute", rewardsHandler.Contribute)
			r.Post("/rewards/activity", rewardsHandler.RegisterActivity)
			r.Get("/rewards/stats", rewardsHandler.GetStats)

			// Invite endpoints
			r.Post("/invites/generate", inviteHandler.Generate)
			r.Post("/invites/redeem", inviteHandler.Redeem)
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
