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

	"github.com/ficore/backend/docs"
	"github.com/ficore/backend/internal/config"
	"github.com/ficore/backend/internal/database"
	"github.com/ficore/backend/internal/handlers"
	mW "github.com/ficore/backend/internal/middleware"
	"github.com/ficore/backend/internal/models"
	"github.com/ficore/backend/internal/services"
	"github.com/ficore/backend/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Ficore Credits Backend API
// @version 1.0
// @description API for the Ficore Credit ledger and bookkeeping backend
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

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
	docs.SwaggerInfo.Title = "Ficore Credits Backend API"
	docs.SwaggerInfo.Description = "API for the Ficore Credit ledger and bookkeeping backend"
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

	collector := metrics.NewCollector()

	ledgerService := services.NewCreditLedgerService(db, collector)
	notificationService := services.NewNotificationService(redisClient)
	topupService := services.NewTopUpService(db, redisClient, ledgerService, collector)
	agentService := services.NewAgentService(db, topupService, ledgerService, collector)
	recordsService := services.NewRecordsService(db, ledgerService, notificationService, collector)
	authService := services.NewAuthService(db, redisClient)

	creditsHandler := handlers.NewCreditsHandler(ledgerService)
	topupHandler := handlers.NewTopUpHandler(topupService, notificationService)
	agentHandler := handlers.NewAgentHandler(agentService, notificationService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Credential reaper
	creditsConfig := config.LoadCreditsConfig()
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go func() {
		ticker := time.NewTicker(creditsConfig.ReaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-reaperCtx.Done():
				return
			case <-ticker.C:
				if err := agentService.CleanupExpiredCredentials(reaperCtx); err != nil {
					log.Printf("Failed to clean up expired credentials: %v", err)
				}
			}
		}
	}()

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
	r.Handle("/metrics", collector.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Post("/auth/verify-credential", agentHandler.VerifyCredential)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Credits
			r.Get("/credits/balance", creditsHandler.Balance)
			r.Get("/credits/history", creditsHandler.History)
			r.Post("/credits/topups", topupHandler.Submit)
			r.Get("/credits/topups/{requestId}/qr", topupHandler.PaymentQR)

			// Fee-bearing bookkeeping records
			r.Get("/records/debtors", recordsService.ListDebtors)
			r.Post("/records/debtors", recordsService.CreateDebtor)
			r.Post("/records/creditors", recordsService.CreateCreditor)
			r.Post("/records/inventory", recordsService.AddInventoryItem)
			r.Post("/records/reminders", recordsService.SendReminder)
			r.Post("/records/reports", recordsService.GeneratePDF)
			r.Post("/records/receipts", recordsService.UploadReceipt)

			// Agent surface
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAgent, models.RoleAdmin))

				r.Post("/agents/traders", agentHandler.RegisterTrader)
				r.Post("/agents/traders/{traderId}/credit-requests", agentHandler.SubmitCreditRequest)
				r.Put("/agents/traders/{traderId}/assist", agentHandler.AssistTrader)
			})

			// Admin review surface
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin))

				r.Get("/credits/topups/pending", topupHandler.ListPending)
				r.Put("/credits/topups/{requestId}/resolve", topupHandler.Resolve)
				r.Get("/admin/audit-logs", creditsHandler.AuditLogs)
			})
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
	stopReaper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
