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
	"github.com/sayfoulaye/backend/internal/config"
	"github.com/sayfoulaye/backend/internal/database"
	"github.com/sayfoulaye/backend/internal/handlers"
	mW "github.com/sayfoulaye/backend/internal/middleware"
	"github.com/sayfoulaye/backend/internal/models"
	"github.com/sayfoulaye/backend/internal/services"
	"github.com/spf13/viper"
)

// @title Cash Position Backend API
// @version 1.0
// @description Daily cash position tracking for supervised cash desks
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
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
	viper.BindEnv("reset.hour", "RESET_HOUR")
	viper.BindEnv("reset.minute", "RESET_MINUTE")
	viper.BindEnv("reset.timezone", "RESET_TIMEZONE")
	viper.BindEnv("reset.cron_secret", "RESET_CRON_SECRET")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	resetConfig := config.LoadResetConfig()
	log.Printf("Business day starts at %02d:%02d %s", resetConfig.Hour, resetConfig.Minute, resetConfig.Location)

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	accountService := services.NewAccountService(db)
	snapshotService := services.NewSnapshotService(db)
	archiveService := services.NewArchiveService(db)
	rolloverService := services.NewRolloverService(db)
	notificationService := services.NewNotificationService(redisClient)
	transactionService := services.NewTransactionService(db, resetConfig, accountService, notificationService)
	dashboardService := services.NewDashboardService(db, resetConfig, accountService, snapshotService, transactionService)
	accountLineService := services.NewAccountLineService(db, accountService, transactionService)
	resetService := services.NewResetService(db, resetConfig, snapshotService, archiveService, rolloverService, notificationService)
	resetHandler := handlers.NewResetHandler(resetService)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Cron-Secret"},
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
		// Reset trigger: reachable by the scheduler with its shared secret
		// or by an administrator token.
		r.Group(func(r chi.Router) {
			r.Use(mW.OptionalAuth)
			r.Post("/admin/reset", resetHandler.TriggerReset)
			r.Get("/admin/reset/status", resetHandler.GetResetStatus)
		})

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/transactions", transactionService.ListTransactions)
			r.Post("/transactions", transactionService.CreateTransaction)
			r.Get("/transactions/{id}", transactionService.GetTransaction)
			r.Put("/transactions/{id}", transactionService.UpdateTransaction)
			r.Delete("/transactions/{id}", transactionService.DeleteTransaction)

			r.Get("/dashboard", dashboardService.GetDashboard)

			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin, models.RoleSupervisor))
				r.Put("/accounts/lines/reset", accountLineService.ResetLine)
				r.Delete("/accounts/lines/partner/{name}", accountLineService.DeletePartnerLine)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

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
