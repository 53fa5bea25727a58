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

	"github.com/unimart/backend/docs"
	"github.com/unimart/backend/internal/config"
	"github.com/unimart/backend/internal/database"
	"github.com/unimart/backend/internal/metrics"
	mW "github.com/unimart/backend/internal/middleware"
	"github.com/unimart/backend/internal/notifier"
	"github.com/unimart/backend/internal/services"
	"github.com/unimart/backend/internal/squad"
)

// @title UniMart Backend API
// @version 1.0
// @description API for the UniMart campus marketplace: escrow-backed orders, wallets and payouts
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
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
	viper.BindEnv("redis.pool_size", "REDIS_POOL_SIZE")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	viper.BindEnv("squad.base_url", "SQUAD_BASE_URL")
	viper.BindEnv("squad.secret_key", "SQUAD_SECRET_KEY")
	viper.BindEnv("squad.callback_url", "SQUAD_CALLBACK_URL")

	viper.BindEnv("pricing.commission_rate", "PRICING_COMMISSION_RATE")
	viper.BindEnv("pricing.unverified_withdrawal_cap", "PRICING_UNVERIFIED_WITHDRAWAL_CAP")
	viper.BindEnv("pricing.min_deposit", "PRICING_MIN_DEPOSIT")
	viper.BindEnv("pricing.min_withdrawal", "PRICING_MIN_WITHDRAWAL")

	viper.BindEnv("pin.max_attempts", "PIN_MAX_ATTEMPTS")
	viper.BindEnv("pin.lockout_minutes", "PIN_LOCKOUT_MINUTES")

	viper.BindEnv("mailer.api_url", "MAILER_API_URL")
	viper.BindEnv("mailer.api_key", "MAILER_API_KEY")
	viper.BindEnv("mailer.from", "MAILER_FROM")

	viper.BindEnv("ops.token", "OPS_TOKEN")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "UniMart Backend API"
	docs.SwaggerInfo.Description = "API for the UniMart campus marketplace"
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

	pricingCfg := config.LoadPricing()
	pinCfg := config.LoadPIN()
	squadCfg := config.LoadSquad()
	mailerCfg := config.LoadMailer()

	registry := metrics.New()
	squadClient := squad.NewClient(squadCfg)
	mailer := notifier.New(mailerCfg)

	pricingService := services.NewPricingService(pricingCfg)
	pricingAPI := services.NewPricingAPI(pricingService, pricingCfg)
	pinGuard := services.NewPINGuard(redisClient, pinCfg)
	walletService := services.NewWalletService(db, squadClient, pricingService, pinGuard, registry, pricingCfg)
	orderService := services.NewOrderService(db, squadClient, pricingService, walletService, mailer, registry, viper.GetString("ops.token"))
	negotiationService := services.NewNegotiationService(db, pricingService)
	pickupService := services.NewPickupService(redisClient, orderService)
	webhookService := services.NewWebhookService(redisClient, squadClient, orderService, walletService, registry)

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

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for product images
	r.Handle("/static/products/*", http.StripPrefix("/static/products/",
		mW.StaticFileServer("./static/products")))

	// Ops-only dispute resolution, guarded by token instead of user auth
	r.Post("/internal/orders/{id}/resolve", orderService.ResolveDispute)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/pricing/calculate", pricingAPI.Calculate)
		r.Post("/pricing/reverse", pricingAPI.Reverse)
		r.Get("/pricing/config", pricingAPI.GetConfig)
		r.Post("/webhooks/squad", webhookService.HandleSquadWebhook)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/orders", orderService.CreateOrder)
			r.Get("/orders", orderService.ListOrders)
			r.Get("/orders/{id}", orderService.GetOrder)
			r.Patch("/orders/{id}/status", orderService.UpdateOrderStatus)
			r.Get("/orders/{id}/history", orderService.GetOrderHistory)
			r.Get("/orders/{id}/pickup-code", pickupService.GetPickupCode)
			r.Post("/orders/{id}/pickup/redeem", pickupService.RedeemPickupCode)

			r.Post("/negotiations", negotiationService.CreateNegotiation)
			r.Get("/negotiations", negotiationService.ListNegotiations)
			r.Patch("/negotiations/{id}", negotiationService.RespondToNegotiation)
			r.Delete("/negotiations/{id}", negotiationService.CancelNegotiation)

			r.Get("/wallet", walletService.GetWallet)
			r.Get("/wallet/transactions", walletService.ListTransactions)
			r.Post("/wallet/deposit", walletService.Deposit)
			r.Post("/wallet/withdraw", walletService.Withdraw)
			r.Post("/wallet/pin", walletService.SetPIN)

			r.Get("/banks", walletService.GetBanks)
			r.Get("/banks/verify", walletService.VerifyBankAccount)
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
