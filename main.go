package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/SeoHyeokGyu/planit-sub001/handlers"
	"github.com/SeoHyeokGyu/planit-sub001/internal/scorestore"
	"github.com/SeoHyeokGyu/planit-sub001/middleware"
	"github.com/SeoHyeokGyu/planit-sub001/services"

	_ "net/http/pprof"
)

var (
	dbPool         *pgxpool.Pool
	redisClient    *redis.Client
	scoreStore     *scorestore.Store
	archiveService *services.ArchiveService
	userService    *services.UserService
	streamHub      *services.StreamHub
	rankingService *services.RankingService
	scheduler      *services.RankingScheduler
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}
	middleware.InitAuth(jwtSecret)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatal("Failed to parse database URL:", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatal("Failed to create connection pool:", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}
	log.Println("Successfully connected to Postgres")

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		log.Fatal("REDIS_URL environment variable is not set")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatal("Failed to parse Redis URL:", err)
	}
	redisClient = redis.NewClient(opt)

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to ping Redis:", err)
	}
	log.Println("Successfully connected to Redis")

	scoreStore = scorestore.New(redisClient)
	archiveService = services.NewArchiveService(dbPool)
	userService = services.NewUserService(dbPool)
	streamHub = services.NewStreamHub()
	rankingService = services.NewRankingService(scoreStore, archiveService, userService, streamHub)
	scheduler = services.NewRankingScheduler(rankingService)

	if err := archiveService.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to ensure archive schema:", err)
	}

	middleware.InitPrometheus()
}

func main() {
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
		redisClient.Close()
	}()

	// Re-seed the score store from the archive before accepting traffic, so
	// a live award can never be overwritten by a late rebuild write.
	rebuildCtx, rebuildCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := rankingService.RebuildFromDatabase(rebuildCtx); err != nil {
		log.Fatal("Failed to rebuild rankings from database:", err)
	}
	rebuildCancel()

	scheduler.Start()

	rankingHandler := handlers.NewRankingHandler(rankingService, streamHub)

	r := mux.NewRouter()

	standardRouter := r.PathPrefix("/").Subrouter()

	go middleware.CleanupVisitors()

	standardRouter.Use(middleware.RateLimitMiddleware)
	standardRouter.Use(middleware.MonitorMiddleware)

	standardRouter.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))
	standardRouter.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(http.DefaultServeMux))

	standardRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		if err := scoreStore.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "score store connection failed"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "planit-ranking"}`))
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// API V1 SUBROUTER
	// -------------------------------------------------------------------------
	api := standardRouter.PathPrefix("/api/v1").Subrouter()

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware)

	protected.HandleFunc("/ranking", rankingHandler.GetRanking).Methods("GET")
	protected.HandleFunc("/ranking/me", rankingHandler.GetMyRanking).Methods("GET")
	protected.HandleFunc("/ranking/history", rankingHandler.GetHistory).Methods("GET")
	protected.HandleFunc("/ranking/award", rankingHandler.AwardScore).Methods("POST")
	protected.HandleFunc("/ranking/stream", rankingHandler.StreamRanking).Methods("GET")
	protected.HandleFunc("/ranking/stream/status", rankingHandler.StreamStatus).Methods("GET")

	// CORS configuration
	corsHandler := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins([]string{"*"}),
		gorillaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Pprof-Secret"}),
		gorillaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorillaHandlers.AllowCredentials(),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:        port,
		Handler:     corsHandler(r),
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: the ranking stream holds its response open far
		// longer than any fixed write deadline.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	scheduler.Stop()
	streamHub.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
