package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gwon-omega/server/internal/cache"
	"github.com/gwon-omega/server/internal/catalog"
	"github.com/gwon-omega/server/internal/coupon"
	"github.com/gwon-omega/server/internal/httpapi"
	"github.com/gwon-omega/server/internal/notify"
	"github.com/gwon-omega/server/internal/pgdb"
	"github.com/gwon-omega/server/internal/poller"
	"github.com/gwon-omega/server/internal/repository"
	"github.com/gwon-omega/server/internal/service"
)

type Config struct {
	HTTPPort        string
	MongoURI        string
	MongoDBName     string
	RedisAddr       string
	RedisPassword   string
	Postgres        pgdb.Credentials
	KafkaBrokers    []string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	pgPort, err := strconv.Atoi(getEnv("POSTGRES_PORT", "5432"))
	if err != nil {
		log.Fatalf("invalid POSTGRES_PORT: %v", err)
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	return &Config{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:   getEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		Postgres: pgdb.Credentials{
			Host:              getEnv("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              getEnv("POSTGRES_USER", "postgres"),
			Password:          getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:            getEnv("POSTGRES_DB", "shopdb"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		KafkaBrokers:    brokers,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Authoritative cart store
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	repo := repository.NewMongoRepository(mongoDB)
	log.Printf("Connected to MongoDB at %s", cfg.MongoURI)

	// Products + coupons
	db, err := pgdb.Connect(&cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer db.Close()
	if migErr := pgdb.RunMigrations(db, &cfg.Postgres); migErr != nil {
		log.Fatalf("Failed to run migrations: %v", migErr)
	}
	log.Printf("Connected to postgres at %s:%d", cfg.Postgres.Host, cfg.Postgres.Port)

	productCatalog := catalog.NewBreakerCatalog(catalog.NewPostgresCatalog(db))
	ledger := coupon.NewLedger(coupon.NewPostgresStore(db))

	// Optimistic snapshot cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
		log.Fatalf("Redis connection failed: %v", pingErr)
	}
	log.Printf("Redis ping succeeded")

	notifier := notify.NewNotifier()
	cartService := service.NewCartService(repo, productCatalog, cache.NewRedisCache(redisClient), ledger, notifier)
	defer cartService.Close()

	// Optional kafka wiring: event relay out, checkout completions in
	if len(cfg.KafkaBrokers) > 0 {
		relay := notify.NewKafkaRelay(notifier, cfg.KafkaBrokers...)
		go relay.Run(ctx)
		defer relay.Close()

		checkoutPoller := poller.New(cartService, notifier, cfg.KafkaBrokers...)
		go checkoutPoller.Run(ctx)
		defer checkoutPoller.Close()
		log.Printf("Kafka wiring enabled (brokers: %s)", strings.Join(cfg.KafkaBrokers, ","))
	}

	router := httpapi.NewRouter(cartService, notifier, cfg.RequestTimeout)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: otelhttp.NewHandler(router, "cart-api"),
	}

	go func() {
		log.Printf("Cart service listening on port %s", cfg.HTTPPort)
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatalf("Failed to serve: %v", serveErr)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down cart service...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Printf("HTTP shutdown error: %v", shutdownErr)
	}
	cancel()
	if disconnectErr := mongoDB.Client().Disconnect(context.Background()); disconnectErr != nil {
		log.Printf("Mongo disconnect error: %v", disconnectErr)
	}
	log.Println("Cart service stopped")
}
