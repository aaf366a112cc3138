package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/eventhub/internal/config"
	"github.com/terminal-bench/eventhub/internal/middleware"
	"github.com/terminal-bench/eventhub/internal/requests"
	"github.com/terminal-bench/eventhub/pkg/discovery"
	"github.com/terminal-bench/eventhub/pkg/messaging"
	"github.com/terminal-bench/eventhub/pkg/remote"
)

func main() {
	cfg := config.LoadRequests()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	store := requests.NewStore(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NatsURL,
		Name:           "request-service",
		ReconnectWait:  time.Second,
		MaxReconnects:  5,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	etcdCli, err := discovery.Connect(cfg.EtcdEndpoints)
	if err != nil {
		log.Fatalf("Failed to connect to etcd: %v", err)
	}

	instance, _ := os.Hostname()
	registry, err := discovery.Register(etcdCli, "request-service", instance+":"+cfg.Port, "http://"+instance+":"+cfg.Port, 10)
	if err != nil {
		log.Fatalf("Failed to register service: %v", err)
	}
	defer registry.Close()

	resolver := discovery.NewResolver(etcdCli, "event-service", cfg.EventsURL)
	defer resolver.Stop()

	eventsClient := remote.NewEventsClient(resolver, cfg.RemoteTimeout)
	svc := requests.NewService(store, eventsClient, natsClient)
	handler := requests.NewHandler(svc)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Correlation())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	handler.RegisterInternal(r)

	limiter := middleware.NewRateLimiter(cfg.RateLimitMax, cfg.RateWindow)
	user := r.Group("/")
	user.Use(middleware.Auth(cfg.JWTSecret), middleware.RateLimit(limiter))
	handler.RegisterUser(user)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("request-service listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("request-service exited: %v", err)
	}
}
