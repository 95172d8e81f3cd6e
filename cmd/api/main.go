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

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"carebridge.org/internal/config"
	"carebridge.org/internal/directory"
	"carebridge.org/internal/fanout"
	"carebridge.org/internal/httpapi"
	"carebridge.org/internal/identity/remote"
	"carebridge.org/internal/messaging"
	"carebridge.org/internal/msglog"
	"carebridge.org/internal/obs"
)

var version = "0.3.1"

func main() {
	config.Load()
	obs.Init()
	obs.InitBuildInfo("carebridge-api", version)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	dsn := config.Get("CAREBRIDGE_PG_DSN", "")
	if dsn == "" {
		log.Fatal("CAREBRIDGE_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	mongoURI := config.Get("CAREBRIDGE_MONGO_URI", "")
	if mongoURI == "" {
		log.Fatal("CAREBRIDGE_MONGO_URI is required")
	}
	msgStore, err := msglog.Open(bootCtx, mongoURI, config.Get("CAREBRIDGE_MONGO_DB", "carebridge"))
	if err != nil {
		log.Fatalf("open message log: %v", err)
	}

	authorityURL := config.Get("CAREBRIDGE_AUTHORITY_URL", "")
	if authorityURL == "" {
		log.Fatal("CAREBRIDGE_AUTHORITY_URL is required")
	}
	verifier, err := remote.New(authorityURL,
		remote.WithTimeout(config.GetDuration("CAREBRIDGE_AUTHORITY_TIMEOUT", 3*time.Second)))
	if err != nil {
		log.Fatalf("authority client: %v", err)
	}

	hub := fanout.NewHub()

	// Optional: cross-instance fan-out over Redis pub/sub.
	var bridge *fanout.RedisBridge
	if addr := config.Get("CAREBRIDGE_REDIS_ADDR", ""); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.Get("CAREBRIDGE_REDIS_PASSWORD", ""),
		})
		bridge, err = fanout.NewRedisBridge(bootCtx, client, hub)
		if err != nil {
			log.Fatalf("fanout bridge: %v", err)
		}
		log.Printf("fanout bridge connected to %s", addr)
	}

	svc := messaging.NewService(directory.NewPGStore(db), msgStore, fanout.NewHubPublisher(hub))

	api := httpapi.NewMessaging(svc, verifier, hub, httpapi.ReadyProbe{
		DB:    db,
		Extra: msgStore.Ping,
	}, version,
		httpapi.WithRateLimit(
			config.GetInt("CAREBRIDGE_RATE_BURST", 60),
			config.GetInt("CAREBRIDGE_RATE_PER_SEC", 20),
		))

	srv := &http.Server{
		Addr:              config.Get("CAREBRIDGE_API_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // websocket responses stay open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting carebridge-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	hub.Close()
	if bridge != nil {
		_ = bridge.Close()
	}
	_ = msgStore.Close(ctx)
	_ = db.Close()
	log.Println("Stopped")
}
