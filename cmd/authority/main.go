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

	"carebridge.org/internal/auth"
	"carebridge.org/internal/config"
	"carebridge.org/internal/httpapi"
	"carebridge.org/internal/obs"
)

var version = "0.3.1"

// logResetSender stands in for the mail integration: reset requests are
// logged until the notification service is wired up.
type logResetSender struct{}

func (logResetSender) SendReset(_ context.Context, email string) error {
	obs.LogEvent(map[string]any{
		"level": "info",
		"msg":   "password reset requested",
		"email": email,
	})
	return nil
}

func main() {
	config.Load()
	obs.Init()
	obs.InitBuildInfo("carebridge-authority", version)

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

	secret := config.Get("CAREBRIDGE_AUTH_SECRET", "")
	if secret == "" {
		log.Fatal("CAREBRIDGE_AUTH_SECRET is required")
	}

	svc, err := auth.NewService(auth.NewPGStore(db),
		auth.WithSecret(secret),
		auth.WithIssuer(config.Get("CAREBRIDGE_AUTH_ISSUER", "carebridge-authority")),
		auth.WithAccessTTL(config.GetDuration("CAREBRIDGE_ACCESS_TTL", 15*time.Minute)),
		auth.WithRotationTTL(config.GetDuration("CAREBRIDGE_ROTATION_TTL", 7*24*time.Hour)),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.NewAuthority(svc, logResetSender{}, httpapi.ReadyProbe{DB: db}, version,
		httpapi.WithRateLimit(
			config.GetInt("CAREBRIDGE_RATE_BURST", 60),
			config.GetInt("CAREBRIDGE_RATE_PER_SEC", 20),
		))

	srv := &http.Server{
		Addr:              config.Get("CAREBRIDGE_AUTHORITY_ADDR", ":8081"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting carebridge-authority %s on %s", version, srv.Addr)

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
	_ = db.Close()
	log.Println("Stopped")
}
