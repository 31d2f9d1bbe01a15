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

	"keygate.org/internal/admin"
	"keygate.org/internal/config"
	"keygate.org/internal/events"
	"keygate.org/internal/httpapi"
	"keygate.org/internal/license"
	"keygate.org/internal/notify"
	"keygate.org/internal/obs"
	"keygate.org/internal/payments"
	"keygate.org/internal/session"
	"keygate.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Storage: Postgres when a DSN is configured, in-memory otherwise. The
	// in-memory store is for development only; every restart forgets codes.
	var (
		codeStore  license.Store
		adminStore admin.Store
		db         *sql.DB
	)
	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		codeStore = store
		adminStore = store
		db = store.DB()
		defer store.Close()
	} else {
		log.Println("KEYGATE_PG_DSN not set, using in-memory store")
		codeStore = license.NewInMemory()
		adminStore = admin.NewInMemory()
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.MailerURL != "" {
		notifier = notify.NewClient(cfg.MailerURL, cfg.MailerToken)
	}

	var provider payments.Provider
	if cfg.PaymentAPIURL != "" {
		provider = payments.NewClient(cfg.PaymentAPIURL, cfg.PaymentAPIToken)
	}

	sessions, err := session.NewManager(cfg.SessionSecret, session.WithTTL(cfg.SessionTTL))
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}

	stream := events.New()

	validatorOpts := []license.ValidatorOption{}
	if cfg.IsTest() {
		validatorOpts = append(validatorOpts, license.WithTestLogins(true, map[string]string{
			"test@example.com": "TESTCODE",
		}))
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, httpapi.Services{
		Issuer:    license.NewIssuer(codeStore, notifier, stream),
		Validator: license.NewValidator(codeStore, stream, validatorOpts...),
		Sessions:  sessions,
		Admin:     admin.NewService(adminStore, codeStore, notifier, stream),
		Payments:  provider,
		Stream:    stream,
	})
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting keygate-api %s (%s) on %s", version, cfg.Environment, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
