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

	"access.org/internal/access"
	"access.org/internal/config"
	"access.org/internal/event"
	"access.org/internal/httpapi"
	"access.org/internal/notify"
	"access.org/internal/obs"
)

var version = "0.1.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ACCESS_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		db    *sql.DB
		store access.Store
	)
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = access.NewPGStore(db)
	} else {
		log.Println("ACCESS_PG_DSN not set, using in-memory store")
		store = access.NewMemStore()
	}

	issuerOpts := []access.IssuerOption{
		access.WithIssuerName(cfg.IssuerName),
		access.WithKeyID(cfg.KeyID),
	}
	if cfg.SigningKeyPath != "" {
		pem, err := os.ReadFile(cfg.SigningKeyPath)
		if err != nil {
			log.Fatalf("read signing key: %v", err)
		}
		issuerOpts = append(issuerOpts, access.WithKeyPEM(pem))
	} else {
		log.Println("ACCESS_SIGNING_KEY not set, generating ephemeral key")
		issuerOpts = append(issuerOpts, access.WithGeneratedKey())
	}
	issuer, err := access.NewIssuer(issuerOpts...)
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}

	var resolverOpts []access.ResolverOption
	if cfg.ScopeCacheSize > 0 {
		resolverOpts = append(resolverOpts, access.WithScopeCache(cfg.ScopeCacheSize, cfg.ScopeCacheTTL))
	}

	bus := event.NewBus()
	svc := access.NewService(store, issuer,
		access.WithPublisher(bus),
		access.WithResolver(access.NewResolver(store, resolverOpts...)),
		access.WithUserTokenValidity(cfg.UserTokenValidity),
		access.WithTransactionTokenValidity(cfg.TransactionTokenValidity),
		access.WithCriticalTokenAge(cfg.CriticalTokenAge),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notify.Subscribe(ctx, bus, notify.NewRegistry())

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version, httpapi.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	log.Printf("Starting access-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	cancel()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
