// Command server runs the consent core: token issuance and validation,
// revocation, the audit ledger, and passport storage behind one HTTP surface.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"katha/internal/audit"
	auditpg "katha/internal/audit/store/postgres"
	"katha/internal/audit/stream"
	"katha/internal/consent"
	consenthandler "katha/internal/consent/handler"
	"katha/internal/jwttoken"
	"katha/internal/keys"
	"katha/internal/passport"
	passporthandler "katha/internal/passport/handler"
	passportpg "katha/internal/passport/store/postgres"
	"katha/internal/platform/config"
	"katha/internal/platform/httpserver"
	"katha/internal/platform/logger"
	"katha/internal/platform/metrics"
	platformpg "katha/internal/platform/postgres"
	platformredis "katha/internal/platform/redis"
	"katha/internal/revocation"
	"katha/internal/token"
	tokenpg "katha/internal/token/store/postgres"
	httptransport "katha/internal/transport/http"
	"katha/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	material, err := loadKeys(cfg, log)
	if err != nil {
		return err
	}

	m := metrics.New()

	var (
		tokenStore    token.Store
		auditStore    audit.Store
		passportStore passport.Store
		runner        *tx.Runner
	)
	if cfg.DatabaseURL != "" {
		db, err := platformpg.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		tokenStore = tokenpg.New(db)
		auditStore = auditpg.New(db)
		passportStore = passportpg.New(db)
		runner = tx.NewRunner(db)
	} else {
		log.Warn("no database configured, using in-memory stores")
		tokenStore = token.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		passportStore = passport.NewInMemoryStore()
	}

	ledgerOpts := []audit.Option{audit.WithMetrics(m)}

	var publisher *stream.Publisher
	if cfg.KafkaBrokers != "" {
		publisher, err = stream.New(cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			return err
		}
		ledgerOpts = append(ledgerOpts, audit.WithStreamer(publisher))
		log.Info("audit stream mirror enabled", "topic", cfg.AuditTopic)
	}
	ledger := audit.NewLedger(auditStore, ledgerOpts...)

	var notifier revocation.Notifier
	if cfg.RedisURL != "" {
		rdb, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		notifier = revocation.NewRedisNotifier(rdb, log)
		log.Info("revocation notifier enabled")
	}

	signer := jwttoken.New(material, cfg.Issuer, cfg.Audience)
	registry := revocation.New(tokenStore, log)

	consentSvc := consent.New(consent.Config{
		Tokens:     tokenStore,
		Signer:     signer,
		Registry:   registry,
		Ledger:     ledger,
		Runner:     runner,
		Notifier:   notifier,
		Metrics:    m,
		Logger:     log,
		DefaultTTL: cfg.DefaultTTL,
		MaxTTL:     cfg.MaxTTL,
	})
	passportSvc := passport.NewService(passportStore, tokenStore, ledger, runner, log)

	consentH := consenthandler.New(consentSvc, ledger, material, log, cfg.AdminToken)
	passportH := passporthandler.New(passportSvc, consentSvc, log, cfg.AdminToken)

	router := httptransport.NewRouter(consentH, passportH, m, log)
	srv := httpserver.New(cfg.Addr, router)

	if cfg.AdminToken == "" {
		log.Warn("admin token not configured, issuance and revocation endpoints disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting consent core", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if publisher != nil {
		g.Go(func() error {
			return publisher.Run(gctx)
		})
	}

	return g.Wait()
}

// loadKeys loads the configured RSA keypair, or generates an ephemeral one
// for development when no private key path is set. Ephemeral keys invalidate
// all outstanding tokens on restart.
func loadKeys(cfg config.Server, log *slog.Logger) (*keys.Material, error) {
	if cfg.PrivateKeyPath == "" {
		log.Warn("no signing key configured, generating ephemeral keypair")
		return keys.GenerateEphemeral(cfg.KeyID)
	}
	return keys.Load(cfg.PrivateKeyPath, cfg.PublicKeyPath, cfg.KeyID)
}
