package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SzymonKozl/irio-alerting-platform/server/events"
	"github.com/SzymonKozl/irio-alerting-platform/server/idempotency"
	"github.com/SzymonKozl/irio-alerting-platform/server/mailer"
	"github.com/SzymonKozl/irio-alerting-platform/server/owner"
	"github.com/SzymonKozl/irio-alerting-platform/server/store"
	"github.com/SzymonKozl/irio-alerting-platform/server/supervisor"
)

const ownedRefreshInterval = 1 * time.Second

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := loadConfig(log)
	log.Info("starting alerting platform",
		zap.Int("shard_index", cfg.ShardIndex),
		zap.Int("port", cfg.AppPort))

	if err := store.RunMigrations(ctx, cfg.DatabaseURL()); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	st, err := store.NewPostgresStore(ctx, cfg.DatabaseURL())
	if err != nil {
		log.Fatal("connecting to postgres failed", zap.Error(err))
	}
	defer st.Close()

	smtp, err := mailer.NewSMTPMailer(cfg.SMTPServer, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.AckBaseURL())
	if err != nil {
		log.Fatal("smtp client setup failed", zap.Error(err))
	}

	var idem idempotency.Cache
	if cfg.RedisAddr != "" {
		rc, err := idempotency.NewRedis(cfg.RedisAddr, cfg.RedisPassword, log)
		if err != nil {
			log.Fatal("connecting to redis failed", zap.Error(err))
		}
		defer rc.Close()
		idem = rc
		log.Info("idempotency cache: redis", zap.String("addr", cfg.RedisAddr))
	} else {
		idem = idempotency.NewMemory()
		log.Info("idempotency cache: in-memory (ephemeral)")
	}

	owned := owner.NewSet()
	reconciler := owner.NewReconciler(st, owned, cfg.ShardIndex, ownedRefreshInterval, log)
	hub := events.NewHub(log)
	sup := supervisor.New(ctx, st, smtp, owned, hub, cfg.ShardIndex, log)

	// The owned set must be primed before any recovered prober consults it,
	// or every one of them would exit on its first tick.
	if err := reconciler.Refresh(ctx); err != nil {
		log.Fatal("priming owned set failed", zap.Error(err))
	}
	if err := sup.Recover(ctx); err != nil {
		log.Error("recovery failed, continuing with admin API only", zap.Error(err))
	}
	reconciler.Start(ctx)

	api := NewAPI(st, sup, owned, hub, idem, cfg.ShardIndex, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/add_service", api.withIdempotency(api.handleAddService))
	mux.HandleFunc("/receive_alert", api.handleReceiveAlert)
	mux.HandleFunc("/alerting_jobs", api.handleAlertingJobs)
	mux.HandleFunc("/del_job", api.handleDelJob)
	mux.HandleFunc("/health", api.handleHealth)
	mux.Handle("/ws/events", hub)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("admin API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("stopped")
}
