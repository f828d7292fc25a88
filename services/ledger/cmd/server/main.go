package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"policyledger/pkg/anchor/notary"
	"policyledger/pkg/anchor/rfc3161"
	"policyledger/pkg/db"
	"policyledger/services/ledger/internal/anchoring"
	"policyledger/services/ledger/internal/config"
	"policyledger/services/ledger/internal/memstore"
	"policyledger/services/ledger/internal/store"

	"github.com/go-chi/chi/v5"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("ledger service stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg, closeStore, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	anchorer := anchoring.NewAnchorer(lg, lg, cfg.AnchorPolicy(), cfg.Anchor.RecordEvent)
	publisher := &anchoring.Publisher{
		Enabled: cfg.Publish.Enabled,
		APIKey:  cfg.Publish.APIKey,
		Notary:  newNotary(cfg),
		Anchors: lg,
	}

	if cfg.Anchor.ScheduleEnabled {
		sched := &anchoring.Scheduler{
			Anchorer:  anchorer,
			Publisher: publisher,
			RunAt:     cfg.RunAtOffset(),
			Logger:    logger.With("component", "anchor_scheduler"),
		}
		go func() {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("anchor scheduler exited", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           newRouter(lg, anchorer, publisher),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ledger service listening", "addr", srv.Addr, "store", cfg.Store,
		"publish_enabled", cfg.Publish.Enabled, "anchor_policy", string(cfg.AnchorPolicy()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newRouter(lg Ledger, anchorer *anchoring.Anchorer, publisher *anchoring.Publisher) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Route("/ledger", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
		registerLedgerRoutes(api, lg, anchorer, publisher)
	})
	return r
}

func openLedger(ctx context.Context, cfg config.Config) (Ledger, func(), error) {
	if cfg.Store == config.StoreMemory {
		return memstore.New(), func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

func newNotary(cfg config.Config) anchoring.Notary {
	if cfg.Publish.URL == "" {
		return nil
	}
	if cfg.Publish.Mode == config.PublishModeRFC3161 {
		return rfc3161.NewClient(cfg.Publish.URL, cfg.Publish.APIKey, cfg.PublishTimeout())
	}
	return notary.New(cfg.Publish.URL, cfg.Publish.APIKey, cfg.PublishTimeout())
}
