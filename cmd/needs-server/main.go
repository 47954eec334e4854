// Package main is the entry point for the needs simulation server.
// It only handles dependency injection and server initialization.
// No simulation logic belongs here.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MRamiBalles/needsim/internal/domain/character"
	"github.com/MRamiBalles/needsim/internal/domain/rules"
	"github.com/MRamiBalles/needsim/internal/engine"
	"github.com/MRamiBalles/needsim/internal/events"
	"github.com/MRamiBalles/needsim/internal/infra/cache"
	"github.com/MRamiBalles/needsim/internal/infra/storage"
	"github.com/MRamiBalles/needsim/internal/network"
	"github.com/MRamiBalles/needsim/internal/platform/config"
	"github.com/MRamiBalles/needsim/internal/platform/logger"
	"github.com/MRamiBalles/needsim/internal/platform/metrics"
	"github.com/MRamiBalles/needsim/internal/platform/optimization"
)

const journalTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "needs-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	appLogger, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	tuning, err := optimization.ForProfile(cfg.Profile)
	if err != nil {
		return err
	}
	collector := metrics.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// Journal is optional; the simulation never reads it back.
	var (
		persister events.EventPersister
		recapper  *storage.Recapper
	)
	repo, err := openJournal(cfg, tuning, appLogger)
	if err != nil {
		return err
	}
	if repo != nil {
		defer repo.Close()
		journal := storage.NewJournal(repo, journalTimeout)
		appLogger.Info("Journal enabled",
			zap.String("driver", cfg.JournalDriver),
			zap.String("run_id", journal.RunID()))

		var skip []events.EventType
		if !cfg.JournalTicks {
			skip = append(skip, events.EventTypeTick)
		}
		writer := events.NewWriter(journal, tuning.EventChannelBuffer, tuning.EventWorkers, appLogger, collector, skip...)
		g.Go(func() error { return writer.Run(ctx) })

		persister = writer
		recapper = storage.NewRecapper(repo)
	}

	appLogger.Info("Bootstrapping EventLog...", zap.Int("capacity", cfg.EventLogCapacity))
	eventLog := events.NewEventLog(cfg.EventLogCapacity, persister)

	appLogger.Info("Bootstrapping Engine...", zap.Duration("tick_rate", cfg.TickRate))
	snapshots := cache.NewSnapshotCache(tuning.SnapshotCacheSize, cfg.SnapshotTTL)
	eng := engine.NewEngine(rules.DefaultCatalog(), eventLog, appLogger, engine.Options{
		TickRate:  cfg.TickRate,
		Collector: collector,
		Cache:     snapshots,
	})

	if cfg.SeedCharacters {
		if err := seedCharacters(eng); err != nil {
			return err
		}
	}

	appLogger.Info("Bootstrapping WebSocket Hub...")
	hub := network.NewHub(eng, eventLog, appLogger, tuning, collector)
	eng.OnTick(hub.BroadcastState)

	mux := http.NewServeMux()
	network.NewAPI(eng, hub, network.NewReplayHandler(eventLog, appLogger), recapper, appLogger).RegisterRoutes(mux)
	mux.HandleFunc("GET /metrics", collector.Handler())
	mux.HandleFunc("GET /metrics/prometheus", collector.PrometheusHandler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return hub.StartEventPoller(ctx, 200*time.Millisecond) })
	g.Go(func() error {
		eng.Start(ctx)
		return nil
	})
	g.Go(func() error {
		return reportTuning(ctx, cfg.TuningInterval, collector, tuning, appLogger)
	})
	g.Go(func() error {
		appLogger.Info("HTTP API & WS server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		appLogger.Info("Shutting down...")
		eng.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openJournal(cfg config.Config, tuning *optimization.Config, log *logger.Logger) (storage.EventRepository, error) {
	switch cfg.JournalDriver {
	case config.JournalSQLite:
		log.Info("Initializing SQLite journal", zap.String("path", cfg.JournalDSN))
		db, err := storage.InitSQLite(cfg.JournalDSN, tuning.DBMaxOpenConns, tuning.DBMaxIdleConns)
		if err != nil {
			return nil, err
		}
		return storage.NewSQLiteEventRepository(db), nil
	case config.JournalPostgres:
		log.Info("Initializing Postgres journal")
		db, err := storage.InitPostgres(cfg.JournalDSN, tuning.DBMaxOpenConns, tuning.DBMaxIdleConns)
		if err != nil {
			return nil, err
		}
		return storage.NewPostgresEventRepository(db), nil
	}
	log.Warn("Journal disabled, history endpoint unavailable")
	return nil, nil
}

// seedCharacters creates the demo character every fresh server starts with.
func seedCharacters(eng *engine.Engine) error {
	var props character.NeedState
	props.Set(character.Sleepiness, 0.2)
	props.Set(character.Hunger, 0.3)
	props.Set(character.Thirst, 0.1)
	props.Set(character.Toilet, 0.4)
	props.Set(character.Dirtiness, 0.2)
	props.Set(character.Pain, 0.1)
	props.Set(character.Discomfort, 0.3)

	return eng.AddCharacter(character.New("character-1", "Hero", props), rules.AliveBuffID)
}

// reportTuning periodically checks collected metrics against the active profile
// and logs what the profile would need to change.
func reportTuning(ctx context.Context, interval time.Duration, collector *metrics.Collector, tuning *optimization.Config, log *logger.Logger) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			rec := optimization.Analyze(collector.Snapshot())
			if rec.Empty() {
				continue
			}
			suggested := optimization.ApplyRecommendations(tuning.Clone(), rec)
			log.Warn("Tuning recommendations",
				zap.String("notes", strings.Join(rec.Notes, "; ")),
				zap.Int("event_workers", suggested.EventWorkers),
				zap.Int("event_buffer", suggested.EventChannelBuffer),
				zap.Int("client_send_buffer", suggested.ClientSendBuffer),
				zap.Int("db_max_open", suggested.DBMaxOpenConns))
		}
	}
}
