package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"permitflow/bus"
	"permitflow/connector"
	"permitflow/dataneed"
	"permitflow/db"
	"permitflow/deadletter"
	"permitflow/permission"
	"permitflow/sweeper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	connectorID := os.Getenv("CONNECTOR_ID")
	if connectorID == "" {
		log.Fatal("CONNECTOR_ID is required")
	}

	registry := connector.NewRegistry(pool)
	rec, err := registry.GetByID(ctx, connectorID)
	if err != nil {
		log.Fatalf("load connector %s: %v", connectorID, err)
	}
	cfg, err := rec.Config()
	if err != nil {
		log.Fatalf("connector config: %v", err)
	}

	graph := permission.DefaultGraph().With(extraTransitions(cfg.ExtraTransitions))
	eventBus := bus.New()
	defer eventBus.Close()

	store := permission.NewPGStore(pool)
	deadLetters := deadletter.NewService(deadletter.NewRepository(pool), cfg.ID, logger)
	outbox := permission.NewOutbox(store, graph, eventBus, logger).WithDeadLetters(deadLetters)

	calc := dataneed.NewCalculationService(dataneed.NewPGSource(pool), cfg)
	svc := permission.NewService(outbox, store, calc, loggingAdministratorPort{logger: logger})
	_ = svc

	interval := durationEnv("SWEEP_INTERVAL", time.Minute)
	sw := sweeper.New(store, outbox, cfg.StaleAfter, interval, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sw.Run(ctx) })

	logger.Info("permission lifecycle engine running",
		"connectorId", cfg.ID,
		"staleAfter", cfg.StaleAfter,
		"sweepInterval", interval)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("engine stopped: %v", err)
	}
}

// loggingAdministratorPort stands in until a region-specific transport is
// plugged in; it accepts every forwarded request.
type loggingAdministratorPort struct {
	logger *slog.Logger
}

func (p loggingAdministratorPort) SendPermissionRequest(ctx context.Context, req permission.Request) error {
	p.logger.Info("forwarding permission request to administrator",
		"permissionId", req.PermissionID,
		"connectionId", req.ConnectionID)
	return nil
}

func extraTransitions(raw map[string][]string) map[permission.Status][]permission.Status {
	if len(raw) == 0 {
		return nil
	}
	extra := make(map[permission.Status][]permission.Status, len(raw))
	for from, tos := range raw {
		statuses := make([]permission.Status, len(tos))
		for i, to := range tos {
			statuses[i] = permission.Status(to)
		}
		extra[permission.Status(from)] = statuses
	}
	return extra
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("parse %s: %v", key, err)
	}
	return d
}
