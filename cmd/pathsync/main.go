package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/pathsync/internal/api"
	"github.com/yungbote/pathsync/internal/buildjob"
	"github.com/yungbote/pathsync/internal/bus"
	"github.com/yungbote/pathsync/internal/config"
	"github.com/yungbote/pathsync/internal/observability"
	"github.com/yungbote/pathsync/internal/pkg/logger"
	"github.com/yungbote/pathsync/internal/snapshot"
	"github.com/yungbote/pathsync/internal/store"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to yaml config")
		pathID      = flag.String("path", "", "learning path id to build")
		cancelJob   = flag.Bool("cancel", false, "cancel the active job for -path instead of building")
		showHistory = flag.Bool("history", false, "list build jobs for -path and exit")
	)
	flag.Parse()

	// Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logger
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "pathsync",
		Environment: cfg.LogMode,
	})
	if shutdown != nil {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	// API client
	log.Info("Setting up API client...", "baseURL", cfg.APIURL)
	apiClient, err := api.NewClient(api.ClientConfig{BaseURL: cfg.APIURL, Token: cfg.APIToken}, log)
	if err != nil {
		log.Fatal("Could not init API client", "error", err)
	}

	// Local snapshot store
	var snap *snapshot.Store
	if cfg.SnapshotPath != "" {
		snap, err = snapshot.Open(cfg.SnapshotPath, log)
		if err != nil {
			log.Warn("Snapshot store unavailable, continuing without persistence", "error", err)
			snap = nil
		} else {
			defer snap.Close()
		}
	}

	// Mutation fan-out bus
	var b bus.Bus
	if cfg.RedisAddr != "" {
		b, err = bus.NewRedisBus(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Warn("Redis bus unavailable, falling back to in-process bus", "error", err)
			b = bus.NewMemoryBus(log)
		}
	} else {
		b = bus.NewMemoryBus(log)
	}
	defer b.Close()

	// Store + tracker
	log.Info("Setting up store and build job tracker...")
	st := store.New(log, apiClient, b)
	defer st.Close()
	if snap != nil {
		if err := st.RestoreSnapshot(ctx, snap); err != nil {
			log.Warn("Snapshot restore failed", "error", err)
		}
	}
	if err := st.StartBusForwarder(ctx); err != nil {
		log.Warn("Bus forwarder failed to start", "error", err)
	}
	tracker := buildjob.NewTracker(log, apiClient, st, snap)
	defer tracker.Close()

	if *pathID == "" {
		flag.Usage()
		os.Exit(2)
	}

	if *showHistory {
		runHistory(ctx, log, apiClient, *pathID)
		return
	}
	if *cancelJob {
		runCancel(ctx, log, tracker, *pathID)
		return
	}
	if err := runBuild(ctx, log, st, tracker, snap, *pathID); err != nil {
		log.Error("Build run failed", "error", err)
		os.Exit(1)
	}
}

func runHistory(ctx context.Context, log *logger.Logger, client *api.Client, pathID string) {
	jobs, err := client.JobsByPath(ctx, pathID)
	if err != nil {
		log.Fatal("Could not list build jobs", "pathID", pathID, "error", err)
	}
	if len(jobs) == 0 {
		log.Info("No build jobs for path", "pathID", pathID)
		return
	}
	for _, j := range jobs {
		log.Info("build job",
			"jobID", j.ID,
			"status", j.Status,
			"completed", j.CompletedSteps,
			"total", j.TotalSteps,
			"failed", j.FailedSteps,
			"error", j.Error,
			"created", j.CreatedAt,
		)
	}
}

func runCancel(ctx context.Context, log *logger.Logger, tracker *buildjob.Tracker, pathID string) {
	if err := tracker.LoadActiveJob(ctx, pathID); err != nil {
		log.Fatal("Could not load active job", "pathID", pathID, "error", err)
	}
	view := tracker.JobState(pathID)
	if view.State == buildjob.StateNoActiveJob {
		log.Info("No active job to cancel", "pathID", pathID)
		return
	}
	if err := tracker.CancelJob(ctx, pathID); err != nil {
		log.Fatal("Cancel request failed", "pathID", pathID, "error", err)
	}
	log.Info("Cancel requested", "pathID", pathID, "jobID", view.Job.ID)
}

func runBuild(ctx context.Context, log *logger.Logger, st *store.Store, tracker *buildjob.Tracker, snap *snapshot.Store, pathID string) error {
	// render the last persisted job immediately, then confirm with the
	// server before starting anything fresh
	if tracker.ResumePersisted(ctx, pathID) {
		v := tracker.JobState(pathID)
		log.Info("Resuming persisted build job", "pathID", pathID, "jobID", v.Job.ID, "state", v.State)
	}
	if err := tracker.LoadActiveJob(ctx, pathID); err != nil {
		log.Warn("Active job reconciliation failed, continuing", "pathID", pathID, "error", err)
	}
	view := tracker.JobState(pathID)
	if view.State == buildjob.StateNoActiveJob || view.State.Terminal() {
		if err := tracker.CreateBuildJob(ctx, pathID); err != nil {
			return err
		}
		log.Info("Build job created", "pathID", pathID, "jobID", tracker.JobState(pathID).Job.ID)
	} else {
		log.Info("Adopted running build job", "pathID", pathID, "jobID", view.Job.ID, "state", view.State)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		changes, unsub := st.Changes()
		defer unsub()
		for {
			select {
			case <-gctx.Done():
				return nil
			case kind, ok := <-changes:
				if !ok {
					return nil
				}
				log.Debug("cache changed", "kind", kind)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				tracker.Unsubscribe(pathID)
				return nil
			case <-ticker.C:
				v := tracker.JobState(pathID)
				log.Info("build progress",
					"state", v.State,
					"completed", v.Job.CompletedSteps,
					"total", v.Job.TotalSteps,
					"failed", v.Job.FailedSteps,
					"pct", v.Progress,
					"op", v.Job.CurrentOperation,
				)
				if v.State.Terminal() {
					if snap != nil {
						if err := st.SaveSnapshot(context.Background(), snap); err != nil {
							log.Warn("Snapshot save failed", "error", err)
						}
					}
					if v.State == buildjob.StateFailed {
						return fmt.Errorf("build job failed: %s", v.Err)
					}
					return nil
				}
			}
		}
	})

	return g.Wait()
}
