package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukehal/segreview/internal/config"
	"github.com/dukehal/segreview/internal/eventbus"
	"github.com/dukehal/segreview/internal/expgroup"
	expgrouprepo "github.com/dukehal/segreview/internal/expgroup/repositoryimpl"
	"github.com/dukehal/segreview/internal/hitposter"
	"github.com/dukehal/segreview/internal/mturk"
	"github.com/dukehal/segreview/internal/quals"
	"github.com/dukehal/segreview/internal/review"
	"github.com/dukehal/segreview/internal/task"
	taskrepo "github.com/dukehal/segreview/internal/task/repositoryimpl"
	taskconfigrepo "github.com/dukehal/segreview/internal/taskconfig/repositoryimpl"
	trainingrepo "github.com/dukehal/segreview/internal/training/repositoryimpl"
	"github.com/dukehal/segreview/pkg/clog"
	"github.com/dukehal/segreview/pkg/storage"

	server "github.com/dukehal/segreview/internal"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(ctx, env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	turkEnv, err := task.ParseEnvironment(env.TurkEnv.Environment)
	if err != nil {
		slog.Error("invalid exchange environment", "error", err)
		os.Exit(1)
	}
	client, err := mturk.NewAWSClient(ctx, turkEnv)
	if err != nil {
		slog.Error("failed to create exchange client", "error", err)
		os.Exit(1)
	}

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories
	taskRepo := taskrepo.NewYAMLRepository(store)
	trainingRepo := trainingrepo.NewYAMLRepository(store)
	groupRepo := expgrouprepo.NewYAMLRepository(store)
	configRepo := taskconfigrepo.NewYAMLRepository(store)

	// Load experiment groups and keep them in sync with the seed file.
	if err := expgroup.LoadSeed(ctx, groupRepo, env.TurkEnv.GroupSeedPath); err != nil {
		slog.Warn("failed to load group seed file, continuing with stored groups",
			"path", env.TurkEnv.GroupSeedPath, "error", err)
	} else {
		bus.PublishNew(eventbus.TypeGroupSeedLoaded, env.TurkEnv.GroupSeedPath, "", nil)
	}
	go func() {
		if err := expgroup.WatchSeed(ctx, groupRepo, env.TurkEnv.GroupSeedPath); err != nil && ctx.Err() == nil {
			slog.Error("group seed watcher stopped", "error", err)
		}
	}()

	qualProvider := quals.NewProvider(client)
	poster := hitposter.NewMTurkPoster(client, qualProvider, env.TurkEnv.TaskURL)
	engine := review.NewEngine(client, taskRepo, trainingRepo, groupRepo, configRepo, poster, qualProvider, bus)

	go logEvents(ctx, bus)

	srv := server.NewServer(env, review.NewServer(engine, env.TurkEnv.SyncBatchLimit))
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func logEvents(ctx context.Context, bus *eventbus.Bus) {
	id, ch := bus.Subscribe(64)
	defer bus.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			slog.Info("review event", "type", ev.Type, "resource_id", ev.ResourceID, "payload", ev.Payload)
		}
	}
}
