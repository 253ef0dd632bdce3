// segreview-admin drives the review engine from the command line, against
// the same storage the server uses. Meant for batch operators: posting a
// batch, forcing a sync, checking progress.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

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
	"github.com/dukehal/segreview/internal/taskconfig"
	taskconfigrepo "github.com/dukehal/segreview/internal/taskconfig/repositoryimpl"
	trainingrepo "github.com/dukehal/segreview/internal/training/repositoryimpl"
	"github.com/dukehal/segreview/pkg/clog"
	"github.com/dukehal/segreview/pkg/storage"
)

var (
	app = kingpin.New("segreview-admin", "Operator tooling for the segmentation review engine")

	syncCmd   = app.Command("sync", "Pull reviewable submissions from the exchange")
	syncLimit = syncCmd.Flag("limit", "Max reviewable items to request").Default("100").Int()

	driftCmd = app.Command("drift", "Reconcile local records against the exchange")

	summaryCmd = app.Command("summary", "Show per-group batch progress")

	postCmd   = app.Command("post", "Post tasks for a group's stored configurations")
	postGroup = postCmd.Arg("group", "Experiment group id").Required().String()
	postLimit = postCmd.Flag("limit", "Max tasks to post").Default("0").Int()

	autoApproveCmd       = app.Command("auto-approve", "Approve a group's submissions that pass a content heuristic")
	autoApproveGroup     = autoApproveCmd.Arg("group", "Experiment group id").Required().String()
	autoApproveHeuristic = autoApproveCmd.Flag("heuristic", "object_count or class_diversity").Default("object_count").String()

	approveCmd      = app.Command("approve", "Approve a submitted task")
	approveID       = approveCmd.Arg("task-id", "Task id").Required().String()
	approveFeedback = approveCmd.Flag("feedback", "Worker-facing feedback").Default("").String()

	rejectCmd    = app.Command("reject", "Reject a submitted task and post a replacement")
	rejectID     = rejectCmd.Arg("task-id", "Task id").Required().String()
	rejectReason = rejectCmd.Arg("reason", "One of: empty, too_few, inaccurate").Required().String()

	overrideCmd      = app.Command("override", "Reverse a rejection and pay the worker")
	overrideID       = overrideCmd.Arg("task-id", "Task id").Required().String()
	overrideFeedback = overrideCmd.Flag("feedback", "Worker-facing feedback").Default("").String()

	expireCmd = app.Command("expire", "Remove an open task from the marketplace")
	expireID  = expireCmd.Arg("task-id", "Task id").Required().String()

	removeCmd   = app.Command("remove", "Pull a group's open tasks off the marketplace")
	removeGroup = removeCmd.Arg("group", "Experiment group id").Required().String()

	trainingCmd        = app.Command("training", "Training review commands")
	trainingApproveCmd = trainingCmd.Command("approve-all", "Pay out every submitted training assignment without scoring")
	trainingScoreCmd   = trainingCmd.Command("score", "Score a training submission")
	trainingTaskID     = trainingScoreCmd.Arg("task-id", "Training task id").Required().String()
	trainingAsgnID     = trainingScoreCmd.Arg("assignment-id", "Assignment id").Required().String()
	trainingPass       = trainingScoreCmd.Flag("pass", "Grant the qualification").Bool()

	configCmd     = app.Command("config", "Task configuration commands")
	configLoadCmd = configCmd.Command("load", "Import task configurations from a YAML file")
	configPath    = configLoadCmd.Arg("path", "Config file path").Required().String()

	groupsCmd     = app.Command("groups", "Experiment group commands")
	groupsLoadCmd = groupsCmd.Command("load", "Replace stored groups from the seed file")
	groupsPath    = groupsLoadCmd.Arg("path", "Seed file path").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		fatal("failed to load env", err)
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(
		clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(env.SlogLevel())))))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(ctx, env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
	}
	if err != nil {
		fatal("failed to create storage", err)
	}

	taskRepo := taskrepo.NewYAMLRepository(store)
	trainingRepo := trainingrepo.NewYAMLRepository(store)
	groupRepo := expgrouprepo.NewYAMLRepository(store)
	configRepo := taskconfigrepo.NewYAMLRepository(store)

	// Commands that only touch storage skip the exchange client, so they
	// work without AWS credentials.
	switch command {
	case configLoadCmd.FullCommand():
		n, err := taskconfig.LoadSeed(ctx, configRepo, *configPath)
		if err != nil {
			fatal("failed to load task configs", err)
		}
		fmt.Printf("stored %d task configurations\n", n)
		return
	case groupsLoadCmd.FullCommand():
		if err := expgroup.LoadSeed(ctx, groupRepo, *groupsPath); err != nil {
			fatal("failed to load groups", err)
		}
		fmt.Println("groups replaced from seed file")
		return
	}

	turkEnv, err := task.ParseEnvironment(env.TurkEnv.Environment)
	if err != nil {
		fatal("invalid exchange environment", err)
	}
	client, err := mturk.NewAWSClient(ctx, turkEnv)
	if err != nil {
		fatal("failed to create exchange client", err)
	}
	qualProvider := quals.NewProvider(client)
	poster := hitposter.NewMTurkPoster(client, qualProvider, env.TurkEnv.TaskURL)
	engine := review.NewEngine(client, taskRepo, trainingRepo, groupRepo, configRepo, poster, qualProvider, eventbus.New())

	switch command {
	case syncCmd.FullCommand():
		res, err := engine.Sync(ctx, *syncLimit)
		if err != nil {
			fatal("sync failed", err)
		}
		printJSON(res)
	case driftCmd.FullCommand():
		res, err := engine.ReconcileDrift(ctx)
		if err != nil {
			fatal("drift reconciliation failed", err)
		}
		printJSON(res)
	case summaryCmd.FullCommand():
		summary, err := engine.Summarize(ctx)
		if err != nil {
			fatal("summary failed", err)
		}
		printJSON(summary)
	case postCmd.FullCommand():
		ids, err := engine.PostBatch(ctx, *postGroup, *postLimit)
		if err != nil {
			fatal("posting failed", err)
		}
		fmt.Printf("posted %d tasks\n", len(ids))
		for _, id := range ids {
			fmt.Println(id)
		}
	case autoApproveCmd.FullCommand():
		res, err := engine.AutoApproveGroup(ctx, *autoApproveGroup, review.Heuristic(*autoApproveHeuristic))
		if err != nil {
			fatal("auto-approve failed", err)
		}
		printJSON(res)
	case approveCmd.FullCommand():
		if err := engine.Approve(ctx, *approveID, *approveFeedback); err != nil {
			fatal("approve failed", err)
		}
		fmt.Println("approved")
	case rejectCmd.FullCommand():
		newID, err := engine.RejectAndRepost(ctx, *rejectID, review.RejectReason(*rejectReason))
		if err != nil {
			fatal("reject failed", err)
		}
		fmt.Printf("rejected, replacement task: %s\n", newID)
	case overrideCmd.FullCommand():
		if err := engine.OverrideRejection(ctx, *overrideID, *overrideFeedback); err != nil {
			fatal("override failed", err)
		}
		fmt.Println("rejection overridden")
	case expireCmd.FullCommand():
		if err := engine.ExpireTask(ctx, *expireID); err != nil {
			fatal("expire failed", err)
		}
		fmt.Println("expired")
	case removeCmd.FullCommand():
		res, err := engine.RemoveOpenTasks(ctx, *removeGroup)
		if err != nil {
			fatal("removal failed", err)
		}
		printJSON(res)
	case trainingApproveCmd.FullCommand():
		n, err := engine.ApproveTrainingBatch(ctx)
		if err != nil {
			fatal("training approval failed", err)
		}
		fmt.Printf("approved %d training assignments\n", n)
	case trainingScoreCmd.FullCommand():
		if err := engine.ScoreTraining(ctx, *trainingTaskID, *trainingAsgnID, *trainingPass); err != nil {
			fatal("training score failed", err)
		}
		fmt.Println("scored")
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("failed to encode output", err)
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
