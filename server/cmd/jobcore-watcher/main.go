package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/common/util"
	"github.com/buildbeaver/buildbeaver/common/version"
	"github.com/buildbeaver/buildbeaver/server/app"
	"github.com/buildbeaver/buildbeaver/server/dto"
	"github.com/buildbeaver/buildbeaver/server/services/static"
	"github.com/buildbeaver/buildbeaver/server/services/watcher"
)

// jobcore-watcher is the process that polls the cluster scheduler's own job listing and reports
// status changes back into the same database jobcore-server writes to. It is a separate binary
// from jobcore-server (rather than a goroutine started inside it) so a scheduler outage or a
// runaway qstat invocation can't take down request handling, and so the two processes can be
// deployed, restarted and scaled independently.
func main() {
	var (
		catalogFile   string
		directoryFile string
	)
	flag.StringVar(&catalogFile, "command_catalog_file", "", "Path to a YAML command catalog file (static.Catalog).")
	flag.StringVar(&directoryFile, "user_directory_file", "", "Path to a YAML user directory file (static.Directory).")

	fmt.Printf("jobcore-watcher v%s\n", version.VersionToString())
	fmt.Printf("Starting with args: %v\n", util.FilterOSArgs(os.Args, app.LogSafeFlags))

	config, err := app.ConfigFromFlags()
	if err != nil {
		log.Fatalf("Error parsing flags: %s", err)
	}
	if catalogFile == "" || directoryFile == "" {
		log.Fatal("--command_catalog_file and --user_directory_file are required")
	}
	if config.LauncherType != app.LauncherTypeCluster {
		log.Fatal("jobcore-watcher only makes sense with --launcher_type=cluster")
	}
	config.WatcherEnabled = true

	catalog, err := static.LoadCatalog(catalogFile)
	if err != nil {
		log.Fatalf("Error loading command catalog: %s", err)
	}
	directory, err := static.LoadDirectory(directoryFile)
	if err != nil {
		log.Fatalf("Error loading user directory: %s", err)
	}

	logRegistry, err := logger.NewLogRegistry(config.LogLevels)
	if err != nil {
		log.Fatalf("Error parsing log levels: %s", err)
	}
	logFactory := logger.MakeLogrusLogFactoryStdOut(logRegistry)

	collaborators := app.Collaborators{
		Commands:  catalog,
		Artifacts: static.NewArtifactRegistry(),
		Users:     directory,
		Shapes:    static.ShapeResolver{},
		Cluster:   watcher.NewExecClusterProbe(),
	}

	srv, cleanup, err := app.New(context.Background(), config, collaborators, logFactory)
	if err != nil {
		log.Fatalf("Error creating server: %s", err)
	}
	defer cleanup()

	ctx := context.Background()
	srv.Watcher.Start(ctx)
	go consume(ctx, srv)

	log.Printf("jobcore-watcher polling every %s as owner %q", config.WatcherConfig.PollInterval, config.WatcherConfig.Owner)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	srv.Watcher.Stop()
	log.Print("jobcore-watcher shutdown complete")
}

// consume drains the watcher's event stream, translating each terminal observation into a
// ValidatorService.Complete call. Non-terminal statuses (queued, running) are logged but don't
// call Complete: only a job reaching success or error is a "completion" as far as the validator
// protocol is concerned.
func consume(ctx context.Context, srv *app.Server) {
	for event := range srv.Watcher.Events() {
		if event.Quit {
			return
		}
		switch event.Status {
		case models.JobStatusSuccess, models.JobStatusError:
			complete(ctx, srv, event)
		default:
			log.Printf("watcher: job %s (%s) now %s", event.JobID, event.Name, event.Status)
		}
	}
}

func complete(ctx context.Context, srv *app.Server, event watcher.Event) {
	job, err := srv.JobService.ReadByExternalID(ctx, nil, event.JobID)
	if err != nil {
		log.Printf("watcher: error resolving external job id %s: %s", event.JobID, err)
		return
	}

	outcome := &dto.CompleteJob{JobID: job.ID, Success: event.Status == models.JobStatusSuccess}
	if !outcome.Success {
		exit := 0
		if event.ExitStatus != nil {
			exit = *event.ExitStatus
		}
		outcome.Error = models.NewError(fmt.Errorf("cluster job %s (%s) exited %d", event.JobID, event.Name, exit))
	}

	if _, err := srv.ValidatorService.Complete(ctx, nil, outcome); err != nil {
		log.Printf("watcher: error completing job %s: %s", job.ID, err)
	}
}
