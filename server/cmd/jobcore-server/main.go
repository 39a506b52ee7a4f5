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
	"github.com/buildbeaver/buildbeaver/common/util"
	"github.com/buildbeaver/buildbeaver/common/version"
	"github.com/buildbeaver/buildbeaver/server/app"
	"github.com/buildbeaver/buildbeaver/server/services/static"
)

func main() {
	var (
		catalogFile   string
		directoryFile string
	)
	flag.StringVar(&catalogFile, "command_catalog_file", "", "Path to a YAML command catalog file (static.Catalog).")
	flag.StringVar(&directoryFile, "user_directory_file", "", "Path to a YAML user directory file (static.Directory).")

	fmt.Printf("jobcore-server v%s\n", version.VersionToString())
	fmt.Printf("Starting with args: %v\n", util.FilterOSArgs(os.Args, app.LogSafeFlags))

	config, err := app.ConfigFromFlags()
	if err != nil {
		log.Fatalf("Error parsing flags: %s", err)
	}
	if catalogFile == "" || directoryFile == "" {
		log.Fatal("--command_catalog_file and --user_directory_file are required")
	}

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

	// jobcore-server never runs the scheduler watcher inline: cmd/jobcore-watcher is the
	// dedicated process for that, polling the cluster and writing status changes back to this
	// same database. Forcing it off here regardless of what was passed on the command line keeps
	// that split unambiguous rather than letting a stray --watcher_enabled start a second poll
	// loop inside this process.
	config.WatcherEnabled = false

	collaborators := app.Collaborators{
		Commands:  catalog,
		Artifacts: static.NewArtifactRegistry(),
		Users:     directory,
		Shapes:    static.ShapeResolver{},
	}

	_, cleanup, err := app.New(context.Background(), config, collaborators, logFactory)
	if err != nil {
		log.Fatalf("Error creating server: %s", err)
	}
	defer cleanup()

	log.Printf("jobcore-server ready: launcher=%s mailer=%s", config.LauncherType, config.MailerType)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Print("jobcore-server shutdown complete")
}
