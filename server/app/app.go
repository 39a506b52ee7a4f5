// Package app is the composition root: it wires the store, service, and collaborator layers
// together into a runnable Server. Grounded on the teacher's server/app/app.go (a thin struct of
// already-constructed services handed to main) and server/app/wire.go (the wire-inject source
// file documenting how those services are built, kept here as a plain Go function since no
// generated wire_gen.go ships with this tree).
package app

import (
	"context"
	"errors"

	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/services"
	"github.com/buildbeaver/buildbeaver/server/services/dispatch"
	"github.com/buildbeaver/buildbeaver/server/services/job"
	"github.com/buildbeaver/buildbeaver/server/services/launcher"
	"github.com/buildbeaver/buildbeaver/server/services/notifier"
	"github.com/buildbeaver/buildbeaver/server/services/notifier/mail"
	"github.com/buildbeaver/buildbeaver/server/services/resource"
	"github.com/buildbeaver/buildbeaver/server/services/validator"
	"github.com/buildbeaver/buildbeaver/server/services/watcher"
	"github.com/buildbeaver/buildbeaver/server/services/workflow"
	"github.com/buildbeaver/buildbeaver/server/store"
	"github.com/buildbeaver/buildbeaver/server/store/job_creation_locks"
	"github.com/buildbeaver/buildbeaver/server/store/jobs"
	"github.com/buildbeaver/buildbeaver/server/store/migrations"
	"github.com/buildbeaver/buildbeaver/server/store/resource_allocations"
	"github.com/buildbeaver/buildbeaver/server/store/workflows"
)

var errClusterProbeRequired = errors.New("watcher_enabled requires a cluster probe collaborator")

// Server holds every top-level service this process exposes to its CLI entrypoints, plus the
// database handle those services were built on.
type Server struct {
	DB *store.DB

	JobService       services.JobService
	WorkflowService  services.WorkflowService
	ValidatorService services.ValidatorService
	Dispatcher       services.Dispatcher
	Launcher         services.Launcher
	ResourceResolver services.ResourceResolver
	Notifier         services.Notifier

	// Watcher is nil unless WatcherEnabled was configured; only meaningful alongside the cluster
	// launcher, which is the only backend that produces external jobs for it to observe.
	Watcher *watcher.SchedulerWatcher
}

// Collaborators bundles the external, out-of-process dependencies this domain consumes only
// through an interface and never constructs itself: the command catalog, the artifact registry,
// the user directory, and (when running against a real cluster) the scheduler probe.
type Collaborators struct {
	Commands  models.CommandCatalog
	Artifacts models.ArtifactRegistry
	Users     models.UserDirectory
	Shapes    models.ShapeResolver
	Cluster   watcher.ClusterProbe // only required when config.WatcherEnabled
}

// New constructs a Server from config, wiring the store and service layers together exactly as
// the ServerConfig describes them: which Launcher backend, which Mailer transport, and whether
// the scheduler watcher should run. The returned cleanup function closes the database connection
// pool; callers should defer it.
func New(ctx context.Context, config *ServerConfig, collaborators Collaborators, logFactory logger.LogFactory) (*Server, func(), error) {
	db, cleanup, err := store.NewDatabase(ctx, config.DatabaseConfig, migrations.NewOrchestratorGolangMigrateRunner(logFactory))
	if err != nil {
		return nil, nil, err
	}

	jobStore := jobs.NewStore(db, logFactory)
	workflowStore := workflows.NewStore(db, logFactory)
	jobCreationLockStore := job_creation_locks.NewStore(db, logFactory)
	resourceAllocationStore := resource_allocations.NewStore(db, logFactory)

	jobService := job.NewService(db, jobStore, jobCreationLockStore, logFactory)

	resourceResolver := resource.NewResolver(
		resourceAllocationStore,
		collaborators.Commands,
		collaborators.Users,
		collaborators.Shapes,
		resource.DefaultClassificationRules,
		logFactory,
	)

	var lnch services.Launcher
	switch config.LauncherType {
	case LauncherTypeCluster:
		var epilogue *string
		if config.ClusterConfig.EpilogueScript != "" {
			epilogue = &config.ClusterConfig.EpilogueScript
		}
		lnch = launcher.NewClusterLauncher(
			collaborators.Commands,
			collaborators.Users,
			resourceResolver,
			launcher.ClusterLauncherConfig{
				Config:            config.LauncherConfig,
				SchedulerJobIDVar: config.ClusterConfig.SchedulerJobIDVar,
				Epilogue:          epilogue,
				SbatchPath:        config.ClusterConfig.SbatchPath,
			},
			logFactory,
		)
	default:
		lnch = launcher.NewLocalLauncher(collaborators.Commands, config.LauncherConfig, nil, logFactory)
	}

	// validatorService and dispatcher each need the other (the validator protocol dispatches
	// through the Dispatcher; the Dispatcher fails descendants through the validator protocol's
	// cascade), so validatorService is constructed first with no dispatcher and wired up via
	// SetDispatcher once dispatcher exists.
	validatorService := validator.NewService(
		db,
		jobService,
		collaborators.Commands,
		collaborators.Artifacts,
		nil,
		nil,
		config.ValidatorConfig,
		logFactory,
	)

	dispatcher := dispatch.NewService(
		jobService,
		collaborators.Commands,
		lnch,
		validatorService,
		config.LauncherConfig,
		"",
		logFactory,
	)
	validatorService.SetDispatcher(dispatcher)

	workflowService := workflow.NewService(
		db,
		workflowStore,
		jobService,
		collaborators.Commands,
		dispatcher,
		config.MaxArtifactsInWorkflow,
		logFactory,
	)

	mailer, err := newMailer(config)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	notifierService := notifier.NewService(collaborators.Users, collaborators.Commands, mailer, config.NotifierConfig)
	jobService.SetNotifier(notifierService)

	var sw *watcher.SchedulerWatcher
	if config.WatcherEnabled {
		if collaborators.Cluster == nil {
			cleanup()
			return nil, nil, errClusterProbeRequired
		}
		sw = watcher.NewSchedulerWatcher(collaborators.Cluster, nil, config.WatcherConfig, logFactory)
	}

	return &Server{
		DB:               db,
		JobService:       jobService,
		WorkflowService:  workflowService,
		ValidatorService: validatorService,
		Dispatcher:       dispatcher,
		Launcher:         lnch,
		ResourceResolver: resourceResolver,
		Notifier:         notifierService,
		Watcher:          sw,
	}, cleanup, nil
}

func newMailer(config *ServerConfig) (services.Mailer, error) {
	switch config.MailerType {
	case MailerTypeSES:
		return mail.NewSESMailer(mail.SESConfig{Region: config.SESConfig.Region, From: config.SESConfig.From})
	default:
		return mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     config.SMTPConfig.Host,
			Port:     config.SMTPConfig.Port,
			Username: config.SMTPConfig.Username,
			Password: config.SMTPConfig.Password,
			From:     config.SMTPConfig.From,
		}), nil
	}
}
