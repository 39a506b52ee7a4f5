package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/server/services/launcher"
	"github.com/buildbeaver/buildbeaver/server/services/notifier"
	"github.com/buildbeaver/buildbeaver/server/services/validator"
	"github.com/buildbeaver/buildbeaver/server/services/watcher"
	"github.com/buildbeaver/buildbeaver/server/store"
)

// LauncherTypeLocal and LauncherTypeCluster name the two supported Launcher backends.
const (
	LauncherTypeLocal   = "local"
	LauncherTypeCluster = "cluster"

	MailerTypeSMTP = "smtp"
	MailerTypeSES  = "ses"
)

// LogSafeFlags is a list of flags by name whose values are safe to log.
var LogSafeFlags = []string{
	"database_driver",
	"launcher_type",
	"launcher_base_url",
	"validate_command_name",
	"release_validators_command_name",
	"dependency_q_cnt",
	"max_artifacts_in_workflow",
	"watcher_enabled",
	"watcher_poll_interval",
	"watcher_owner",
	"mailer_type",
	"smtp_host",
	"smtp_port",
	"ses_region",
	"log_levels",
}

// ClusterConfig carries the sbatch-specific settings ClusterLauncherConfig needs beyond the
// shared launcher.Config, plus the epilogue script path, as flags rather than Go values.
type ClusterConfig struct {
	SchedulerJobIDVar string
	EpilogueScript    string
	SbatchPath        string
}

// ServerConfig is the full set of runtime configuration for the orchestration server, assembled
// from command line flags by ConfigFromFlags.
type ServerConfig struct {
	DatabaseConfig         store.DatabaseConfig
	LauncherConfig         launcher.Config
	LauncherType           string
	ClusterConfig          ClusterConfig
	ValidatorConfig        validator.Config
	WatcherConfig          watcher.Config
	WatcherEnabled         bool
	NotifierConfig         notifier.Config
	MailerType             string
	SMTPConfig             SMTPFlags
	SESConfig              SESFlags
	MaxArtifactsInWorkflow int
	LogLevels              logger.LogLevelConfig
}

// SMTPFlags and SESFlags mirror mail.SMTPConfig/mail.SESConfig but are declared here (rather
// than imported from server/services/notifier/mail) so this file doesn't need to depend on
// that package just to parse flags into it; app.New does the final translation.
type SMTPFlags struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SESFlags struct {
	Region string
	From   string
}

func ConfigFromFlags() (*ServerConfig, error) {
	var (
		databaseDriverStr string
		logLevels         string
	)

	config := &ServerConfig{}

	// Database
	flag.StringVar(&databaseDriverStr, "database_driver",
		string(store.Sqlite), "The database driver to use (sqlite3|postgres)")
	flag.StringVar((*string)(&config.DatabaseConfig.ConnectionString), "database_connection_string",
		defaultSQLiteConnectionString, "The connection string for the database")
	flag.IntVar(&config.DatabaseConfig.MaxIdleConnections, "database_max_idle_connections",
		store.DefaultDatabaseMaxIdleConnections, "The maximum number of idle database connections to use")
	flag.IntVar(&config.DatabaseConfig.MaxOpenConnections, "database_max_open_connections",
		store.DefaultDatabaseMaxOpenConnections, "The maximum number of open database connections to use")

	// Launcher
	flag.StringVar(&config.LauncherType, "launcher_type",
		LauncherTypeLocal, fmt.Sprintf("The job launcher backend to use (%s|%s)", LauncherTypeLocal, LauncherTypeCluster))
	flag.StringVar(&config.LauncherConfig.BaseWorkDir, "launcher_base_work_dir",
		defaultWorkDir, "The base directory jobs write their working files under.")
	flag.StringVar(&config.LauncherConfig.BaseURL, "launcher_base_url",
		"http://localhost", "The base URL a job's start script uses to reach this server.")
	flag.StringVar(&config.LauncherConfig.PortalDir, "launcher_portal_dir",
		"", "An optional directory of portal scripts copied alongside each job's work directory.")
	flag.StringVar(&config.ClusterConfig.SchedulerJobIDVar, "cluster_scheduler_job_id_var",
		"PBS_JOBID", "The environment variable the cluster scheduler exposes the job id as.")
	flag.StringVar(&config.ClusterConfig.EpilogueScript, "cluster_epilogue_script",
		"", "An optional epilogue script path appended to every submitted batch script.")
	flag.StringVar(&config.ClusterConfig.SbatchPath, "cluster_sbatch_path",
		"sbatch", "The path to the sbatch binary used to submit cluster jobs.")

	// Validator protocol
	flag.StringVar(&config.ValidatorConfig.ValidateCommandName, "validate_command_name",
		"Validate", "The name of the catalog command instantiated for each artifact-transformation output.")
	flag.StringVar(&config.ValidatorConfig.ReleaseValidatorsCommandName, "release_validators_command_name",
		"release_validators", "The name of the catalog command instantiated as the validator barrier.")
	flag.IntVar(&config.ValidatorConfig.DependencyQCnt, "dependency_q_cnt",
		2, "The maximum chain length a transformation job's validator fan-out is split into.")
	flag.DurationVar(&config.ValidatorConfig.PollInterval, "validator_poll_interval",
		10*time.Second, "How often the release_validators barrier checks its validators' statuses.")
	flag.DurationVar(&config.ValidatorConfig.ChildSubmitDelay, "child_submit_delay",
		0, "An optional pause between successive child dispatches once a parent's outputs are released.")

	// Workflow
	flag.IntVar(&config.MaxArtifactsInWorkflow, "max_artifacts_in_workflow",
		1000, "The maximum number of artifact-producing jobs allowed in a single workflow.")

	// Scheduler watcher
	flag.BoolVar(&config.WatcherEnabled, "watcher_enabled",
		false, "True to start the cluster scheduler watcher alongside the server (only meaningful with launcher_type=cluster).")
	flag.StringVar(&config.WatcherConfig.Owner, "watcher_owner",
		"", "Restrict the cluster job listing this watcher polls to jobs owned by this cluster user.")
	flag.DurationVar(&config.WatcherConfig.PollInterval, "watcher_poll_interval",
		watcher.DefaultPollInterval, "How often the watcher polls the cluster's job listing. Enforced to a floor of 60s.")

	// Notifications
	flag.StringVar(&config.MailerType, "mailer_type",
		MailerTypeSMTP, fmt.Sprintf("The mail transport notifications are sent through (%s|%s)", MailerTypeSMTP, MailerTypeSES))
	flag.StringVar(&config.NotifierConfig.SysAdminAddress, "sysadmin_email_address",
		"", "Address admin and wet-lab-admin job owners' notifications are also cc'd to.")
	flag.StringVar(&config.SMTPConfig.Host, "smtp_host", "", "The SMTP relay host, if mailer_type=smtp.")
	flag.IntVar(&config.SMTPConfig.Port, "smtp_port", 587, "The SMTP relay port, if mailer_type=smtp.")
	flag.StringVar(&config.SMTPConfig.Username, "smtp_username", "", "The SMTP relay username, if mailer_type=smtp.")
	flag.StringVar(&config.SMTPConfig.Password, "smtp_password", "", "The SMTP relay password, if mailer_type=smtp.")
	flag.StringVar(&config.SMTPConfig.From, "smtp_from", "", "The From address for SMTP-delivered notifications.")
	flag.StringVar(&config.SESConfig.Region, "ses_region", "", "The AWS region to send mail through, if mailer_type=ses.")
	flag.StringVar(&config.SESConfig.From, "ses_from", "", "The From address for SES-delivered notifications.")

	// Misc
	flag.StringVar(&logLevels, "log_levels",
		"", fmt.Sprintf("A comma separated list of name=level pairs where name is the name of the logger and level is one of: %s", logger.ListLogLevels()))
	flag.Parse()

	config.DatabaseConfig.Driver = store.DBDriver(databaseDriverStr)
	config.LogLevels = logger.LogLevelConfig(logLevels)

	if config.LauncherType != LauncherTypeLocal && config.LauncherType != LauncherTypeCluster {
		return nil, errors.New("--launcher_type must be one of: local, cluster")
	}
	if config.MailerType != MailerTypeSMTP && config.MailerType != MailerTypeSES {
		return nil, errors.New("--mailer_type must be one of: smtp, ses")
	}
	if strings.TrimSpace(config.LauncherConfig.BaseWorkDir) == "" {
		return nil, errors.New("--launcher_base_work_dir must be set")
	}

	return config, nil
}
