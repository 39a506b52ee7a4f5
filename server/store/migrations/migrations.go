package migrations

// DialectTemplate is used as the templating control for differing SQL syntax between our supported databases
type DialectTemplate struct {
	Binary            string
	IntegerPrimaryKey string
}

// MigrationSet provides a set of migrations that can be applied to a database.
type MigrationSet []MigrationData

// MigrationData provides the data for a single migration, including Up and Down SQL.
// Templated values are supported and will be substituted for database-specific values
// before the migrations are applied.
type MigrationData struct {
	SequenceNumber int64
	Name           string
	UpSQL          string
	DownSQL        string
}

// OrchestratorServerMigrations is the set of migrations to set up the database for the job
// orchestration server.
var OrchestratorServerMigrations = MigrationSet{
	{
		SequenceNumber: 1,
		Name:           "create_workflows",
		UpSQL: `CREATE TABLE IF NOT EXISTS workflows
				(
					workflow_id text NOT NULL PRIMARY KEY,
					workflow_created_at timestamp without time zone NOT NULL,
					workflow_updated_at timestamp without time zone NOT NULL,
					workflow_etag text NOT NULL,
					workflow_user_id text NOT NULL,
					workflow_name text NOT NULL,
					workflow_root_job_ids text NOT NULL,
					workflow_edges text NOT NULL
				);
				CREATE UNIQUE INDEX IF NOT EXISTS workflows_created_at_id_desc_unique_index ON workflows(
					workflow_created_at DESC,
					workflow_id DESC);
				CREATE INDEX IF NOT EXISTS workflows_user_id_index ON workflows(workflow_user_id);`,
		DownSQL: `DROP TABLE workflows;`,
	},
	{
		SequenceNumber: 2,
		Name:           "create_jobs",
		UpSQL: `CREATE TABLE IF NOT EXISTS jobs
				(
					job_id text NOT NULL PRIMARY KEY,
					job_created_at timestamp without time zone NOT NULL,
					job_updated_at timestamp without time zone NOT NULL,
					job_etag text NOT NULL,
					job_workflow_id text NOT NULL REFERENCES workflows (workflow_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
					job_command_id text NOT NULL,
					job_parameters text NOT NULL,
					job_pending text NOT NULL,
					job_status text NOT NULL,
					job_external_id text,
					job_step text,
					job_logging_ref text,
					job_hidden boolean NOT NULL,
					job_hidden_history text,
					job_user_id text NOT NULL,
					job_input_artifact_ids text,
					job_validator_ids text,
					job_output_bindings text,
					job_error text,
					job_timings text NOT NULL,
					job_validator_provenance text
				);
				CREATE UNIQUE INDEX IF NOT EXISTS jobs_created_at_id_desc_unique_index ON jobs(
					job_created_at DESC,
					job_id DESC);
				CREATE INDEX IF NOT EXISTS jobs_workflow_id_index ON jobs(job_workflow_id);
				CREATE INDEX IF NOT EXISTS jobs_status_index ON jobs(job_status);
				CREATE INDEX IF NOT EXISTS jobs_command_id_status_index ON jobs(job_command_id, job_status);`,
		DownSQL: `DROP TABLE jobs;`,
	},
	{
		SequenceNumber: 3,
		Name:           "create_jobs_depend_on_jobs",
		UpSQL: `CREATE TABLE IF NOT EXISTS jobs_depend_on_jobs
				(
				   jobs_depend_on_jobs_id {{ .IntegerPrimaryKey}},
				   jobs_depend_on_jobs_parent_job_id text NOT NULL REFERENCES jobs (job_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
				   jobs_depend_on_jobs_child_job_id text NOT NULL REFERENCES jobs (job_id) ON UPDATE NO ACTION ON DELETE NO ACTION,
				   jobs_depend_on_jobs_output_name text NOT NULL,
				   jobs_depend_on_jobs_parameter_name text NOT NULL
				);
				CREATE INDEX IF NOT EXISTS jobs_depend_on_jobs_parent_job_id_index ON jobs_depend_on_jobs(jobs_depend_on_jobs_parent_job_id);
				CREATE INDEX IF NOT EXISTS jobs_depend_on_jobs_child_job_id_index ON jobs_depend_on_jobs(jobs_depend_on_jobs_child_job_id);`,
		DownSQL: `DROP TABLE jobs_depend_on_jobs;`,
	},
	{
		SequenceNumber: 4,
		Name:           "create_resource_allocations",
		UpSQL: `CREATE TABLE IF NOT EXISTS resource_allocations
				(
					resource_allocation_name text NOT NULL,
					resource_allocation_job_type text NOT NULL,
					resource_allocation_template text NOT NULL,
					PRIMARY KEY (resource_allocation_name, resource_allocation_job_type)
				);`,
		DownSQL: `DROP TABLE resource_allocations;`,
	},
	{
		SequenceNumber: 5,
		Name:           "create_job_creation_locks",
		UpSQL: `CREATE TABLE IF NOT EXISTS job_creation_locks
				(
					job_creation_lock_id text NOT NULL PRIMARY KEY,
					job_creation_lock_created_at timestamp without time zone NOT NULL
				);`,
		DownSQL: `DROP TABLE job_creation_locks;`,
	},
	{
		SequenceNumber: 6,
		Name:           "add_job_reservation",
		UpSQL:          `ALTER TABLE jobs ADD COLUMN job_reservation text;`,
		DownSQL:        `ALTER TABLE jobs DROP COLUMN job_reservation;`,
	},
	{
		SequenceNumber: 7,
		Name:           "add_job_release_and_pending_artifact",
		UpSQL: `ALTER TABLE jobs ADD COLUMN job_release_job_id text;
				ALTER TABLE jobs ADD COLUMN job_pending_artifact_output_id text;
				ALTER TABLE jobs ADD COLUMN job_pending_artifact_payload text;`,
		DownSQL: `ALTER TABLE jobs DROP COLUMN job_release_job_id;
				ALTER TABLE jobs DROP COLUMN job_pending_artifact_output_id;
				ALTER TABLE jobs DROP COLUMN job_pending_artifact_payload;`,
	},
}
