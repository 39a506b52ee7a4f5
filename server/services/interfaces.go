// Package services declares the operation-level interfaces that sit between the store layer and
// the composition root (server/app). Grounded on the teacher's server/services/interfaces.go
// (one file collecting every top-level service interface plus the narrow external collaborators
// they depend on), trimmed to this domain's actual collaborators: there is no HTTP surface, no
// authentication/authorization layer, and no SCM sync here, so the teacher's
// QueueService/LogService/BlobStore/RunnerService/AuthorizationService/SCM family has no analog.
package services

import (
	"context"

	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/dto"
	"github.com/buildbeaver/buildbeaver/server/store"
)

// JobService implements the job state machine, the duplicate-job guard, and
// the per-job half of the validator protocol. See server/services/job.
type JobService interface {
	Read(ctx context.Context, txOrNil *store.Tx, id models.JobID) (*models.Job, error)
	ListByCommandAndStatus(ctx context.Context, txOrNil *store.Tx, commandID models.CommandID, statuses []models.JobStatus) ([]*models.Job, error)
	ListChildren(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) ([]*models.Job, error)
	ReadByExternalID(ctx context.Context, txOrNil *store.Tx, externalID string) (*models.Job, error)
	Create(ctx context.Context, txOrNil *store.Tx, create *dto.CreateJob) error
	Delete(ctx context.Context, txOrNil *store.Tx, id models.JobID) error
	HoldAsWaiting(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) error
	Submit(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error)
	Heartbeat(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error)
	SetStep(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, step string) (*models.Job, error)
	MarkExternalID(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, externalID string) error
	SetError(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, cause error) (*models.Job, error)
	SetHidden(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, hidden bool, by models.UserID) (*models.Job, error)
	WaitForRelease(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error)
	CompleteSuccess(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, bindings models.OutputBindingMap) (*models.Job, error)
	SetValidators(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, validatorIDs []models.JobID, releaseJobID models.JobID) error
	SetPendingArtifact(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, outputID models.CommandOutputID, payload *models.ArtifactPayload) error
	ResolvePending(ctx context.Context, txOrNil *store.Tx, childID models.JobID, parentID models.JobID, bindings map[string]models.ArtifactID) (ready bool, err error)
}

// WorkflowService implements DAG construction and topological submission.
// See server/services/workflow.
type WorkflowService interface {
	Read(ctx context.Context, txOrNil *store.Tx, id models.WorkflowID) (*models.Workflow, error)
	FromScratch(ctx context.Context, txOrNil *store.Tx, userID models.UserID, commandName string, parameters map[string]models.ParameterValue, name models.ResourceName, force bool) (*models.Workflow, error)
	FromDefault(ctx context.Context, txOrNil *store.Tx, userID models.UserID, template *dto.WorkflowTemplate, requiredParams map[string]models.ParameterValue, name models.ResourceName, force bool) (*models.Workflow, error)
	Add(ctx context.Context, txOrNil *store.Tx, workflowID models.WorkflowID, commandName string, defaultParams map[string]models.ParameterValue, connections map[string]models.JobID, connectionOutputs map[string]string, force bool) (*models.Job, error)
	Remove(ctx context.Context, txOrNil *store.Tx, workflowID models.WorkflowID, jobID models.JobID, cascade bool) error
	Submit(ctx context.Context, txOrNil *store.Tx, workflowID models.WorkflowID) error
}

// ValidatorService implements the two-phase artifact-production protocol: fan-out of
// Validate jobs on a transformation job's completion, the release_validators barrier, and the
// cascading failure of a job's descendants. See server/services/validator.
type ValidatorService interface {
	// Complete records the outcome of a job's execution (as reported by a Launcher or the
	// SchedulerWatcher) and drives the validator protocol: artifact-definition jobs are either
	// completed directly or held waiting for release; artifact-transformation jobs fan out one
	// Validate job per output and queue a release_validators job behind them.
	Complete(ctx context.Context, txOrNil *store.Tx, complete *dto.CompleteJob) (*models.Job, error)
	// ReleaseValidators runs the release_validators job for parentJobID: it blocks (polling at a
	// fixed interval) until every validator of parentJobID has reached waiting or error, then
	// either materializes every validator's artifact and releases the parent, or fails the parent
	// and every descendant with the aggregated validator error.
	ReleaseValidators(ctx context.Context, parentJobID models.JobID) error
	// FailCascade transitions jobID and every reachable descendant to error, each carrying a
	// dependency-failed message naming the job that triggered the cascade.
	FailCascade(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, cause error) error
}

// Launcher dispatches a single queued job to an execution backend. The two concrete
// implementations are LocalLauncher (spawns a child OS process) and ClusterLauncher (writes and
// submits an sbatch batch script). Chaining a job's dependents behind it and the ENVIRONMENT
// special path are the Dispatcher's concern, not the Launcher's. See server/services/launcher.
type Launcher interface {
	// Launch dispatches job, whose status must already be queued, naming parentExternalID as its
	// upstream dependency (empty if none). Returns the external id the backend assigned to job.
	Launch(ctx context.Context, job *models.Job, parentExternalID string) (externalID string, err error)
	// ChainsDependents reports whether this backend expresses a job chain as a linear sequence of
	// afterok dependencies (cluster) or as independent, immediately-started processes with no
	// ordering (local). The Dispatcher consults this to decide how to submit a fan-out's tail.
	ChainsDependents() bool
}

// ResourceResolver computes the resource-allocation string appended to a cluster submission
// command. extraResourceParams comes from the submitting user's profile; a job's own
// Reservation field (if set) is read directly off the job.
type ResourceResolver interface {
	Resolve(ctx context.Context, job *models.Job, extraResourceParams string) (string, error)
}

// Dispatcher drives a submittable job from the queued state out to a Launcher and on to its
// dependents. It owns the ENVIRONMENT special path (synchronous env_script plus start_script
// execution, bypassing Launcher entirely) and the chain-vs-independent-start distinction between
// the cluster and local backends. See server/services/dispatch.
type Dispatcher interface {
	// Dispatch hands jobID (already transitioned to queued by the caller) to the Launcher, or runs
	// it on the ENVIRONMENT path, and records its external id. It does not dispatch children: the
	// validator service's resolveChildren submits and dispatches each child once it is ready.
	Dispatch(ctx context.Context, jobID models.JobID) error
	// DispatchChain submits lead, then recursively submits the rest of the chain with lead's new
	// external id as parent when the configured Launcher chains dependents, or independently (in
	// parallel, no ordering) when it does not. Used by the validator service to
	// fan out a transformation job's n validator chains.
	DispatchChain(ctx context.Context, chain []models.JobID) error
}

// Notifier turns a job status transition into an email send decision.
// See server/services/notifier.
type Notifier interface {
	NotifyStatusChange(ctx context.Context, job *models.Job, previous models.JobStatus) error
}

// Mailer is the narrow delivery-transport collaborator the Notifier renders messages through.
// Concrete implementations (SMTP, SES) live in server/services/notifier/mail.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a single rendered email, independent of the transport that delivers it.
type Message struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
}
