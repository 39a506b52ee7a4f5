// Package validator implements the ValidatorService described in server/services/interfaces.go:
// the two-phase artifact-production protocol that sits behind every artifact-producing job.
// Grounded on server/services/workflow/workflow_service.go's commit-before-dispatch pattern, with
// the release_validators barrier's wait loop built on the clock.Clock field plus select-over-
// clk.After idiom (a clk.After(duration) case inside a select), so it is deterministically
// testable with a fake clock.
package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/dto"
	"github.com/buildbeaver/buildbeaver/server/services"
	"github.com/buildbeaver/buildbeaver/server/store"
)

const (
	defaultValidateCommandName          = "Validate"
	defaultReleaseValidatorsCommandName = "release_validators"
	defaultDependencyQCnt               = 2
	defaultPollInterval                 = 10 * time.Second
)

// Jobs is the narrow slice of job.Service the validator protocol needs: reading a job and its
// children, creating the Validate and release_validators jobs a transformation fans out into,
// and the handful of status transitions the protocol itself drives directly rather than through
// the Dispatcher.
type Jobs interface {
	Read(ctx context.Context, txOrNil *store.Tx, id models.JobID) (*models.Job, error)
	ListChildren(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) ([]*models.Job, error)
	Create(ctx context.Context, txOrNil *store.Tx, create *dto.CreateJob) error
	Submit(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error)
	Heartbeat(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error)
	SetError(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, cause error) (*models.Job, error)
	WaitForRelease(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error)
	CompleteSuccess(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, bindings models.OutputBindingMap) (*models.Job, error)
	SetValidators(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, validatorIDs []models.JobID, releaseJobID models.JobID) error
	SetPendingArtifact(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, outputID models.CommandOutputID, payload *models.ArtifactPayload) error
	ResolvePending(ctx context.Context, txOrNil *store.Tx, childID models.JobID, parentID models.JobID, bindings map[string]models.ArtifactID) (ready bool, err error)
}

// Config carries the tunables the runtime configuration block exposes for this protocol;
// defaulted in NewService when left zero.
type Config struct {
	// ValidateCommandName and ReleaseValidatorsCommandName name the catalog entries this service
	// instantiates for a transformation job's fan-out. Default to "Validate" and
	// "release_validators".
	ValidateCommandName          string
	ReleaseValidatorsCommandName string
	// DependencyQCnt is the maximum chain length (n) a transformation's validator fan-out is
	// split into; a fan-out of m validators produces ceil(m/n) chains. Defaults to 2.
	DependencyQCnt int
	// PollInterval is the fixed interval release_validators waits between checks of its
	// validators' statuses. Defaults to 10s.
	PollInterval time.Duration
	// ChildSubmitDelay is a short pause inserted between successive child dispatches once a
	// parent's outputs are released, so a burst of now-ready children doesn't all launch in the
	// same instant. Zero disables the pause.
	ChildSubmitDelay time.Duration
}

// Service implements services.ValidatorService.
type Service struct {
	db         *store.DB
	jobs       Jobs
	commands   models.CommandCatalog
	registry   models.ArtifactRegistry
	dispatcher services.Dispatcher
	clk        clock.Clock
	config     Config
	logger.Log
}

func NewService(
	db *store.DB,
	jobs Jobs,
	commands models.CommandCatalog,
	registry models.ArtifactRegistry,
	dispatcher services.Dispatcher,
	clk clock.Clock,
	config Config,
	logFactory logger.LogFactory,
) *Service {
	if config.ValidateCommandName == "" {
		config.ValidateCommandName = defaultValidateCommandName
	}
	if config.ReleaseValidatorsCommandName == "" {
		config.ReleaseValidatorsCommandName = defaultReleaseValidatorsCommandName
	}
	if config.DependencyQCnt <= 0 {
		config.DependencyQCnt = defaultDependencyQCnt
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:         db,
		jobs:       jobs,
		commands:   commands,
		registry:   registry,
		dispatcher: dispatcher,
		clk:        clk,
		config:     config,
		Log:        logFactory("ValidatorService"),
	}
}

// SetDispatcher installs the Dispatcher this service fans validator chains and released children
// out through. The Dispatcher's own constructor takes this service as its failure-cascade
// collaborator, so the two are wired together after both are constructed rather than passed to
// each other's constructor.
func (s *Service) SetDispatcher(dispatcher services.Dispatcher) {
	s.dispatcher = dispatcher
}

// Complete records the outcome of a job's execution and drives the protocol appropriate to its
// command's kind: a failure cascades to descendants; an artifact-definition or Validate job
// either materializes its output immediately or holds it pending release; an
// artifact-transformation job fans out one Validate job per output behind a release_validators
// barrier.
func (s *Service) Complete(ctx context.Context, txOrNil *store.Tx, complete *dto.CompleteJob) (*models.Job, error) {
	if !complete.Success {
		cause := completionCause(complete.Error, complete.JobID)
		job, err := s.jobs.SetError(ctx, txOrNil, complete.JobID, cause)
		if err != nil {
			return nil, err
		}
		if err := s.FailCascade(ctx, txOrNil, complete.JobID, cause); err != nil {
			return nil, fmt.Errorf("error cascading failure from job %q: %w", complete.JobID, err)
		}
		return job, nil
	}

	job, err := s.jobs.Read(ctx, txOrNil, complete.JobID)
	if err != nil {
		return nil, err
	}
	cmd, err := s.commands.Get(ctx, job.CommandID)
	if err != nil {
		return nil, fmt.Errorf("error reading command %q for job %q: %w", job.CommandID, job.ID, err)
	}

	switch cmd.Kind {
	case models.CommandKindArtifactTransformation:
		return s.completeTransformation(ctx, txOrNil, job, complete.Outputs)
	case models.CommandKindArtifactDefinition, models.CommandKindValidate:
		return s.completeArtifactJob(ctx, txOrNil, job, cmd, complete.Outputs)
	default:
		return s.jobs.CompleteSuccess(ctx, txOrNil, job.ID, nil)
	}
}

// completionCause turns the *models.Error a launcher or the SchedulerWatcher attached to a
// failed completion into a plain error, falling back to a generic cause if none was given.
func completionCause(cause *models.Error, jobID models.JobID) error {
	if cause != nil && cause.Valid() {
		return cause
	}
	return gerror.NewErrRuntimeFailure(fmt.Sprintf("job %q failed with no error attached", jobID), nil)
}

// completeArtifactJob handles the single-output completion path shared by artifact-definition
// and Validate jobs: direct creation materializes the artifact and releases the job's own
// children immediately; everything else is stashed pending release_validators.
func (s *Service) completeArtifactJob(
	ctx context.Context,
	txOrNil *store.Tx,
	job *models.Job,
	cmd *models.Command,
	outputs map[models.CommandOutputID]*models.ArtifactPayload,
) (*models.Job, error) {
	if len(outputs) != 1 {
		return nil, gerror.NewErrValidationFailed(
			fmt.Sprintf("job %q of kind %s must report exactly one output, got %d", job.ID, cmd.Kind, len(outputs)))
	}
	var outputID models.CommandOutputID
	var payload *models.ArtifactPayload
	for id, p := range outputs {
		outputID, payload = id, p
	}

	directCreation := cmd.Kind == models.CommandKindArtifactDefinition &&
		(job.ValidatorProvenance == nil || job.ValidatorProvenance.DirectCreation)
	if !directCreation {
		if err := s.jobs.SetPendingArtifact(ctx, txOrNil, job.ID, outputID, payload); err != nil {
			return nil, err
		}
		return s.jobs.WaitForRelease(ctx, txOrNil, job.ID)
	}

	artifactID, err := s.registry.Materialize(ctx, job.ID, outputID, payload)
	if err != nil {
		return nil, fmt.Errorf("error materializing artifact for job %q: %w", job.ID, err)
	}
	return s.releaseOutputs(ctx, txOrNil, job, cmd, models.OutputBindingMap{outputID: artifactID})
}

// completeTransformation fans a transformation job's reported outputs out into one Validate job
// each, then a release_validators job behind all of them. The three writes (creating the
// Validate jobs, creating release_validators, and recording both on the parent via
// SetValidators) commit as a single transaction; chain dispatch and the release barrier itself
// only start once that transaction has committed, so an external process never observes a
// half-wired fan-out.
func (s *Service) completeTransformation(
	ctx context.Context,
	txOrNil *store.Tx,
	job *models.Job,
	outputs map[models.CommandOutputID]*models.ArtifactPayload,
) (*models.Job, error) {
	validateCmd, err := s.commands.GetByName(ctx, s.config.ValidateCommandName)
	if err != nil {
		return nil, fmt.Errorf("error resolving %q command: %w", s.config.ValidateCommandName, err)
	}
	releaseCmd, err := s.commands.GetByName(ctx, s.config.ReleaseValidatorsCommandName)
	if err != nil {
		return nil, fmt.Errorf("error resolving %q command: %w", s.config.ReleaseValidatorsCommandName, err)
	}
	cmd, err := s.commands.Get(ctx, job.CommandID)
	if err != nil {
		return nil, fmt.Errorf("error reading command %q for job %q: %w", job.CommandID, job.ID, err)
	}
	nameByID := make(map[models.CommandOutputID]string, len(cmd.Outputs))
	for _, o := range cmd.Outputs {
		nameByID[o.ID] = o.Name
	}

	var validatorIDs []models.JobID
	var releaseJob *models.Job
	var updated *models.Job

	err = s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		for outputID, payload := range outputs {
			v := models.NewJob(job.WorkflowID, job.UserID, validateCmd.ID, map[string]models.ParameterValue{})
			v.ValidatorProvenance = &models.ValidatorProvenance{
				JobID:           job.ID,
				CommandOutputID: outputID,
				Name:            nameByID[outputID],
				DataType:        payload.DataType,
			}
			v.PendingArtifactOutputID = outputID
			v.PendingArtifactPayload = payload
			if err := s.jobs.Create(ctx, tx, &dto.CreateJob{Job: v}); err != nil {
				return fmt.Errorf("error creating validator job for output %q: %w", nameByID[outputID], err)
			}
			validatorIDs = append(validatorIDs, v.ID)
		}

		releaseJob = models.NewJob(job.WorkflowID, job.UserID, releaseCmd.ID, map[string]models.ParameterValue{
			"job_id": models.NewScalarParameter(job.ID.String()),
		})
		if err := s.jobs.Create(ctx, tx, &dto.CreateJob{Job: releaseJob}); err != nil {
			return fmt.Errorf("error creating release_validators job for %q: %w", job.ID, err)
		}

		if err := s.jobs.SetValidators(ctx, tx, job.ID, validatorIDs, releaseJob.ID); err != nil {
			return err
		}

		var err error
		updated, err = s.jobs.WaitForRelease(ctx, tx, job.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if txOrNil != nil {
		// The caller owns this transaction and is responsible for dispatching once it commits,
		// mirroring workflow.Service.Submit.
		return updated, nil
	}

	for _, c := range chunk(validatorIDs, s.config.DependencyQCnt) {
		if err := s.dispatcher.DispatchChain(ctx, c); err != nil {
			s.WithField("job_id", job.ID).Errorf("error dispatching validator chain: %v", err)
		}
	}
	if _, err := s.jobs.Submit(ctx, nil, releaseJob.ID); err != nil {
		s.WithField("job_id", releaseJob.ID).Errorf("error submitting release_validators job: %v", err)
	} else if _, err := s.jobs.Heartbeat(ctx, nil, releaseJob.ID); err != nil {
		s.WithField("job_id", releaseJob.ID).Errorf("error starting release_validators job: %v", err)
	}
	go s.runRelease(job.ID)

	return updated, nil
}

// runRelease backs the release_validators job's execution: unlike every other command kind,
// this one is never handed to a Launcher, it runs as a goroutine owned by this service for as
// long as the barrier takes to clear.
func (s *Service) runRelease(parentJobID models.JobID) {
	if err := s.ReleaseValidators(context.Background(), parentJobID); err != nil {
		s.WithField("job_id", parentJobID).Errorf("release_validators failed: %v", err)
	}
}

// ReleaseValidators blocks, polling at Config.PollInterval, until every validator of
// parentJobID has reached waiting or error. It then either materializes every validator's
// artifact and releases parentJobID's children, or fails parentJobID and its descendants with
// the aggregated validator error.
func (s *Service) ReleaseValidators(ctx context.Context, parentJobID models.JobID) error {
	parent, err := s.jobs.Read(ctx, nil, parentJobID)
	if err != nil {
		return err
	}
	if !parent.ReleaseJobID.Valid() {
		return gerror.NewErrOperationNotPermitted(fmt.Sprintf("job %q has no release_validators job", parentJobID))
	}

	validators, err := s.readAll(ctx, parent.ValidatorIDs)
	if err != nil {
		return err
	}
	for !allTerminal(validators) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clk.After(s.config.PollInterval):
		}
		validators, err = s.readAll(ctx, parent.ValidatorIDs)
		if err != nil {
			return err
		}
	}

	var failed []*models.Job
	for _, v := range validators {
		if v.Status == models.JobStatusError {
			failed = append(failed, v)
		}
	}
	if len(failed) > 0 {
		return s.releaseWithFailure(ctx, parent, validators, failed)
	}
	return s.releaseWithSuccess(ctx, parent, validators)
}

func (s *Service) readAll(ctx context.Context, ids []models.JobID) ([]*models.Job, error) {
	out := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.jobs.Read(ctx, nil, id)
		if err != nil {
			return nil, fmt.Errorf("error reading validator job %q: %w", id, err)
		}
		out = append(out, j)
	}
	return out, nil
}

func allTerminal(validators []*models.Job) bool {
	for _, v := range validators {
		if v.Status != models.JobStatusWaiting && v.Status != models.JobStatusError {
			return false
		}
	}
	return true
}

// releaseWithFailure forces every still-waiting validator to error, fails the parent and its
// release_validators job, and cascades the aggregated cause to the parent's descendants.
func (s *Service) releaseWithFailure(ctx context.Context, parent *models.Job, validators, failed []*models.Job) error {
	var agg *multierror.Error
	for _, f := range failed {
		agg = multierror.Append(agg, fmt.Errorf("validator %q: %s", f.ID, f.Error))
	}
	cause := gerror.NewErrRuntimeFailure(fmt.Sprintf("validator(s) failed for job %q", parent.ID), agg.ErrorOrNil())

	for _, v := range validators {
		if v.Status == models.JobStatusWaiting {
			if _, err := s.jobs.SetError(ctx, nil, v.ID, cause); err != nil {
				return fmt.Errorf("error failing validator %q: %w", v.ID, err)
			}
		}
	}
	if _, err := s.jobs.SetError(ctx, nil, parent.ID, cause); err != nil {
		return err
	}
	if err := s.FailCascade(ctx, nil, parent.ID, cause); err != nil {
		return fmt.Errorf("error cascading validator failure from job %q: %w", parent.ID, err)
	}
	if _, err := s.jobs.SetError(ctx, nil, parent.ReleaseJobID, cause); err != nil {
		return fmt.Errorf("error failing release_validators job %q: %w", parent.ReleaseJobID, err)
	}
	return cause
}

// releaseWithSuccess materializes every validator's artifact, releases the parent with the
// assembled output bindings, completes the release_validators job itself, then resolves and
// dispatches every child of the parent whose pending predecessors are now all satisfied.
func (s *Service) releaseWithSuccess(ctx context.Context, parent *models.Job, validators []*models.Job) error {
	bindingsByID := models.OutputBindingMap{}
	bindingsByName := map[string]models.ArtifactID{}
	for _, v := range validators {
		artifactID, err := s.registry.Materialize(ctx, v.ID, v.PendingArtifactOutputID, v.PendingArtifactPayload)
		if err != nil {
			return fmt.Errorf("error materializing artifact for validator %q: %w", v.ID, err)
		}
		if _, err := s.jobs.CompleteSuccess(ctx, nil, v.ID, models.OutputBindingMap{v.PendingArtifactOutputID: artifactID}); err != nil {
			return fmt.Errorf("error completing validator %q: %w", v.ID, err)
		}
		bindingsByID[v.ValidatorProvenance.CommandOutputID] = artifactID
		bindingsByName[v.ValidatorProvenance.Name] = artifactID
	}
	if _, err := s.jobs.CompleteSuccess(ctx, nil, parent.ID, bindingsByID); err != nil {
		return err
	}
	if _, err := s.jobs.CompleteSuccess(ctx, nil, parent.ReleaseJobID, nil); err != nil {
		return fmt.Errorf("error completing release_validators job %q: %w", parent.ReleaseJobID, err)
	}
	return s.resolveChildren(ctx, nil, parent.ID, bindingsByName)
}

// releaseOutputs completes job with bindingsByID and resolves its children, used by the
// direct-creation path where there is no barrier to wait for.
func (s *Service) releaseOutputs(
	ctx context.Context,
	txOrNil *store.Tx,
	job *models.Job,
	cmd *models.Command,
	bindingsByID models.OutputBindingMap,
) (*models.Job, error) {
	updated, err := s.jobs.CompleteSuccess(ctx, txOrNil, job.ID, bindingsByID)
	if err != nil {
		return nil, err
	}
	nameByID := make(map[models.CommandOutputID]string, len(cmd.Outputs))
	for _, o := range cmd.Outputs {
		nameByID[o.ID] = o.Name
	}
	bindingsByName := make(map[string]models.ArtifactID, len(bindingsByID))
	for id, artifactID := range bindingsByID {
		bindingsByName[nameByID[id]] = artifactID
	}
	if err := s.resolveChildren(ctx, txOrNil, job.ID, bindingsByName); err != nil {
		return nil, err
	}
	return updated, nil
}

// resolveChildren applies bindingsByName against every child of parentJobID; each child whose
// Pending map becomes empty is submitted and dispatched once txOrNil is nil (this call's own
// transaction, or none at all), with a short pause between successive dispatches. A caller
// supplying its own transaction is responsible for dispatching ready children itself once that
// transaction commits.
func (s *Service) resolveChildren(
	ctx context.Context,
	txOrNil *store.Tx,
	parentJobID models.JobID,
	bindingsByName map[string]models.ArtifactID,
) error {
	children, err := s.jobs.ListChildren(ctx, txOrNil, parentJobID)
	if err != nil {
		return err
	}
	var ready []models.JobID
	for _, child := range children {
		ok, err := s.jobs.ResolvePending(ctx, txOrNil, child.ID, parentJobID, bindingsByName)
		if err != nil {
			return fmt.Errorf("error resolving pending parameters for job %q: %w", child.ID, err)
		}
		if ok {
			ready = append(ready, child.ID)
		}
	}
	if len(ready) == 0 || txOrNil != nil || s.dispatcher == nil {
		return nil
	}
	for i, id := range ready {
		if _, err := s.jobs.Submit(ctx, nil, id); err != nil {
			return fmt.Errorf("error submitting released child %q: %w", id, err)
		}
		if err := s.dispatcher.Dispatch(ctx, id); err != nil {
			s.WithField("job_id", id).Errorf("error dispatching released child: %v", err)
		}
		if i < len(ready)-1 && s.config.ChildSubmitDelay > 0 {
			s.clk.Sleep(s.config.ChildSubmitDelay)
		}
	}
	return nil
}

// FailCascade transitions jobID to error if it isn't already (a caller that has just set jobID's
// own error, like the Dispatcher on a launch failure, calls this purely for the cascade), then
// recursively fails every descendant not already in a terminal state with a dependency-failed
// error naming jobID, the job that triggered the cascade.
func (s *Service) FailCascade(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, cause error) error {
	return s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		job, err := s.jobs.Read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusError {
			if _, err := s.jobs.SetError(ctx, tx, jobID, cause); err != nil {
				return err
			}
		}
		return s.failChildren(ctx, tx, jobID, jobID)
	})
}

func (s *Service) failChildren(ctx context.Context, tx *store.Tx, parentID models.JobID, rootID models.JobID) error {
	children, err := s.jobs.ListChildren(ctx, tx, parentID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.Status.HasFinished() {
			continue
		}
		cause := gerror.NewErrDependencyFailed(rootID.String())
		if _, err := s.jobs.SetError(ctx, tx, child.ID, cause); err != nil {
			return fmt.Errorf("error failing dependent job %q: %w", child.ID, err)
		}
		if err := s.failChildren(ctx, tx, child.ID, rootID); err != nil {
			return err
		}
	}
	return nil
}

// chunk splits ids into groups of at most n, producing ceil(len(ids)/n) groups.
func chunk(ids []models.JobID, n int) [][]models.JobID {
	if n <= 0 {
		n = 1
	}
	var chunks [][]models.JobID
	for i := 0; i < len(ids); i += n {
		end := i + n
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[i:end])
	}
	return chunks
}
