// Package job implements the job state machine, the duplicate-job guard, and
// the per-job half of the validator protocol. Grounded on the teacher's
// server/services/job/job_service.go (thin store-delegating wrapper inside a transaction) and
// server/services/queue/queue_service.go (status-write + side-effect transaction shape).
package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/dto"
	"github.com/buildbeaver/buildbeaver/server/services"
	"github.com/buildbeaver/buildbeaver/server/store"
)

// dedupStatuses is the set of statuses a candidate duplicate job must be in for the duplicate
// guard to consider it a conflict. A success job is only a conflict if it already has
// children; that part of the rule is checked separately since it needs a store round trip this
// status filter alone can't express.
var dedupStatuses = []models.JobStatus{
	models.JobStatusInConstruction,
	models.JobStatusQueued,
	models.JobStatusRunning,
	models.JobStatusWaiting,
	models.JobStatusSuccess,
}

type Service struct {
	db               *store.DB
	jobStore         store.JobStore
	jobCreationLocks store.JobCreationLockStore
	notifier         services.Notifier
	logger.Log
}

func NewService(
	db *store.DB,
	jobStore store.JobStore,
	jobCreationLocks store.JobCreationLockStore,
	logFactory logger.LogFactory,
) *Service {
	return &Service{
		db:               db,
		jobStore:         jobStore,
		jobCreationLocks: jobCreationLocks,
		Log:              logFactory("JobService"),
	}
}

// SetNotifier installs the Notifier every status transition reports its before/after status to.
// Installed after construction, mirroring validator.Service.SetDispatcher, since the Notifier's
// own collaborators (command catalog, user directory) are independent of the job store and the
// two are free to be wired in either order.
func (s *Service) SetNotifier(notifier services.Notifier) {
	s.notifier = notifier
}

// Read an existing job, looking it up by ID. Returns gerror.ErrNotFound if the job does not exist.
func (s *Service) Read(ctx context.Context, txOrNil *store.Tx, id models.JobID) (*models.Job, error) {
	return s.jobStore.Read(ctx, txOrNil, id)
}

// ListByCommandAndStatus returns jobs matching commandID restricted to the supplied statuses.
func (s *Service) ListByCommandAndStatus(
	ctx context.Context,
	txOrNil *store.Tx,
	commandID models.CommandID,
	statuses []models.JobStatus,
) ([]*models.Job, error) {
	return s.jobStore.ListByCommandAndStatus(ctx, txOrNil, commandID, statuses)
}

// ListChildren returns every job with an edge (pending or realized) whose parent is jobID.
func (s *Service) ListChildren(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) ([]*models.Job, error) {
	return s.jobStore.ListChildren(ctx, txOrNil, jobID)
}

// ReadByExternalID looks up the job a launcher marked with externalID, the OS pid or cluster
// scheduler job id used to correlate a SchedulerWatcher observation back to a job row.
func (s *Service) ReadByExternalID(ctx context.Context, txOrNil *store.Tx, externalID string) (*models.Job, error) {
	return s.jobStore.ReadByExternalID(ctx, txOrNil, externalID)
}

// Create inserts a new job, first enforcing the duplicate-job guard unless create.Force is
// set. The guard compares parameters argument-for-argument, case-insensitively, with list values
// compared ignoring order (each value must occur equally often in both lists); this can't be
// pushed down into a SQL WHERE clause against the JSON-encoded parameter column so it is evaluated in Go against the candidate set returned by
// ListByCommandAndStatus.
//
// A short-lived JobCreationLock is taken out first, keyed on a fingerprint of (command,
// parameters), so two concurrent identical Create calls can't both observe "no conflict" and
// both insert before either commits (see store.JobCreationLockStore).
func (s *Service) Create(ctx context.Context, txOrNil *store.Tx, create *dto.CreateJob) error {
	if err := create.Validate(); err != nil {
		return fmt.Errorf("error validating job: %w", err)
	}
	fingerprint, err := parameterFingerprint(create.CommandID, create.Parameters)
	if err != nil {
		return fmt.Errorf("error computing job parameter fingerprint: %w", err)
	}
	return s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		err := s.jobCreationLocks.LockForCreate(ctx, tx, fingerprint)
		if err != nil {
			return fmt.Errorf("error taking out job creation lock: %w", err)
		}
		if !create.Force {
			conflicts, err := s.findDuplicates(ctx, tx, create.Job)
			if err != nil {
				return fmt.Errorf("error checking for duplicate jobs: %w", err)
			}
			if len(conflicts) > 0 {
				return gerror.NewErrAlreadyExists(duplicateJobMessage(conflicts))
			}
		}
		err = s.jobStore.Create(ctx, tx, create.Job)
		if err != nil {
			return fmt.Errorf("error creating job: %w", err)
		}
		for parentJobID, pendingEdges := range create.Pending {
			for _, edge := range pendingEdges {
				err := s.jobStore.CreateEdge(ctx, tx, models.WorkflowEdge{
					ParentJobID:   parentJobID,
					ChildJobID:    create.ID,
					OutputName:    edge.OutputName,
					ParameterName: edge.ParameterName,
				})
				if err != nil {
					return fmt.Errorf("error recording dependency edge: %w", err)
				}
			}
		}
		s.Infof("Created job %q", create.ID)
		return nil
	})
}

// Delete removes a job outright. Only meaningful for a job still in_construction; the workflow
// service is responsible for checking that before calling this.
func (s *Service) Delete(ctx context.Context, txOrNil *store.Tx, id models.JobID) error {
	return s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		return s.jobStore.Delete(ctx, tx, id)
	})
}

// HoldAsWaiting transitions a job straight from in_construction to waiting, ahead of a parent
// being submitted (Workflow.submit marks every non-root waiting before any root is
// submitted, closing a race where a fast-completing root tries to submit a still-in_construction
// child).
func (s *Service) HoldAsWaiting(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) error {
	_, err := s.transition(ctx, txOrNil, jobID, models.JobStatusWaiting, func(j *models.Job) error {
		now := models.NewTime(time.Now())
		j.Timings.WaitingAt = &now
		return nil
	})
	return err
}

// WaitForRelease transitions a running job to waiting: either an artifact-definition job whose
// payload has been stored pending release_validators, or a job whose parent provenance still has
// pending validators.
func (s *Service) WaitForRelease(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error) {
	return s.transition(ctx, txOrNil, jobID, models.JobStatusWaiting, func(j *models.Job) error {
		now := models.NewTime(time.Now())
		j.Timings.WaitingAt = &now
		return nil
	})
}

// CompleteSuccess transitions a job (running, or waiting for release) to success and records its
// output bindings (command output id -> materialized artifact id). Terminal per invariant 2: no
// attribute but Hidden may change afterward.
func (s *Service) CompleteSuccess(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, bindings models.OutputBindingMap) (*models.Job, error) {
	return s.transition(ctx, txOrNil, jobID, models.JobStatusSuccess, func(j *models.Job) error {
		if len(bindings) > 0 {
			if j.OutputBindings == nil {
				j.OutputBindings = models.OutputBindingMap{}
			}
			for outputID, artifactID := range bindings {
				j.OutputBindings[outputID] = artifactID
			}
		}
		now := models.NewTime(time.Now())
		j.Timings.FinishedAt = &now
		return nil
	})
}

// SetValidators records the set of validator job ids spawned for a transformation job's outputs,
// together with the release_validators job id that will eventually release them. Not itself a
// status transition.
func (s *Service) SetValidators(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, validatorIDs []models.JobID, releaseJobID models.JobID) error {
	return s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		j, err := s.jobStore.Read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		j.ValidatorIDs = validatorIDs
		j.ReleaseJobID = releaseJobID
		return s.jobStore.Update(ctx, tx, j)
	})
}

// SetPendingArtifact stashes the artifact an artifact-definition or Validate job reported on
// completion against jobID's output, held until release_validators either materializes it or the
// parent's validator chain fails. Not itself a status transition.
func (s *Service) SetPendingArtifact(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, outputID models.CommandOutputID, payload *models.ArtifactPayload) error {
	return s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		j, err := s.jobStore.Read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		j.PendingArtifactOutputID = outputID
		j.PendingArtifactPayload = payload
		return s.jobStore.Update(ctx, tx, j)
	})
}

// ResolvePending rewrites childID's parameters for every PendingEdge waiting on parentID, binding
// each named output to the artifact id produced for it, then removes parentID from child.Pending.
// Returns true if the child is now submittable (Pending is empty) and still
// sitting in a state from which it can be submitted (in_construction or waiting) — the caller
// (the validator service's resolveChildren) is responsible for actually dispatching
// the child when this returns true.
func (s *Service) ResolvePending(
	ctx context.Context,
	txOrNil *store.Tx,
	childID models.JobID,
	parentID models.JobID,
	bindings map[string]models.ArtifactID, // output name -> artifact id
) (ready bool, err error) {
	err = s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		child, err := s.jobStore.Read(ctx, tx, childID)
		if err != nil {
			return err
		}
		edges, ok := child.Pending[parentID]
		if !ok {
			return nil // already resolved (e.g. re-delivered event), nothing to do
		}
		for _, edge := range edges {
			artifactID, ok := bindings[edge.OutputName]
			if !ok {
				return fmt.Errorf(
					"error job %q has no output named %q bound for pending parameter %q on job %q",
					parentID, edge.OutputName, edge.ParameterName, childID)
			}
			param := child.Parameters[edge.ParameterName]
			child.Parameters[edge.ParameterName] = param.ResolveToArtifact(artifactID)
			child.InputArtifactIDs = append(child.InputArtifactIDs, artifactID)
		}
		delete(child.Pending, parentID)
		err = s.jobStore.Update(ctx, tx, child)
		if err != nil {
			return err
		}
		ready = child.IsSubmittable() &&
			(child.Status == models.JobStatusInConstruction || child.Status == models.JobStatusWaiting)
		return nil
	})
	return ready, err
}

// findDuplicates returns every job with the same command and argument-for-argument matching
// parameters as candidate, restricted to the statuses the guard cares about, and further
// restricted (for success jobs) to those that already have at least one child.
func (s *Service) findDuplicates(ctx context.Context, tx *store.Tx, candidate *models.Job) ([]*models.Job, error) {
	matches, err := s.jobStore.ListByCommandAndStatus(ctx, tx, candidate.CommandID, dedupStatuses)
	if err != nil {
		return nil, err
	}
	var conflicts []*models.Job
	for _, other := range matches {
		if other.ID == candidate.ID {
			continue
		}
		if !parametersEqual(candidate.Parameters, other.Parameters) {
			continue
		}
		if other.Status == models.JobStatusSuccess {
			children, err := s.jobStore.ListChildren(ctx, tx, other.ID)
			if err != nil {
				return nil, err
			}
			if len(children) == 0 {
				continue
			}
		}
		conflicts = append(conflicts, other)
	}
	return conflicts, nil
}

func duplicateJobMessage(conflicts []*models.Job) string {
	pairs := make([]string, 0, len(conflicts))
	for _, j := range conflicts {
		pairs = append(pairs, fmt.Sprintf("(%s, %s)", j.ID, j.Status))
	}
	return fmt.Sprintf("error a job with identical command and parameters already exists: %s", strings.Join(pairs, ", "))
}

// parametersEqual compares two parameter maps argument-for-argument, case-insensitively, with
// list values compared ignoring order (each value must occur equally often in both lists).
func parametersEqual(a, b models.JobParameters) bool {
	if len(a) != len(b) {
		return false
	}
	for name, av := range a {
		bv, ok := b[name]
		if !ok || av.Kind != bv.Kind {
			return false
		}
		switch av.Kind {
		case models.ParameterKindScalar:
			if !strings.EqualFold(av.Scalar, bv.Scalar) {
				return false
			}
		case models.ParameterKindList:
			if !sameValuesFold(av.List, bv.List) {
				return false
			}
		case models.ParameterKindPredecessor:
			if av.Predecessor != bv.Predecessor {
				return false
			}
		}
	}
	return true
}

func sameValuesFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, v := range a {
		counts[strings.ToLower(v)]++
	}
	for _, v := range b {
		counts[strings.ToLower(v)]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

// parameterFingerprint hashes a job's command and parameters into a stable string suitable as a
// JobCreationLock key, grounded on the teacher's use of hashstructure for fingerprinting.
func parameterFingerprint(commandID models.CommandID, parameters models.JobParameters) (string, error) {
	sum, err := hashstructure.Hash(struct {
		Command    models.CommandID
		Parameters models.JobParameters
	}{Command: commandID, Parameters: parameters}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", sum), nil
}

// Submit transitions a job from in_construction or waiting to queued, refusing any other source
// status. The actual launcher dispatch is performed by the Dispatcher, which calls Submit first
// so the transition is committed before any external process is spawned.
func (s *Service) Submit(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error) {
	return s.transition(ctx, txOrNil, jobID, models.JobStatusQueued, func(j *models.Job) error {
		if !j.IsSubmittable() {
			return gerror.NewErrOperationNotPermitted(
				fmt.Sprintf("job %q has unresolved pending dependencies and cannot be submitted", j.ID))
		}
		now := models.NewTime(time.Now())
		j.Timings.QueuedAt = &now
		return nil
	})
}

// Heartbeat records liveness and idempotently coerces queued -> running. A heartbeat against a
// job already running is a no-op; a heartbeat against a terminal job fails.
func (s *Service) Heartbeat(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error) {
	var result *models.Job
	var previous models.JobStatus
	err := s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		j, err := s.jobStore.Read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if j.Status.HasFinished() {
			return gerror.NewErrOperationNotPermitted(
				fmt.Sprintf("cannot heartbeat job %q: already %s", j.ID, j.Status))
		}
		previous = j.Status
		now := models.NewTime(time.Now())
		j.Timings.HeartbeatAt = &now
		if j.Status == models.JobStatusQueued {
			j.Status = models.JobStatusRunning
			j.Timings.RunningAt = &now
		}
		err = s.jobStore.Update(ctx, tx, j)
		if err != nil {
			return fmt.Errorf("error recording heartbeat: %w", err)
		}
		result = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Status != previous {
		s.notify(ctx, result, previous)
	}
	return result, nil
}

// SetStep records a free-text progress string; only permitted while the job is running.
func (s *Service) SetStep(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, step string) (*models.Job, error) {
	var result *models.Job
	err := s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		j, err := s.jobStore.Read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if j.Status != models.JobStatusRunning {
			return gerror.NewErrOperationNotPermitted(
				fmt.Sprintf("cannot set step on job %q: not running (status %s)", j.ID, j.Status))
		}
		j.Step = step
		err = s.jobStore.Update(ctx, tx, j)
		if err != nil {
			return err
		}
		result = j
		return nil
	})
	return result, err
}

// MarkExternalID persists the external id (OS pid or cluster job id) assigned by a launcher.
// Assigned at most once.
func (s *Service) MarkExternalID(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, externalID string) error {
	return s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		j, err := s.jobStore.Read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if j.ExternalID != "" {
			return gerror.NewErrOperationNotPermitted(
				fmt.Sprintf("job %q already has an external id assigned", j.ID))
		}
		j.ExternalID = externalID
		return s.jobStore.Update(ctx, tx, j)
	})
}

// SetError transitions a job directly to error, attaching msg. Used for launcher failures and
// cascading dependency failures; does not itself cascade to children, see
// server/services/validator (FailCascade) for that.
func (s *Service) SetError(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, cause error) (*models.Job, error) {
	return s.transition(ctx, txOrNil, jobID, models.JobStatusError, func(j *models.Job) error {
		j.Error = models.NewError(cause)
		now := models.NewTime(time.Now())
		j.Timings.FinishedAt = &now
		return nil
	})
}

// SetHidden toggles visibility, only permitted while the job is in error, recording the
// change in HiddenHistory for auditability.
func (s *Service) SetHidden(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, hidden bool, by models.UserID) (*models.Job, error) {
	var result *models.Job
	err := s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		j, err := s.jobStore.Read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if j.Status != models.JobStatusError {
			return gerror.NewErrOperationNotPermitted(
				fmt.Sprintf("job %q may only be hidden or unhidden while in error", j.ID))
		}
		j.Hidden = hidden
		j.HiddenHistory = append(j.HiddenHistory, models.HiddenEvent{
			Hidden: hidden,
			By:     by,
			At:     models.NewTime(time.Now()),
		})
		err = s.jobStore.Update(ctx, tx, j)
		if err != nil {
			return err
		}
		result = j
		return nil
	})
	return result, err
}

// transition reads jobID, checks the requested status against the state machine, applies mutate
// (which may set fields the caller needs alongside the status write), persists, and returns the
// updated job. Every status write in this service funnels through here so the legality check
// (models.JobStatus.CanTransitionTo) is enforced in exactly one place.
func (s *Service) transition(
	ctx context.Context,
	txOrNil *store.Tx,
	jobID models.JobID,
	next models.JobStatus,
	mutate func(*models.Job) error,
) (*models.Job, error) {
	var result *models.Job
	var previous models.JobStatus
	err := s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		j, err := s.jobStore.Read(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !j.Status.CanTransitionTo(next) {
			return gerror.NewErrOperationNotPermitted(
				fmt.Sprintf("cannot transition job %q from %s to %s", j.ID, j.Status, next))
		}
		previous = j.Status
		j.Status = next
		err = mutate(j)
		if err != nil {
			return err
		}
		err = s.jobStore.Update(ctx, tx, j)
		if err != nil {
			return fmt.Errorf("error updating job: %w", err)
		}
		result = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, result, previous)
	return result, nil
}

// notify reports a completed status write to the Notifier, if one is installed. A notification
// failure is logged, not returned: the state write this rides alongside has already committed,
// and a dropped email must never roll back or mask that it succeeded.
func (s *Service) notify(ctx context.Context, job *models.Job, previous models.JobStatus) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyStatusChange(ctx, job, previous); err != nil {
		s.WithField("job_id", job.ID).Errorf("error notifying status change: %v", err)
	}
}
