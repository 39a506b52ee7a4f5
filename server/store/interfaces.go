package store

import (
	"context"

	"github.com/buildbeaver/buildbeaver/common/models"
)

// JobStore persists jobs and their dependency edges. Every mutating method must be called
// within a transaction (see DB.WithTx) so that a status write is atomic with any dependent
// writes — output bindings, child parameter rewrites, notification bookkeeping.
type JobStore interface {
	// Create a new job. Returns gerror.ErrAlreadyExists if a job with matching ID already exists;
	// it does not itself enforce the duplicate-parameter guard, which is a service-level concern
	// (see services.JobService.Create).
	Create(ctx context.Context, txOrNil *Tx, job *models.Job) error
	// Read an existing job, looking it up by ID. Returns gerror.ErrNotFound if the job does not exist.
	Read(ctx context.Context, txOrNil *Tx, id models.JobID) (*models.Job, error)
	// Update an existing job with optimistic locking. Overrides all previous values using the
	// supplied model. Returns gerror.ErrOptimisticLockFailed if there is an optimistic lock mismatch.
	Update(ctx context.Context, txOrNil *Tx, job *models.Job) error
	// ListByWorkflowID gets all jobs that are associated with the specified workflow id.
	ListByWorkflowID(ctx context.Context, txOrNil *Tx, id models.WorkflowID) ([]*models.Job, error)
	// ListByStatus returns all jobs with the specified status, regardless of owner or workflow.
	// Use cursor to page through results, if any. Used by the validator barrier and the
	// scheduler watcher reconciliation pass.
	ListByStatus(ctx context.Context, txOrNil *Tx, status models.JobStatus, pagination models.Pagination) ([]*models.Job, *models.Cursor, error)
	// ListByCommandAndStatus finds jobs matching commandID restricted to the supplied statuses.
	// Used by the duplicate-job guard, which performs the argument-for-argument parameter
	// comparison itself since parameter equality (case-insensitive, list-expanding) is not
	// naturally expressible against the JSON-encoded parameter column.
	ListByCommandAndStatus(
		ctx context.Context,
		txOrNil *Tx,
		commandID models.CommandID,
		statuses []models.JobStatus,
	) ([]*models.Job, error)
	// ListChildren returns every job with a pending or realized edge whose parent is jobID.
	ListChildren(ctx context.Context, txOrNil *Tx, jobID models.JobID) ([]*models.Job, error)
	// CreateEdge records a workflow edge between a parent and child job in the jobs_depend_on_jobs
	// join table, independently of the parent/child Workflow rows' own Edges column (which records
	// the same relationship for fast in-memory traversal without a join).
	CreateEdge(ctx context.Context, txOrNil *Tx, edge models.WorkflowEdge) error
	// Delete removes a job row outright. Only legal while the owning workflow is in_construction
	// (enforced by the workflow service, not here).
	Delete(ctx context.Context, txOrNil *Tx, id models.JobID) error
}

// WorkflowStore persists workflows and their edges.
type WorkflowStore interface {
	// Create a new workflow. Returns gerror.ErrAlreadyExists if a workflow with matching ID
	// already exists.
	Create(ctx context.Context, txOrNil *Tx, workflow *models.Workflow) error
	// Read an existing workflow, looking it up by ID. Returns gerror.ErrNotFound if it does not exist.
	Read(ctx context.Context, txOrNil *Tx, id models.WorkflowID) (*models.Workflow, error)
	// Update an existing workflow with optimistic locking. Returns gerror.ErrOptimisticLockFailed
	// on a mismatch.
	Update(ctx context.Context, txOrNil *Tx, workflow *models.Workflow) error
	// ListByUserID lists all workflows owned by userID. Use cursor to page through results.
	ListByUserID(ctx context.Context, txOrNil *Tx, userID models.UserID, pagination models.Pagination) ([]*models.Workflow, *models.Cursor, error)
}

// ResourceAllocationStore persists the resource-allocation table consulted by the
// ResourceResolver.
type ResourceAllocationStore interface {
	// Lookup returns the allocation row for (name, jobType), or gerror.ErrNotFound if no such row
	// exists (the caller falls back to DefaultResourceAllocationName).
	Lookup(ctx context.Context, txOrNil *Tx, name string, jobType models.ResourceJobType) (*models.ResourceAllocation, error)
}

// JobCreationLockStore takes out a short-lived, per-(command, parameter-fingerprint) row lock so
// that two concurrent Create calls with identical arguments cannot both pass the duplicate-job
// guard before either has committed its insert. Modeled on the teacher's WorkItemStateStore row
// locking, keyed here by a hash of the job's command and parameters instead of a work queue
// concurrency key.
type JobCreationLockStore interface {
	// LockForCreate takes out an exclusive row lock on the lock record for fingerprint, creating
	// the record first if necessary. The lock is held for the life of tx.
	LockForCreate(ctx context.Context, tx *Tx, fingerprint string) error
}
