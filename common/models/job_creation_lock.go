package models

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const JobCreationLockResourceKind ResourceKind = "job_creation_lock"

type JobCreationLockID struct {
	ResourceID
}

// NewJobCreationLockID produces a deterministic ID from a job's (command, parameters) fingerprint,
// so that every Create call carrying identical arguments maps to the same lock row.
func NewJobCreationLockID(fingerprint string) JobCreationLockID {
	return JobCreationLockID{ResourceID: NewResourceIDFromUniqueData(JobCreationLockResourceKind, fingerprint)}
}

// JobCreationLock is a row whose sole purpose is to be locked for the life of the transaction that
// checks for and, if absent, creates a job with a given (command, parameters) fingerprint. It carries
// no state of its own; the row's existence is the lock.
type JobCreationLock struct {
	ID        JobCreationLockID `json:"id" goqu:"skipupdate" db:"job_creation_lock_id"`
	CreatedAt Time              `json:"created_at" goqu:"skipupdate" db:"job_creation_lock_created_at"`
}

func NewJobCreationLock(now Time, fingerprint string) *JobCreationLock {
	return &JobCreationLock{
		ID:        NewJobCreationLockID(fingerprint),
		CreatedAt: now,
	}
}

func (m *JobCreationLock) GetKind() ResourceKind {
	return JobCreationLockResourceKind
}

func (m *JobCreationLock) GetCreatedAt() Time {
	return m.CreatedAt
}

func (m *JobCreationLock) GetID() ResourceID {
	return m.ID.ResourceID
}

func (m *JobCreationLock) Validate() error {
	var result *multierror.Error
	if !m.ID.Valid() {
		result = multierror.Append(result, errors.New("error: id must be set"))
	}
	return result.ErrorOrNil()
}
