package dto

import (
	"fmt"

	"github.com/buildbeaver/buildbeaver/common/models"
)

// CreateJob carries everything JobService.Create needs to insert a new job: the job itself, whose
// Pending map names the predecessor outputs its parameters wait on, plus the Force flag. Create
// records one edge per Pending entry in the same transaction as the insert; nothing defers or
// later resolves an edge whose predecessor job does not exist yet.
type CreateJob struct {
	*models.Job
	// Force skips the duplicate-job guard if true.
	Force bool
}

func (m *CreateJob) Validate() error {
	if m.Job == nil {
		return fmt.Errorf("error job must be set")
	}
	return m.Job.Validate()
}

// UpdateJobStatus carries a requested status transition plus the error to attach, if any.
// No service method takes it: JobService's status writes (Submit, Heartbeat, SetError and the
// rest) take their arguments directly.
type UpdateJobStatus struct {
	Status models.JobStatus
	Error  *models.Error
	ETag   models.ETag
}

// CompleteJob carries the outcome of a job's execution, as reported by a launcher or the
// scheduler watcher.
type CompleteJob struct {
	JobID models.JobID
	// Success is false if the job failed; Error must be set in that case.
	Success bool
	Error   *models.Error
	// Outputs maps each declared output id to the payload the command produced for it. Only
	// meaningful when Success is true.
	Outputs map[models.CommandOutputID]*models.ArtifactPayload
}
