package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

const (
	// JobStatusInConstruction indicates the job has been created as part of a workflow that is still
	// being assembled and has not yet been submitted for execution.
	JobStatusInConstruction JobStatus = "in_construction"
	// JobStatusQueued indicates the job is ready to run (all its parent jobs have succeeded, or it has
	// no parents) but has not yet been handed to a launcher.
	JobStatusQueued JobStatus = "queued"
	// JobStatusWaiting indicates the job is either a non-root job still waiting on incomplete parents,
	// or a validator job that has produced output and is waiting to be released.
	JobStatusWaiting JobStatus = "waiting"
	// JobStatusRunning indicates the job has been submitted to a launcher and is executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusSuccess indicates the job completed and its validators (if any) have released it.
	JobStatusSuccess JobStatus = "success"
	// JobStatusError indicates the job, one of its validators, or one of its ancestors failed.
	JobStatusError JobStatus = "error"
)

var jobStatuses = map[string]JobStatus{
	string(JobStatusInConstruction): JobStatusInConstruction,
	string(JobStatusQueued):         JobStatusQueued,
	string(JobStatusWaiting):        JobStatusWaiting,
	string(JobStatusRunning):        JobStatusRunning,
	string(JobStatusSuccess):        JobStatusSuccess,
	string(JobStatusError):          JobStatusError,
}

// jobStatusTransitions enumerates every status a job may move to directly from a given status.
// A transition not present in this table is rejected by JobStatus.CanTransitionTo.
var jobStatusTransitions = map[JobStatus][]JobStatus{
	JobStatusInConstruction: {JobStatusQueued, JobStatusWaiting, JobStatusError},
	JobStatusQueued:         {JobStatusRunning, JobStatusError},
	JobStatusWaiting:        {JobStatusQueued, JobStatusSuccess, JobStatusError},
	JobStatusRunning:        {JobStatusWaiting, JobStatusSuccess, JobStatusError},
	JobStatusSuccess:        {},
	JobStatusError:          {},
}

// JobStatus is a closed enum describing where a job sits in its lifecycle.
type JobStatus string

func (s JobStatus) Valid() bool {
	_, ok := jobStatuses[string(s)]
	return ok
}

// HasFinished returns true if the job has reached a terminal status.
func (s JobStatus) HasFinished() bool {
	return s == JobStatusSuccess || s == JobStatusError
}

// CanTransitionTo returns true if moving directly from s to next is a legal transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s JobStatus) String() string {
	return string(s)
}

func (s *JobStatus) Scan(src interface{}) error {
	if src == nil {
		*s = ""
		return nil
	}
	t, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for job status: %[1]T (%[1]v)", src)
	}
	status, ok := jobStatuses[t]
	if !ok {
		return fmt.Errorf("error unrecognized job status: %q", t)
	}
	*s = status
	return nil
}

func (s JobStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// JobTimings records the times at which a job transitioned between statuses, mirroring the
// teacher's WorkflowTimings pattern but with the extra waiting/release timestamps this state
// machine requires.
type JobTimings struct {
	QueuedAt    *Time `json:"queued_at,omitempty"`
	RunningAt   *Time `json:"running_at,omitempty"`
	WaitingAt   *Time `json:"waiting_at,omitempty"`
	FinishedAt  *Time `json:"finished_at,omitempty"`
	HeartbeatAt *Time `json:"heartbeat_at,omitempty"`
}

func (t *JobTimings) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type for job timings: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), t)
}

func (t JobTimings) Value() (driver.Value, error) {
	buf, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("error marshalling job timings to JSON: %w", err)
	}
	return string(buf), nil
}
