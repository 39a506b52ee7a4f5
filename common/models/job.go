package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	JobResourceKind ResourceKind = "job"
)

type JobID struct {
	ResourceID
}

func NewJobID() JobID {
	return JobID{ResourceID: NewResourceID(JobResourceKind)}
}

func JobIDFromResourceID(id ResourceID) JobID {
	return JobID{ResourceID: id}
}

func ParseJobID(str string) (JobID, error) {
	resourceID, err := ParseResourceID(str)
	if err != nil {
		return JobID{}, fmt.Errorf("error parsing Job ID: %w", err)
	}
	return JobIDFromResourceID(resourceID), nil
}

// Job represents a single invocation of a registered command with typed parameters on zero or
// more input artifacts. Jobs are organized into Workflow DAGs; a job cannot be submitted until
// every entry in its Pending map has been resolved by a predecessor's completion.
type Job struct {
	JobMetadata
	JobData
}

type JobMetadata struct {
	ID        JobID `json:"id" goqu:"skipupdate" db:"job_id"`
	CreatedAt Time  `json:"created_at" goqu:"skipupdate" db:"job_created_at"`
	UpdatedAt Time  `json:"updated_at" db:"job_updated_at"`
	ETag      ETag  `json:"etag" db:"job_etag" hash:"ignore"`
}

type JobData struct {
	// WorkflowID is the workflow this job belongs to.
	WorkflowID WorkflowID `json:"workflow_id" db:"job_workflow_id"`
	// CommandID references the command this job invokes in the CommandCatalog.
	CommandID CommandID `json:"command_id" db:"job_command_id"`
	// Parameters maps parameter name to its current value, which may still be an unresolved
	// predecessor reference (see ParameterValue).
	Parameters JobParameters `json:"parameters" db:"job_parameters"`
	// Pending maps a predecessor job ID to the set of this job's parameters still waiting on one
	// of that predecessor's outputs. The job cannot be submitted while Pending is non-empty.
	Pending PendingMap `json:"pending" db:"job_pending"`
	// Status reflects where the job is in its lifecycle; see JobStatus.
	Status JobStatus `json:"status" db:"job_status"`
	// ExternalID is the opaque identifier (OS pid or cluster job id) assigned by a launcher.
	// Assigned at most once per job.
	ExternalID string `json:"external_id,omitempty" db:"job_external_id"`
	// Step is a free-text progress string, settable only while the job is running.
	Step string `json:"step,omitempty" db:"job_step"`
	// LoggingRef references a log entry, populated on error.
	LoggingRef string `json:"logging_ref,omitempty" db:"job_logging_ref"`
	// Hidden controls visibility, not existence; settable only when the job is in error.
	Hidden bool `json:"hidden" db:"job_hidden"`
	// HiddenHistory records who hid/unhid the job and when, for auditability.
	HiddenHistory HiddenEvents `json:"hidden_history,omitempty" db:"job_hidden_history"`
	// UserID is the owner of the job.
	UserID UserID `json:"user_id" db:"job_user_id"`
	// InputArtifactIDs is the ordered list of artifact ids linked from the artifact side.
	InputArtifactIDs ArtifactIDList `json:"input_artifact_ids,omitempty" db:"job_input_artifact_ids"`
	// ValidatorIDs is the set of validator job ids spawned for a transformation job's outputs.
	ValidatorIDs JobIDList `json:"validator_ids,omitempty" db:"job_validator_ids"`
	// OutputBindings maps a command output id to the artifact id materialized for it, populated
	// on success.
	OutputBindings OutputBindingMap `json:"output_bindings,omitempty" db:"job_output_bindings"`
	// Error is set if the job finished with an error (or nil if it succeeded).
	Error *Error `json:"error,omitempty" db:"job_error"`
	// Timings records the times at which the job transitioned between statuses.
	Timings JobTimings `json:"timings" db:"job_timings"`
	// ValidatorProvenance carries the originating job/output this job was spawned to validate;
	// only set on validator jobs.
	ValidatorProvenance *ValidatorProvenance `json:"validator_provenance,omitempty" db:"job_validator_provenance"`
	// Reservation is the associated analysis's cluster reservation name, if any. When set, the
	// ResourceResolver appends "--reservation <name>" to the resolved resource string.
	Reservation string `json:"reservation,omitempty" db:"job_reservation"`
	// ReleaseJobID is the release_validators job spawned for a transformation job's fan-out,
	// recorded on the parent alongside ValidatorIDs so ReleaseValidators can find its own
	// barrier job from just the parent's id.
	ReleaseJobID JobID `json:"release_job_id,omitempty" db:"job_release_job_id"`
	// PendingArtifactOutputID and PendingArtifactPayload hold the output a non-direct-creation
	// artifact-definition or Validate job reported on completion, until release_validators
	// materializes it into a real artifact.
	PendingArtifactOutputID CommandOutputID  `json:"pending_artifact_output_id,omitempty" db:"job_pending_artifact_output_id"`
	PendingArtifactPayload  *ArtifactPayload `json:"pending_artifact_payload,omitempty" db:"job_pending_artifact_payload"`
}

// HiddenEvent records a single hide/unhide action taken against a job.
type HiddenEvent struct {
	Hidden bool   `json:"hidden"`
	By     UserID `json:"by"`
	At     Time   `json:"at"`
}

// JobParameters is the on-disk JSON encoding of a job's parameter map.
type JobParameters map[string]ParameterValue

func (m *JobParameters) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), m)
}

func (m JobParameters) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error marshalling job parameters to JSON: %w", err)
	}
	return string(buf), nil
}

// PendingMap is the on-disk JSON encoding of a job's predecessor wait-set.
type PendingMap map[JobID][]PendingEdge

func (m *PendingMap) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), m)
}

func (m PendingMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error marshalling pending map to JSON: %w", err)
	}
	return string(buf), nil
}

// HiddenEvents is the on-disk JSON encoding of a job's hide/unhide audit trail.
type HiddenEvents []HiddenEvent

func (m *HiddenEvents) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), m)
}

func (m HiddenEvents) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error marshalling hidden history to JSON: %w", err)
	}
	return string(buf), nil
}

// ArtifactIDList is the on-disk JSON encoding of an ordered list of artifact ids.
type ArtifactIDList []ArtifactID

func (m *ArtifactIDList) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), m)
}

func (m ArtifactIDList) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error marshalling artifact id list to JSON: %w", err)
	}
	return string(buf), nil
}

// JobIDList is the on-disk JSON encoding of an ordered list of job ids.
type JobIDList []JobID

func (m *JobIDList) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), m)
}

func (m JobIDList) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error marshalling job id list to JSON: %w", err)
	}
	return string(buf), nil
}

// OutputBindingMap is the on-disk JSON encoding of a job's completed output-to-artifact bindings.
type OutputBindingMap map[CommandOutputID]ArtifactID

func (m *OutputBindingMap) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	str, ok := src.(string)
	if !ok {
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	return json.Unmarshal([]byte(str), m)
}

func (m OutputBindingMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error marshalling output bindings to JSON: %w", err)
	}
	return string(buf), nil
}

// PendingEdge records that ParameterName on the owning job is waiting on OutputName from
// ParentJobID. It replaces the placeholder-in-parameters trick the source system used: the
// parameter slot keeps a Predecessor reference (see ParameterValue) while the matching
// PendingEdge records the same relationship so Pending can be queried without scanning every
// parameter value.
type PendingEdge struct {
	ParentJobID   JobID  `json:"parent_job_id"`
	ParameterName string `json:"parameter_name"`
	OutputName    string `json:"output_name"`
}

func NewJob(workflowID WorkflowID, userID UserID, commandID CommandID, parameters map[string]ParameterValue) *Job {
	now := NewTime(time.Now())
	return &Job{
		JobMetadata: JobMetadata{
			ID:        NewJobID(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		JobData: JobData{
			WorkflowID: workflowID,
			CommandID:  commandID,
			UserID:     userID,
			Parameters: parameters,
			Pending:    map[JobID][]PendingEdge{},
			Status:     JobStatusInConstruction,
		},
	}
}

func (m *Job) GetKind() ResourceKind {
	return JobResourceKind
}

func (m *Job) GetID() ResourceID {
	return m.ID.ResourceID
}

func (m *Job) GetCreatedAt() Time {
	return m.CreatedAt
}

func (m *Job) GetUpdatedAt() Time {
	return m.UpdatedAt
}

func (m *Job) SetUpdatedAt(t Time) {
	m.UpdatedAt = t
}

func (m *Job) GetETag() ETag {
	return m.ETag
}

func (m *Job) SetETag(eTag ETag) {
	m.ETag = eTag
}

// IsSubmittable returns true if every predecessor this job was waiting on has been resolved.
func (m *Job) IsSubmittable() bool {
	return len(m.Pending) == 0
}

// IsValidator returns true if this job was spawned to validate another job's output.
func (m *Job) IsValidator() bool {
	return m.ValidatorProvenance != nil
}

// Validate the job's structural invariants. Status-transition legality is enforced separately by
// the job service, since it requires the previous status rather than just the current one.
func (m *Job) Validate() error {
	var result *multierror.Error
	if !m.ID.Valid() {
		result = multierror.Append(result, errors.New("error: job id must be set"))
	}
	if !m.WorkflowID.Valid() {
		result = multierror.Append(result, errors.New("error: job workflow id must be set"))
	}
	if !m.CommandID.Valid() {
		result = multierror.Append(result, errors.New("error: job command id must be set"))
	}
	if !m.UserID.Valid() {
		result = multierror.Append(result, errors.New("error: job user id must be set"))
	}
	if !m.Status.Valid() {
		result = multierror.Append(result, errors.New("error: job status must be a recognized value"))
	}
	if m.Hidden && m.Status != JobStatusError {
		result = multierror.Append(result, errors.New("error: job may only be hidden while in error"))
	}
	return result.ErrorOrNil()
}
