package models

// ResourceJobType classifies a job for the purposes of resource-allocation lookup only, using
// its own job-type vocabulary. This is a distinct vocabulary from CommandKind (which drives
// validator fan-out): the resource table is keyed by the source system's own job-family names,
// table-driven rather than a hardcoded command-name if/else chain.
type ResourceJobType string

const (
	// ResourceJobTypeCompleteJob is assigned to the job that reports a launcher's completion back
	// into the orchestrator.
	ResourceJobTypeCompleteJob ResourceJobType = "COMPLETE_JOB"
	// ResourceJobTypeReleaseValidators is assigned to a release_validators barrier job.
	ResourceJobTypeReleaseValidators ResourceJobType = "RELEASE_VALIDATORS"
	// ResourceJobTypeValidate is assigned to a Validate job.
	ResourceJobTypeValidate ResourceJobType = "VALIDATOR_JOB"
	// ResourceJobTypeRegister is assigned to a REGISTER job.
	ResourceJobTypeRegister ResourceJobType = "REGISTER"
	// ResourceJobTypeCommand is the catch-all bucket for every other command.
	ResourceJobTypeCommand ResourceJobType = "RESOURCE_PARAMS_COMMAND"
)

// ResourceAllocation is a single row of the resource-allocation table consulted by the
// ResourceResolver. Name and JobType together form the lookup key; a row with Name "default"
// is the fallback for any JobType with no specific match.
type ResourceAllocation struct {
	Name     string          `json:"name" db:"resource_allocation_name"`
	JobType  ResourceJobType `json:"job_type" db:"resource_allocation_job_type"`
	Template string          `json:"template" db:"resource_allocation_template"`
}

// DefaultResourceAllocationName is the fallback row name consulted when no row matches a job's
// specific (name, job_type) pair.
const DefaultResourceAllocationName = "default"
