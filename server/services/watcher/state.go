package watcher

import "github.com/buildbeaver/buildbeaver/common/models"

// NativeState is the single-letter job_state code reported by the cluster scheduler's job
// listing (PBS/Torque-style: C, R, Q, H, E, T, W, S).
type NativeState string

const (
	NativeStateCompleted NativeState = "C"
	NativeStateRunning   NativeState = "R"
	NativeStateQueued    NativeState = "Q"
	NativeStateHeld      NativeState = "H"
	NativeStateExiting   NativeState = "E"
	NativeStateMoving    NativeState = "T"
	NativeStateWaiting   NativeState = "W"
	NativeStateSuspended NativeState = "S"
)

// internalState is the vocabulary the native single-letter codes translate to before a second
// translation maps them onto the orchestrator's own job statuses.
type internalState string

const (
	internalCompleted internalState = "completed"
	internalRunning   internalState = "running"
	internalQueued    internalState = "queued"
	internalHeld      internalState = "held"
	internalExiting   internalState = "exiting"
	internalMoving    internalState = "moving"
	internalWaiting   internalState = "waiting"
	internalSuspended internalState = "suspended"
	// internalDropped is never reported by the cluster directly; it's synthesized for a job that
	// depended on a failed predecessor via a beforeok dependency and never got to run.
	internalDropped internalState = "DROPPED"
)

var nativeToInternal = map[NativeState]internalState{
	NativeStateCompleted: internalCompleted,
	NativeStateRunning:   internalRunning,
	NativeStateQueued:    internalQueued,
	NativeStateHeld:      internalHeld,
	NativeStateExiting:   internalExiting,
	NativeStateMoving:    internalMoving,
	NativeStateWaiting:   internalWaiting,
	NativeStateSuspended: internalSuspended,
}

// translateOrchestratorStatus maps an internalState (plus, for a completed job, whether it exited
// non-zero) onto the status the orchestrator itself would assign the job.
func translateOrchestratorStatus(s internalState, exitCode *int) models.JobStatus {
	switch s {
	case internalQueued:
		return models.JobStatusQueued
	case internalHeld:
		return models.JobStatusQueued
	case internalRunning, internalExiting, internalMoving, internalWaiting, internalSuspended:
		return models.JobStatusRunning
	case internalCompleted:
		if exitCode != nil && *exitCode != 0 {
			return models.JobStatusError
		}
		return models.JobStatusSuccess
	case internalDropped:
		return models.JobStatusError
	default:
		return models.JobStatusError
	}
}
