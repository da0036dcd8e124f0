package deploy

import "time"

// Stage identifies a step of the deployment state machine.
type Stage string

// Deployment stages in execution order. RollingBack is the only stage a run
// can revisit a prior slot state through, and it terminates the run.
const (
	StageIdle           Stage = "idle"
	StageUploading      Stage = "uploading"
	StageBackingUp      Stage = "backing-up"
	StageExtracting     Stage = "extracting"
	StageStarting       Stage = "starting"
	StageHealthChecking Stage = "health-checking"
	StageRollingBack    Stage = "rolling-back"
	StageActive         Stage = "active"
	StageFailed         Stage = "failed"
)

// Result classifies how a finished run ended.
type Result string

const (
	// ResultSucceeded means the new slot passed its health window.
	ResultSucceeded Result = "succeeded"
	// ResultAborted means the run stopped before any remote slot changed.
	ResultAborted Result = "aborted"
	// ResultRolledBack means the new slot failed but the backup was restored
	// and is serving; the run still exits non-zero.
	ResultRolledBack Result = "rolled-back"
	// ResultCatastrophic means rollback itself failed and the service needs
	// manual intervention.
	ResultCatastrophic Result = "catastrophic"
)

// transitions lists the allowed successor stages for each stage.
var transitions = map[Stage][]Stage{
	StageIdle:           {StageUploading},
	StageUploading:      {StageBackingUp, StageFailed},
	StageBackingUp:      {StageExtracting, StageRollingBack},
	StageExtracting:     {StageStarting, StageRollingBack},
	StageStarting:       {StageHealthChecking, StageRollingBack},
	StageHealthChecking: {StageActive, StageRollingBack},
	StageRollingBack:    {StageFailed},
	StageActive:         {},
	StageFailed:         {},
}

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageActive || s == StageFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s Stage) CanTransition(next Stage) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Actor identifies who triggered a deployment.
type Actor struct {
	// Hostname is the machine the deployment was started from.
	Hostname string `json:"hostname"`
	// Username is the operating system user who started the deployment.
	Username string `json:"username"`
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Record captures the outcome of a single deployment run.
type Record struct {
	// Version is the release version that was deployed.
	Version string `json:"version"`
	// Host is the target the release was deployed to.
	Host string `json:"host"`
	// Stage is the last stage the run reached.
	Stage Stage `json:"stage"`
	// Result classifies the run outcome.
	Result Result `json:"result"`
	// Actor is the operator who triggered the run.
	Actor *Actor `json:"actor,omitempty"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the run reached a terminal stage.
	FinishedAt time.Time `json:"finished_at"`
}

// Clone returns a copy of the record to avoid leaking internal references.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	cloned := *r
	cloned.Actor = r.Actor.Clone()

	return &cloned
}
