package deploy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestStageTransitions verifies the allowed transition table and terminal stages.
func TestStageTransitions(t *testing.T) {
	t.Parallel()

	require.True(t, StageIdle.CanTransition(StageUploading))
	require.True(t, StageHealthChecking.CanTransition(StageActive))
	require.True(t, StageHealthChecking.CanTransition(StageRollingBack))
	require.True(t, StageRollingBack.CanTransition(StageFailed))

	// A run never skips ahead or resumes from a terminal stage.
	require.False(t, StageIdle.CanTransition(StageActive))
	require.False(t, StageUploading.CanTransition(StageStarting))
	require.False(t, StageActive.CanTransition(StageUploading))
	require.False(t, StageFailed.CanTransition(StageUploading))
	require.False(t, StageRollingBack.CanTransition(StageActive))

	require.True(t, StageActive.Terminal())
	require.True(t, StageFailed.Terminal())
	require.False(t, StageHealthChecking.Terminal())
}

// TestRecordClone ensures clones do not alias the original actor.
func TestRecordClone(t *testing.T) {
	t.Parallel()

	record := &Record{
		Version:   "1.0.0",
		Host:      "203.0.113.10",
		Stage:     StageActive,
		Result:    ResultSucceeded,
		Actor:     &Actor{Hostname: "workstation", Username: "deploy"},
		StartedAt: time.Now().Add(-time.Minute),
	}

	cloned := record.Clone()
	require.Equal(t, record, cloned)

	cloned.Actor.Username = "intruder"
	require.Equal(t, "deploy", record.Actor.Username)

	var nilRecord *Record

	require.Nil(t, nilRecord.Clone())
}
