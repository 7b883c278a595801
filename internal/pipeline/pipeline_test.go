package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStep(t *testing.T) {
	for _, s := range []string{"migrate", "cleanup", "sync", "full"} {
		step, err := ParseStep(s)
		require.NoError(t, err)
		assert.Equal(t, Step(s), step)
	}

	_, err := ParseStep("deploy")
	require.Error(t, err)
}

func TestStepIncludes(t *testing.T) {
	assert.True(t, StepFull.includes(StepMigrate))
	assert.True(t, StepFull.includes(StepCleanup))
	assert.True(t, StepFull.includes(StepSync))

	assert.True(t, StepMigrate.includes(StepMigrate))
	assert.False(t, StepMigrate.includes(StepSync))
	assert.False(t, StepCleanup.includes(StepMigrate))
	assert.False(t, StepSync.includes(StepCleanup))
}

func TestNextRunTimeLaterToday(t *testing.T) {
	now := time.Date(2025, 3, 10, 1, 30, 0, 0, time.UTC)

	next := NextRunTime(now, 2)

	assert.Equal(t, time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC), next)
}

func TestNextRunTimeTomorrow(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	next := NextRunTime(now, 2)

	assert.Equal(t, time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC), next)
}

func TestNextRunTimeExactBoundaryDefersToNextDay(t *testing.T) {
	now := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)

	next := NextRunTime(now, 2)

	assert.Equal(t, time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC), next)
}
