package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessLevelRank(t *testing.T) {
	assert.False(t, ViewAccess.CanMutate())
	assert.True(t, ContributeAccess.CanMutate())
	assert.True(t, AdminAccess.CanMutate())
	assert.True(t, AdminAccess.IsAdmin())
	assert.False(t, ContributeAccess.IsAdmin())
	assert.False(t, AccessLevel("owner").Valid())
}

func TestSprintStatusTransitions(t *testing.T) {
	cases := []struct {
		from    SprintStatus
		to      SprintStatus
		allowed bool
	}{
		{SprintDraft, SprintActive, true},
		{SprintDraft, SprintCompleted, true},
		{SprintActive, SprintCompleted, true},
		{SprintActive, SprintCancelled, true},
		{SprintActive, SprintActive, true},
		{SprintCompleted, SprintActive, false},
		{SprintCancelled, SprintDraft, false},
		{SprintCompleted, SprintCancelled, false},
		{SprintActive, SprintStatus("archived"), false},
	}

	for _, c := range cases {
		if c.from.CanTransitionTo(c.to) != c.allowed {
			t.Errorf("transition %s -> %s: expected allowed=%v", c.from, c.to, c.allowed)
		}
	}
}

func TestStringListRoundtrip(t *testing.T) {
	cols := StringList{"Backlog", "Doing", "Review", "Done"}

	v, err := cols.Value()
	assert.NoError(t, err)

	var scanned StringList
	assert.NoError(t, scanned.Scan(v))
	assert.Equal(t, cols, scanned)

	// nil колонка читается как пустой список
	var empty StringList
	assert.NoError(t, empty.Scan(nil))
	assert.Len(t, empty, 0)
}
