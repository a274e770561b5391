package threshold_test

import (
	"fmt"
	"testing"

	"f0oster/groupsync/diff"
	"f0oster/groupsync/directory"
	"f0oster/groupsync/threshold"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nUsers(n int) []directory.Object {
	out := make([]directory.Object, n)
	for i := range out {
		out[i] = directory.User(fmt.Sprintf("u%d", i))
	}
	return out
}

func TestEvaluate_StrictComparison(t *testing.T) {
	over, err := threshold.Evaluate(100, diff.Delta{ToAdd: nUsers(21)}, 20, 20)
	require.NoError(t, err)
	assert.True(t, over.AddExceeded)
	assert.True(t, over.Exceeded())
	assert.InDelta(t, 21.0, over.AddPct, 1e-9)

	at, err := threshold.Evaluate(100, diff.Delta{ToAdd: nUsers(20)}, 20, 20)
	require.NoError(t, err)
	assert.False(t, at.AddExceeded)
	assert.False(t, at.Exceeded())
}

func TestEvaluate_DirectionsAreIndependent(t *testing.T) {
	d, err := threshold.Evaluate(10, diff.Delta{ToAdd: nUsers(1), ToRemove: nUsers(5)}, 5, 30)
	require.NoError(t, err)
	assert.True(t, d.AddExceeded)
	assert.True(t, d.RemoveExceeded)

	d, err = threshold.Evaluate(10, diff.Delta{ToAdd: nUsers(1), ToRemove: nUsers(5)}, 10, 50)
	require.NoError(t, err)
	assert.False(t, d.Exceeded())
}

func TestEvaluate_EmptyDestination(t *testing.T) {
	d, err := threshold.Evaluate(0, diff.Delta{ToAdd: nUsers(1)}, 100, 100)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, d.AddPct, 1e-9)
	assert.False(t, d.Exceeded())

	d, err = threshold.Evaluate(0, diff.Delta{ToAdd: nUsers(2)}, 100, 100)
	require.NoError(t, err)
	assert.True(t, d.AddExceeded)
}

func TestEvaluate_InvalidInput(t *testing.T) {
	_, err := threshold.Evaluate(-1, diff.Delta{}, 10, 10)
	assert.ErrorIs(t, err, threshold.ErrInvalidInput)

	_, err = threshold.Evaluate(10, diff.Delta{}, -5, 10)
	assert.ErrorIs(t, err, threshold.ErrInvalidInput)
}
