package diff_test

import (
	"testing"

	"f0oster/groupsync/diff"
	"f0oster/groupsync/directory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func users(ids ...string) []directory.Object {
	out := make([]directory.Object, 0, len(ids))
	for _, id := range ids {
		out = append(out, directory.User(id))
	}
	return out
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name         string
		source       []directory.Object
		destination  []directory.Object
		exclusionary bool
		wantAdd      []directory.Object
		wantRemove   []directory.Object
	}{
		{
			name:        "add and remove",
			source:      users("1", "2", "3"),
			destination: users("2", "3", "4"),
			wantAdd:     users("1"),
			wantRemove:  users("4"),
		},
		{
			name:        "identical sets",
			source:      users("1", "2", "3"),
			destination: users("3", "2", "1"),
		},
		{
			name:         "exclusionary strips the intersection",
			source:       users("2", "3"),
			destination:  users("1", "2", "3", "4"),
			exclusionary: true,
			wantRemove:   users("2", "3"),
		},
		{
			name:         "exclusionary ignores members not in destination",
			source:       users("9"),
			destination:  users("1"),
			exclusionary: true,
		},
		{
			name:        "duplicates are collapsed",
			source:      users("1", "1", "2"),
			destination: users("2", "2", "5", "5"),
			wantAdd:     users("1"),
			wantRemove:  users("5"),
		},
		{
			name:        "empty source removes everything",
			source:      nil,
			destination: users("b", "a"),
			wantRemove:  users("a", "b"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, err := diff.Diff(tt.source, tt.destination, tt.exclusionary)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAdd, delta.ToAdd)
			assert.Equal(t, tt.wantRemove, delta.ToRemove)
		})
	}
}

func TestDiff_OrderIndependentAndPure(t *testing.T) {
	a := users("5", "1", "3", "9")
	b := users("9", "2", "5")
	aCopy := append([]directory.Object(nil), a...)

	d1, err := diff.Diff(a, b, false)
	require.NoError(t, err)
	d2, err := diff.Diff(users("9", "3", "1", "5"), users("5", "9", "2"), false)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Equal(t, aCopy, a, "inputs are not modified")
	assert.False(t, d1.Empty())
}

func TestDiff_SameSetIsEmpty(t *testing.T) {
	s := users("x", "y")
	delta, err := diff.Diff(s, s, false)
	require.NoError(t, err)
	assert.True(t, delta.Empty())
}

func TestDiff_RejectsEmptyID(t *testing.T) {
	_, err := diff.Diff([]directory.Object{{Kind: directory.KindUser}}, nil, false)
	assert.ErrorIs(t, err, diff.ErrInvalidMember)

	_, err = diff.Diff(nil, []directory.Object{{}}, true)
	assert.ErrorIs(t, err, diff.ErrInvalidMember)
}
