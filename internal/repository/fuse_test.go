package repository

import (
	"testing"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(ids ...string) []domain.IndexEntry {
	out := make([]domain.IndexEntry, len(ids))
	for i, id := range ids {
		out[i] = domain.IndexEntry{ID: id}
	}
	return out
}

func ids(scored []domain.ScoredEntry) []string {
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.Entry.ID
	}
	return out
}

func TestFuse_BothLegsBoostSharedEntries(t *testing.T) {
	got := fuse(10,
		rankedList{entries("a", "b", "c"), semanticWeight},
		rankedList{entries("c", "d"), lexicalWeight},
	)

	require.Len(t, got, 4)
	assert.Equal(t, "c", got[0].Entry.ID)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestFuse_TruncatesToTop(t *testing.T) {
	got := fuse(2, rankedList{entries("a", "b", "c"), semanticWeight})
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestFuse_EqualScoresKeepFirstAppearance(t *testing.T) {
	got := fuse(10,
		rankedList{entries("x"), 1.0},
		rankedList{entries("y"), 1.0},
	)
	assert.Equal(t, []string{"x", "y"}, ids(got))
}

func TestFuse_EmptyLists(t *testing.T) {
	assert.Empty(t, fuse(5, rankedList{nil, semanticWeight}, rankedList{nil, lexicalWeight}))
}

func TestHashLockName_Stable(t *testing.T) {
	assert.Equal(t, hashLockName("provision:kb"), hashLockName("provision:kb"))
	assert.NotEqual(t, hashLockName("provision:kb"), hashLockName("provision:other"))
}
