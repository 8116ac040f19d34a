package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"interactive-report-service/internal/localcache"
)

func TestLocalCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	log := logrus.New()

	cache, err := Open(path, log)
	require.NoError(t, err)
	cache.Set(localcache.DraftKey("q1"), "55")
	cache.Set(localcache.DraftKey("q1"), "60")
	cache.Set(localcache.VoteKey("q2"), "b")
	require.NoError(t, cache.Close())

	reopened, err := Open(path, log)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok := reopened.Get(localcache.DraftKey("q1"))
	require.True(t, ok)
	require.Equal(t, "60", v)

	reopened.Remove(localcache.VoteKey("q2"))
	_, ok = reopened.Get(localcache.VoteKey("q2"))
	require.False(t, ok)

	_, ok = reopened.Get("missing")
	require.False(t, ok)
}
