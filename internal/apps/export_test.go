package apps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2p-industries/hyveos/pkg/fcid"
)

func TestExportCacheMissThenHit(t *testing.T) {
	c := newExportCache()

	_, ok := c.get("sha256:abc")
	require.False(t, ok, "empty cache must miss")

	cidv := fcid.New([32]byte{1, 2, 3}, nil)
	c.put("sha256:abc", cidv)

	got, ok := c.get("sha256:abc")
	require.True(t, ok)
	assert.Equal(t, cidv, got)
}

func TestExportCacheDistinctKeys(t *testing.T) {
	c := newExportCache()
	a := fcid.New([32]byte{1}, nil)
	b := fcid.New([32]byte{2}, nil)
	c.put("image-a", a)
	c.put("image-b", b)

	got, ok := c.get("image-a")
	require.True(t, ok)
	assert.Equal(t, a, got)

	got, ok = c.get("image-b")
	require.True(t, ok)
	assert.Equal(t, b, got)
}
