package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"recstore/pkg/access"
)

func openPrimary(t *testing.T, dir string, kind access.Kind) *access.DB {
	db, err := access.Open(access.Config{Kind: kind, Dir: dir, Name: "vendors", Creation: access.IfNeeded})
	require.NoError(t, err)
	return db
}

func openIndex(t *testing.T, primary *access.DB) *SecondaryIndex {
	idx, err := Open("", primary, FieldDeriver('|', 1), access.Config{
		Dir:      primary.Config().Dir,
		Creation: access.IfNeeded,
	})
	require.NoError(t, err)
	return idx
}

func keys(t *testing.T, idx *SecondaryIndex, dk string) []string {
	found, err := idx.Find([]byte(dk))
	require.NoError(t, err)
	var out []string
	for _, k := range found {
		out = append(out, string(k))
	}
	return out
}

func TestFieldDeriver(t *testing.T) {
	var derive = FieldDeriver(',', 1)

	dk, ok := derive(nil, []byte("acme,Oslo,NO"))
	require.True(t, ok)
	require.Equal(t, "Oslo", string(dk))

	_, ok = derive(nil, []byte("acme"))
	require.False(t, ok)
	_, ok = derive(nil, []byte("acme,,NO"))
	require.False(t, ok)
	_, ok = FieldDeriver(',', -1)(nil, []byte("acme"))
	require.False(t, ok)
}

func TestIndexFollowsPutAndDelete(t *testing.T) {
	var dir = t.TempDir()
	var primary = openPrimary(t, dir, access.Hash)
	var idx = openIndex(t, primary)

	for _, kv := range [][2]string{
		{"v3", "Zeta|Oslo"},
		{"v1", "Acme|Oslo"},
		{"v2", "Bolt|Rome"},
		{"v4", "Anon"},
	} {
		_, err := primary.Put([]byte(kv[0]), []byte(kv[1]))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"v1", "v3"}, keys(t, idx, "Oslo"))
	require.Equal(t, []string{"v2"}, keys(t, idx, "Rome"))
	require.Equal(t, 3, idx.Count())

	require.NoError(t, primary.Delete([]byte("v1")))
	require.Equal(t, []string{"v3"}, keys(t, idx, "Oslo"))
	require.Empty(t, keys(t, idx, "Nowhere"))

	require.NoError(t, idx.Close())
	require.NoError(t, primary.Close())

	_, err := os.Stat(filepath.Join(dir, "vendors-index.db"))
	require.NoError(t, err)
}

func TestIndexFollowsUpdate(t *testing.T) {
	var primary = openPrimary(t, t.TempDir(), access.BTree)
	defer primary.Close()
	var idx = openIndex(t, primary)
	defer idx.Close()

	_, err := primary.Put([]byte("v1"), []byte("Acme|Oslo"))
	require.NoError(t, err)
	require.NoError(t, primary.Update([]byte("v1"), []byte("Acme|Rome")))

	require.Empty(t, keys(t, idx, "Oslo"))
	require.Equal(t, []string{"v1"}, keys(t, idx, "Rome"))

	// An update which keeps the derived key keeps the entry.
	require.NoError(t, primary.Update([]byte("v1"), []byte("Acme Corp|Rome")))
	require.Equal(t, []string{"v1"}, keys(t, idx, "Rome"))
}

func TestIndexKeepsEntryWhileADuplicateDerivesIt(t *testing.T) {
	var primary = openPrimary(t, t.TempDir(), access.BTree)
	defer primary.Close()
	var idx = openIndex(t, primary)
	defer idx.Close()

	for _, v := range []string{"a|Oslo", "b|Oslo", "c|Rome"} {
		_, err := primary.Put([]byte("k"), []byte(v))
		require.NoError(t, err)
	}
	c, err := primary.Cursor()
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.MoveFirst())
	require.NoError(t, c.Delete()) // "a|Oslo"
	require.Equal(t, []string{"k"}, keys(t, idx, "Oslo"))

	require.NoError(t, c.Delete()) // "b|Oslo"
	require.Empty(t, keys(t, idx, "Oslo"))
	require.Equal(t, []string{"k"}, keys(t, idx, "Rome"))

	require.NoError(t, c.Modify([]byte("c|Lima")))
	require.Empty(t, keys(t, idx, "Rome"))
	require.Equal(t, []string{"k"}, keys(t, idx, "Lima"))
}

func TestIndexIsRebuiltWhenEmpty(t *testing.T) {
	var primary = openPrimary(t, t.TempDir(), access.Hash)
	defer primary.Close()

	for _, kv := range [][2]string{{"v1", "Acme|Oslo"}, {"v2", "Bolt|Oslo"}} {
		_, err := primary.Put([]byte(kv[0]), []byte(kv[1]))
		require.NoError(t, err)
	}
	var idx = openIndex(t, primary)
	defer idx.Close()

	require.Equal(t, []string{"v1", "v2"}, keys(t, idx, "Oslo"))
	missing, stale, err := idx.Verify()
	require.NoError(t, err)
	require.Zero(t, missing)
	require.Zero(t, stale)
}

func TestVerifyAndRebuildRepairDrift(t *testing.T) {
	var primary = openPrimary(t, t.TempDir(), access.BTree)
	defer primary.Close()
	var idx = openIndex(t, primary)
	defer idx.Close()

	_, err := primary.Put([]byte("v1"), []byte("Acme|Oslo"))
	require.NoError(t, err)

	// Drift the index: one stale entry, one missing entry.
	_, err = idx.store.Put([]byte("Paris"), []byte("v9"))
	require.NoError(t, err)
	idx.primary.Unobserve(idx)
	_, err = primary.Put([]byte("v2"), []byte("Bolt|Rome"))
	require.NoError(t, err)
	primary.Observe(idx)

	missing, stale, err := idx.Verify()
	require.NoError(t, err)
	require.Equal(t, 1, missing)
	require.Equal(t, 1, stale)

	n, err := idx.Rebuild()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	missing, stale, err = idx.Verify()
	require.NoError(t, err)
	require.Zero(t, missing)
	require.Zero(t, stale)
	require.Empty(t, keys(t, idx, "Paris"))
	require.Equal(t, []string{"v2"}, keys(t, idx, "Rome"))
}

func TestOpenRequiresDeriver(t *testing.T) {
	var primary = openPrimary(t, t.TempDir(), access.BTree)
	defer primary.Close()

	_, err := Open("city", primary, nil, access.Config{Dir: t.TempDir()})
	require.ErrorIs(t, err, access.ErrOpen)
	require.Equal(t, "vendors-city-index", StoreName("vendors", "city"))
}
