package access

import (
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"recstore/pkg/core/structure"
)

func collect(t *testing.T, c *Cursor) []string {
	var out []string
	for k, v := range c.All() {
		out = append(out, string(k)+"="+string(v))
	}
	require.NoError(t, c.Err())
	return out
}

func TestCursorTraversesInKeyOrder(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	for _, kv := range [][2]string{{"m", "2"}, {"a", "1"}, {"z", "4"}, {"m", "1"}} {
		_, err := db.Put([]byte(kv[0]), []byte(kv[1]))
		require.NoError(t, err)
	}
	c, err := db.Cursor()
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, BeforeFirst, c.Position())
	require.Nil(t, c.Key())
	require.Equal(t, []string{"a=1", "m=1", "m=2", "z=4"}, collect(t, c))
	require.Equal(t, AfterLast, c.Position())
	require.False(t, c.MoveNext())

	// All restarts from the first record on each call.
	require.Len(t, collect(t, c), 4)
}

func TestCursorMoveNextFromBeforeFirst(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	_, err := db.Put([]byte("only"), []byte("1"))
	require.NoError(t, err)

	c, err := db.Cursor()
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.MoveNext())
	require.Equal(t, "only", string(c.Key()))
	require.False(t, c.MoveNext())
	require.Equal(t, AfterLast, c.Position())
}

func TestCursorHashOrder(t *testing.T) {
	var db = openDB(t, testConfig(t, Hash))
	defer db.Close()

	var keys = []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"}
	for _, k := range keys {
		_, err := db.Put([]byte(k), []byte("v"))
		require.NoError(t, err)
	}
	c, err := db.Cursor()
	require.NoError(t, err)
	defer c.Close()

	var got []string
	for k := range c.All() {
		got = append(got, string(k))
	}
	require.ElementsMatch(t, keys, got)
	require.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
		return structure.Hash32([]byte(got[i])) < structure.Hash32([]byte(got[j]))
	}))
}

func TestCursorSeek(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	for _, k := range []string{"b", "d", "f"} {
		_, err := db.Put([]byte(k), []byte("v"))
		require.NoError(t, err)
	}
	c, err := db.Cursor()
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Seek([]byte("d")))
	require.Equal(t, "d", string(c.Key()))

	require.False(t, c.Seek([]byte("c")))
	require.Equal(t, OnRecord, c.Position())
	require.Equal(t, "d", string(c.Key()))

	require.False(t, c.Seek([]byte("g")))
	require.Equal(t, AfterLast, c.Position())
}

func TestCursorDeleteMovesToNext(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	for _, k := range []string{"a", "b", "c"} {
		_, err := db.Put([]byte(k), []byte("v"))
		require.NoError(t, err)
	}
	c, err := db.Cursor()
	require.NoError(t, err)
	defer c.Close()

	require.True(t, errors.Is(c.Delete(), ErrNotPositioned))

	require.True(t, c.Seek([]byte("b")))
	require.NoError(t, c.Delete())
	require.Equal(t, OnRecord, c.Position())
	require.Equal(t, "c", string(c.Key()))

	require.NoError(t, c.Delete())
	require.Equal(t, AfterLast, c.Position())
	require.Equal(t, 1, db.Count())

	// Deleting every record while traversing.
	require.True(t, c.MoveFirst())
	for c.Position() == OnRecord {
		require.NoError(t, c.Delete())
	}
	require.Equal(t, 0, db.Count())
}

func TestCursorModifySortedDuplicate(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	for _, v := range []string{"a", "c"} {
		_, err := db.Put([]byte("k"), []byte(v))
		require.NoError(t, err)
	}
	c, err := db.Cursor()
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.MoveFirst())
	require.True(t, errors.Is(c.Modify([]byte("c")), ErrDuplicateKey))

	require.NoError(t, c.Modify([]byte("d")))
	require.Equal(t, "d", string(c.Value()))
	require.False(t, c.MoveNext())

	values, err := db.GetAll([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("c"), []byte("d")}, values)
}

func TestCursorAddPositionsOnRecord(t *testing.T) {
	var db = openDB(t, testConfig(t, Recno))
	defer db.Close()

	c, err := db.Cursor()
	require.NoError(t, err)
	defer c.Close()

	key, err := c.Add(nil, []byte("first"))
	require.NoError(t, err)
	require.Equal(t, OnRecord, c.Position())
	require.Equal(t, key, c.Key())
	require.Equal(t, "first", string(c.Value()))

	_, err = c.Add(nil, []byte("second"))
	require.NoError(t, err)
	require.False(t, c.MoveNext())
}

func TestCursorSeesUpdatesThroughDB(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	_, err := db.Put([]byte("k"), []byte("old"))
	require.NoError(t, err)

	c, err := db.Cursor()
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.MoveFirst())
	require.NoError(t, db.Update([]byte("k"), []byte("new")))
	require.Equal(t, "new", string(c.Value()))
}

func TestCursorFailsOnceDBCloses(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))

	_, err := db.Put([]byte("k"), []byte("v"))
	require.NoError(t, err)
	c, err := db.Cursor()
	require.NoError(t, err)
	require.True(t, c.MoveFirst())

	require.NoError(t, db.Close())

	require.True(t, errors.Is(c.Err(), ErrClosed))
	require.Equal(t, AfterLast, c.Position())
	require.Nil(t, c.Key())
	require.Nil(t, c.Value())
	require.False(t, c.MoveFirst())
	require.False(t, c.MoveNext())
	_, err = c.Add([]byte("x"), []byte("y"))
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(c.Delete(), ErrClosed))
	require.NoError(t, c.Close())
}

func TestCursorCloseIsTracked(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	c, err := db.Cursor()
	require.NoError(t, err)
	require.Equal(t, 1, db.Stats()["open_cursors"])
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, 0, db.Stats()["open_cursors"])
	require.True(t, errors.Is(c.Err(), ErrClosed))
}
