package access

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"recstore/pkg/common"
	"recstore/pkg/storage"
)

func testConfig(t *testing.T, kind Kind) Config {
	return Config{Kind: kind, Dir: t.TempDir(), Name: "inventory", Creation: IfNeeded}
}

func openDB(t *testing.T, cfg Config) *DB {
	db, err := Open(cfg)
	require.NoError(t, err)
	return db
}

type recordingSink struct {
	mu      sync.Mutex
	reports []string
}

func (s *recordingSink) Report(prefix, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, prefix+": "+message)
}

func TestPutGetSurvivesReopen(t *testing.T) {
	var cfg = testConfig(t, BTree)
	var db = openDB(t, cfg)

	key, err := db.Put([]byte("a"), []byte("1"))
	require.NoError(t, err)
	require.Equal(t, "a", string(key))
	_, err = db.Put([]byte("b"), []byte("2"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfg.Creation = MustExist
	db = openDB(t, cfg)
	defer db.Close()

	require.Equal(t, 2, db.Count())
	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	v, err = db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))

	_, err = db.Get([]byte("c"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestRecnoNumbersAreNeverReused(t *testing.T) {
	var cfg = testConfig(t, Recno)
	var db = openDB(t, cfg)

	for _, v := range []string{"A", "B", "C"} {
		_, err := db.Append([]byte(v))
		require.NoError(t, err)
	}
	require.NoError(t, db.Delete(common.RecnoKey(2)))

	c, err := db.Cursor()
	require.NoError(t, err)
	var got []uint64
	for k, v := range c.All() {
		n, err := common.ParseRecno(k)
		require.NoError(t, err)
		got = append(got, n)
		require.Contains(t, []string{"A", "C"}, string(v))
	}
	require.Equal(t, []uint64{1, 3}, got)
	require.NoError(t, db.Close())

	db = openDB(t, cfg)
	defer db.Close()

	key, err := db.Append([]byte("D"))
	require.NoError(t, err)
	n, err := common.ParseRecno(key)
	require.NoError(t, err)
	require.Equal(t, uint64(4), n)

	// The key passed to Put is ignored.
	key, err = db.Put(common.RecnoKey(1), []byte("E"))
	require.NoError(t, err)
	require.Equal(t, common.RecnoKey(5), key)
}

func TestHeapAssignsPagedRIDs(t *testing.T) {
	var db = openDB(t, testConfig(t, Heap))
	defer db.Close()

	var last []byte
	for i := 0; i != common.SlotsPerPage+1; i++ {
		rid, err := db.Append([]byte("payload"))
		require.NoError(t, err)
		require.Len(t, rid, common.RIDSize)
		if last != nil {
			require.True(t, string(last) < string(rid))
		}
		last = rid
	}
	require.Equal(t, []byte{0, 0, 0, 2, 0, 0}, last)

	v, err := db.Get(last)
	require.NoError(t, err)
	require.Equal(t, "payload", string(v))
}

func TestQueueFixedLengthRecords(t *testing.T) {
	var cfg = testConfig(t, Queue)
	cfg.RecordLength = 4

	var db = openDB(t, cfg)
	defer db.Close()

	k1, err := db.Append([]byte("ab"))
	require.NoError(t, err)
	_, err = db.Append([]byte("wxyz"))
	require.NoError(t, err)

	v, err := db.Get(k1)
	require.NoError(t, err)
	require.Equal(t, "ab  ", string(v))

	_, err = db.Append([]byte("abcde"))
	require.True(t, errors.Is(err, ErrRecordLength))
	require.Equal(t, 2, db.Count())

	key, value, err := db.Consume()
	require.NoError(t, err)
	require.Equal(t, k1, key)
	require.Equal(t, "ab  ", string(value))
	_, value, err = db.Consume()
	require.NoError(t, err)
	require.Equal(t, "wxyz", string(value))

	_, _, err = db.Consume()
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestQueueRecordPad(t *testing.T) {
	var cfg = testConfig(t, Queue)
	cfg.RecordLength, cfg.RecordPad = 3, '.'

	var db = openDB(t, cfg)
	defer db.Close()

	key, err := db.Append([]byte("x"))
	require.NoError(t, err)
	v, err := db.Get(key)
	require.NoError(t, err)
	require.Equal(t, "x..", string(v))
}

func TestInvalidConfigsFailToOpen(t *testing.T) {
	var cases = []func(*Config){
		func(c *Config) { c.Kind = Queue },
		func(c *Config) { c.Kind, c.RecordLength = BTree, 10 },
		func(c *Config) { c.Kind, c.BackingText = Hash, "out.txt" },
		func(c *Config) { c.Kind, c.Duplicates = Recno, DuplicatesSorted },
		func(c *Config) { c.Kind, c.Duplicates = Heap, DuplicatesUnsorted },
		func(c *Config) { c.Name = "" },
		func(c *Config) { c.CacheBudget = -1 },
	}
	for _, tc := range cases {
		var cfg = testConfig(t, BTree)
		var sink = new(recordingSink)
		cfg.ErrorSink = sink
		tc(&cfg)

		_, err := Open(cfg)
		require.True(t, errors.Is(err, ErrOpen), "%v", err)
		require.Len(t, sink.reports, 1)
	}
}

func TestCreationPolicies(t *testing.T) {
	var cfg = testConfig(t, Hash)

	cfg.Creation = MustExist
	_, err := Open(cfg)
	require.True(t, errors.Is(err, ErrOpen))

	cfg.Creation = MustNotExist
	var db = openDB(t, cfg)
	require.NoError(t, db.Close())

	_, err = Open(cfg)
	require.True(t, errors.Is(err, ErrOpen))

	cfg.Creation = MustExist
	db = openDB(t, cfg)
	require.NoError(t, db.Close())
}

func TestReopenWithDifferentShapeFails(t *testing.T) {
	var cfg = testConfig(t, BTree)
	require.NoError(t, openDB(t, cfg).Close())

	var other = cfg
	other.Kind = Hash
	_, err := Open(other)
	require.True(t, errors.Is(err, ErrOpen))

	other = cfg
	other.Duplicates = DuplicatesNone
	_, err = Open(other)
	require.True(t, errors.Is(err, ErrOpen))

	other = cfg
	other.Compression = storage.CodecZstd
	_, err = Open(other)
	require.True(t, errors.Is(err, ErrOpen))
}

func TestDuplicatePolicies(t *testing.T) {
	t.Run("sorted", func(t *testing.T) {
		var db = openDB(t, testConfig(t, BTree))
		defer db.Close()
		require.Equal(t, DuplicatesSorted, db.Duplicates())

		for _, v := range []string{"c", "a", "b"} {
			_, err := db.Put([]byte("k"), []byte(v))
			require.NoError(t, err)
		}
		_, err := db.Put([]byte("k"), []byte("a"))
		require.True(t, errors.Is(err, ErrDuplicateKey))

		values, err := db.GetAll([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, values)

		v, err := db.Get([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, "a", string(v))
	})

	t.Run("unsorted", func(t *testing.T) {
		var db = openDB(t, testConfig(t, Hash))
		defer db.Close()
		require.Equal(t, DuplicatesUnsorted, db.Duplicates())

		for _, v := range []string{"c", "a", "c"} {
			_, err := db.Put([]byte("k"), []byte(v))
			require.NoError(t, err)
		}
		values, err := db.GetAll([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("c"), []byte("a"), []byte("c")}, values)
	})

	t.Run("none", func(t *testing.T) {
		var cfg = testConfig(t, BTree)
		cfg.Duplicates = DuplicatesNone
		var db = openDB(t, cfg)
		defer db.Close()

		_, err := db.Put([]byte("k"), []byte("1"))
		require.NoError(t, err)
		_, err = db.Put([]byte("k"), []byte("2"))
		require.True(t, errors.Is(err, ErrDuplicateKey))

		v, err := db.Get([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, "1", string(v))
	})
}

func TestUpdateReplacesAllDuplicates(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	for _, v := range []string{"a", "b"} {
		_, err := db.Put([]byte("k"), []byte(v))
		require.NoError(t, err)
	}
	require.NoError(t, db.Update([]byte("k"), []byte("z")))

	values, err := db.GetAll([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("z")}, values)

	err = db.Update([]byte("missing"), []byte("z"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateToSiblingValue(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	var events []Event
	db.Observe(ObserverFunc(func(ev Event) error {
		events = append(events, ev)
		return nil
	}))
	for _, v := range []string{"a", "b"} {
		_, err := db.Put([]byte("k"), []byte(v))
		require.NoError(t, err)
	}
	require.NoError(t, db.Update([]byte("k"), []byte("b")))

	values, err := db.GetAll([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("b")}, values)

	require.Len(t, events, 4)
	require.Equal(t, EventPut, events[2].Op)
	require.Equal(t, "a", string(events[2].Old))
	require.Equal(t, "b", string(events[2].New))
	require.Equal(t, EventDelete, events[3].Op)
	require.Equal(t, "b", string(events[3].Old))
	require.Equal(t, [][]byte{[]byte("b")}, events[3].Remaining)
}

func TestUpdateRejectsLongQueueValue(t *testing.T) {
	var cfg = testConfig(t, Queue)
	cfg.RecordLength = 4
	var db = openDB(t, cfg)
	defer db.Close()

	key, err := db.Append([]byte("ab"))
	require.NoError(t, err)
	err = db.Update(key, []byte("abcdef"))
	require.True(t, errors.Is(err, ErrRecordLength))

	v, err := db.Get(key)
	require.NoError(t, err)
	require.Equal(t, "ab  ", string(v))
}

func TestDeleteRemovesAllDuplicates(t *testing.T) {
	var db = openDB(t, testConfig(t, Hash))
	defer db.Close()

	for _, v := range []string{"a", "b"} {
		_, err := db.Put([]byte("k"), []byte(v))
		require.NoError(t, err)
	}
	_, err := db.Put([]byte("other"), []byte("x"))
	require.NoError(t, err)

	require.NoError(t, db.Delete([]byte("k")))
	require.Equal(t, 1, db.Count())
	_, err = db.GetAll([]byte("k"))
	require.True(t, errors.Is(err, ErrNotFound))
	require.True(t, errors.Is(db.Delete([]byte("k")), ErrNotFound))
}

func TestHashMissesAreCounted(t *testing.T) {
	var db = openDB(t, testConfig(t, Hash))
	defer db.Close()

	_, err := db.Put([]byte("present"), []byte("1"))
	require.NoError(t, err)

	_, err = db.Get([]byte("absent"))
	require.True(t, errors.Is(err, ErrNotFound))
	_, err = db.Get([]byte("present"))
	require.NoError(t, err)

	var stats = db.Stats()
	require.Equal(t, uint64(1), stats["misses"])
	require.Equal(t, uint64(1), stats["hits"])
	require.Equal(t, "hash", stats["kind"])
	require.Contains(t, stats, "bloom_bits_size")
}

func TestTruncateKeepsSequence(t *testing.T) {
	var cfg = testConfig(t, Recno)
	var db = openDB(t, cfg)

	for _, v := range []string{"A", "B"} {
		_, err := db.Append([]byte(v))
		require.NoError(t, err)
	}
	n, err := db.Truncate()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 0, db.Count())

	key, err := db.Append([]byte("C"))
	require.NoError(t, err)
	require.Equal(t, common.RecnoKey(3), key)
	require.NoError(t, db.Close())

	db = openDB(t, cfg)
	defer db.Close()
	require.Equal(t, 1, db.Count())
	v, err := db.Get(common.RecnoKey(3))
	require.NoError(t, err)
	require.Equal(t, "C", string(v))
}

func TestRecoveryReplaysWriteAheadLog(t *testing.T) {
	var cfg = testConfig(t, BTree)
	cfg.Fs = afero.NewMemMapFs()

	var db = openDB(t, cfg)
	_, err := db.Put([]byte("kept"), []byte("1"))
	require.NoError(t, err)
	require.NoError(t, db.Sync())

	_, err = db.Put([]byte("logged"), []byte("2"))
	require.NoError(t, err)
	require.NoError(t, db.Delete([]byte("kept")))
	// Simulate a crash: release files without a checkpoint.
	require.NoError(t, db.release())

	db = openDB(t, cfg)
	defer db.Close()

	require.Equal(t, 1, db.Count())
	v, err := db.Get([]byte("logged"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
	_, err = db.Get([]byte("kept"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestRecoveryStopsAtTornFrame(t *testing.T) {
	var cfg = testConfig(t, Hash)
	var sink = new(recordingSink)
	cfg.Fs, cfg.ErrorSink = afero.NewMemMapFs(), sink

	var db = openDB(t, cfg)
	_, err := db.Put([]byte("k"), []byte("v"))
	require.NoError(t, err)
	require.NoError(t, db.release())

	f, err := cfg.Fs.OpenFile(cfg.WALPath(), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	db = openDB(t, cfg)
	defer db.Close()

	require.Len(t, sink.reports, 1)
	require.Contains(t, sink.reports[0], "discarding write-ahead log tail")
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))

	content, err := afero.ReadFile(cfg.Fs, cfg.WALPath())
	require.NoError(t, err)
	require.Empty(t, content)
}

func TestCompressedCheckpoint(t *testing.T) {
	for _, codec := range []storage.Codec{storage.CodecSnappy, storage.CodecLZ4, storage.CodecZstd} {
		var cfg = testConfig(t, BTree)
		cfg.Compression = codec

		var db = openDB(t, cfg)
		_, err := db.Put([]byte("doc"), []byte("a fairly repetitive value value value value"))
		require.NoError(t, err)
		require.NoError(t, db.Close())

		db = openDB(t, cfg)
		v, err := db.Get([]byte("doc"))
		require.NoError(t, err)
		require.Equal(t, "a fairly repetitive value value value value", string(v))
		require.NoError(t, db.Close())
	}
}

func TestBackingTextIsRewrittenOnSync(t *testing.T) {
	var cfg = testConfig(t, Recno)
	cfg.BackingText = filepath.Join(cfg.Dir, "lines.txt")

	var db = openDB(t, cfg)
	defer db.Close()

	for _, v := range []string{"first", "second", "third"} {
		_, err := db.Append([]byte(v))
		require.NoError(t, err)
	}
	require.NoError(t, db.Delete(common.RecnoKey(2)))
	require.NoError(t, db.Sync())

	content, err := os.ReadFile(cfg.BackingText)
	require.NoError(t, err)
	require.Equal(t, "first\nthird\n", string(content))
}

func TestObserversSeeEveryChange(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	var events []Event
	db.Observe(ObserverFunc(func(ev Event) error {
		events = append(events, ev)
		return nil
	}))

	_, err := db.Put([]byte("k"), []byte("a"))
	require.NoError(t, err)
	_, err = db.Put([]byte("k"), []byte("b"))
	require.NoError(t, err)
	require.NoError(t, db.Update([]byte("k"), []byte("c")))
	require.NoError(t, db.Delete([]byte("k")))

	require.Len(t, events, 5)
	require.Equal(t, Event{Op: EventPut, Key: []byte("k"), New: []byte("a"), Remaining: [][]byte{[]byte("a")}}, events[0])
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, events[1].Remaining)

	require.Equal(t, EventPut, events[2].Op)
	require.Equal(t, "a", string(events[2].Old))
	require.Equal(t, "c", string(events[2].New))
	require.Equal(t, EventDelete, events[3].Op)
	require.Equal(t, "b", string(events[3].Old))
	require.Equal(t, [][]byte{[]byte("c")}, events[3].Remaining)

	require.Equal(t, EventDelete, events[4].Op)
	require.Equal(t, "c", string(events[4].Old))
	require.Empty(t, events[4].Remaining)
}

func TestObserverFailureKeepsChange(t *testing.T) {
	var cfg = testConfig(t, Hash)
	var sink = new(recordingSink)
	cfg.ErrorSink = sink

	var db = openDB(t, cfg)
	defer db.Close()

	db.Observe(ObserverFunc(func(Event) error { return errors.New("index unavailable") }))

	_, err := db.Put([]byte("k"), []byte("v"))
	require.True(t, errors.Is(err, ErrIndexMaintenance))
	require.Contains(t, err.Error(), "index unavailable")
	require.Len(t, sink.reports, 1)

	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
}

func TestOperationsAfterClose(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.Put([]byte("k"), []byte("v"))
	require.True(t, errors.Is(err, ErrClosed))
	_, err = db.Get([]byte("k"))
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(db.Sync(), ErrClosed))
	_, err = db.Cursor()
	require.True(t, errors.Is(err, ErrClosed))
}

func TestAppendRequiresNumberedKind(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	_, err := db.Append([]byte("v"))
	require.True(t, errors.Is(err, ErrUnsupported))
	_, _, err = db.Consume()
	require.True(t, errors.Is(err, ErrUnsupported))
	_, err = db.Put(nil, []byte("v"))
	require.Error(t, err)
}

func TestScanIsASnapshot(t *testing.T) {
	var db = openDB(t, testConfig(t, BTree))
	defer db.Close()

	for _, k := range []string{"a", "b", "c"} {
		_, err := db.Put([]byte(k), []byte("v"))
		require.NoError(t, err)
	}
	var seen []string
	require.NoError(t, db.Scan(func(key, _ []byte) error {
		seen = append(seen, string(key))
		return db.Delete(key)
	}))
	require.Equal(t, []string{"a", "b", "c"}, seen)
	require.Equal(t, 0, db.Count())

	var stop = errors.New("stop")
	_, err := db.Put([]byte("x"), []byte("v"))
	require.NoError(t, err)
	require.Equal(t, stop, db.Scan(func(_, _ []byte) error { return stop }))
}
