package btree

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"github.com/sushant-115/pagedb/core/write_engine/wal"
)

// --- Test Helpers ---

func openTestTree(t *testing.T, dir string, maxKeys int) *BTree {
	t.Helper()
	logger := zaptest.NewLogger(t)
	lm, err := wal.NewLogManager(dir, "", logger)
	require.NoError(t, err)
	bt, err := Open(Config{
		FilePath:       filepath.Join(dir, "engine.db"),
		MaxKeysPerNode: maxKeys,
	}, lm, logger)
	require.NoError(t, err)
	return bt
}

// crash drops the tree without syncing, checkpointing or closing cleanly.
func crash(t *testing.T, bt *BTree) {
	t.Helper()
	require.NoError(t, bt.disk.Close())
	require.NoError(t, bt.wal.Close())
	bt.closed = true
}

func walPath(dir string) string { return filepath.Join(dir, wal.DefaultFileName) }

// checkTree walks every node and verifies ordering, separator bounds and
// uniform leaf depth. It returns all keys in order.
func checkTree(t *testing.T, bt *BTree) []string {
	t.Helper()
	var keys []string
	leafDepth := -1
	var walk func(id pagemanager.PageID, depth int, lo, hi *string)
	walk = func(id pagemanager.PageID, depth int, lo, hi *string) {
		node, err := bt.readNode(id)
		require.NoError(t, err)
		require.LessOrEqual(t, node.NumKeys(), bt.cfg.MaxKeysPerNode, "page %d overflows", id)
		switch n := node.(type) {
		case *LeafNode:
			if leafDepth == -1 {
				leafDepth = depth
			}
			require.Equal(t, leafDepth, depth, "leaves at different depths")
			for _, k := range n.Keys {
				if lo != nil {
					require.GreaterOrEqual(t, k, *lo)
				}
				if hi != nil {
					require.Less(t, k, *hi)
				}
				keys = append(keys, k)
			}
		case *InternalNode:
			require.Len(t, n.ChildIDs, len(n.Keys)+1)
			for i, child := range n.ChildIDs {
				childLo, childHi := lo, hi
				if i > 0 {
					childLo = &n.Keys[i-1]
				}
				if i < len(n.Keys) {
					childHi = &n.Keys[i]
				}
				walk(child, depth+1, childLo, childHi)
			}
		}
	}
	walk(bt.meta.RootPageID, 0, nil, nil)
	require.Equal(t, int(bt.meta.Height)-1, leafDepth)
	require.True(t, sort.StringsAreSorted(keys))
	return keys
}

// --- Tests ---

func TestOpenCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	bt := openTestTree(t, dir, 0)
	defer bt.Close()

	assert.Equal(t, DefaultMetadata(), bt.Metadata())
	assert.Equal(t, RecoveryReady, bt.RecoveryState())
	assert.Equal(t, DefaultMaxKeysPerNode, bt.MaxKeysPerNode())

	fi, err := os.Stat(filepath.Join(dir, "engine.db"))
	require.NoError(t, err)
	assert.Equal(t, int64(2*pagemanager.DefaultPageSize), fi.Size())

	_, found, err := bt.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	lm, err := wal.NewLogManager(t.TempDir(), "", nil)
	require.NoError(t, err)

	_, err = Open(Config{FilePath: filepath.Join(t.TempDir(), "x.db"), MaxKeysPerNode: 1}, lm, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open(Config{}, lm, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open(Config{FilePath: filepath.Join(t.TempDir(), "x.db")}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGetAfterSet(t *testing.T) {
	bt := openTestTree(t, t.TempDir(), 4)
	defer bt.Close()

	require.NoError(t, bt.Set("name", "pagedb"))
	require.NoError(t, bt.Set("", "empty key"))

	v, found, err := bt.Get("name")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "pagedb", v)

	v, found, err = bt.Get("")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "empty key", v)
	assert.Equal(t, 2, bt.Size())
}

func TestOverwriteKeepsKeyCount(t *testing.T) {
	bt := openTestTree(t, t.TempDir(), 4)
	defer bt.Close()

	require.NoError(t, bt.Set("k", "v1"))
	before := bt.Metadata()
	require.NoError(t, bt.Set("k", "v2"))

	assert.Equal(t, before, bt.Metadata())
	assert.Equal(t, 1, bt.Size())
	v, _, err := bt.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestFirstSplitScenario(t *testing.T) {
	bt := openTestTree(t, t.TempDir(), 4)
	defer bt.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, bt.Set(k, strings.ToUpper(k)))
	}
	assert.Equal(t, uint32(0), bt.Metadata().SplitCount)
	assert.Equal(t, uint32(1), bt.Metadata().Height)

	require.NoError(t, bt.Set("e", "E"))
	meta := bt.Metadata()
	assert.Equal(t, uint32(1), meta.SplitCount)
	assert.Equal(t, uint32(2), meta.Height)
	assert.Equal(t, uint32(5), meta.KeyCount)
	assert.Equal(t, pagemanager.PageID(3), meta.RootPageID)
	assert.Equal(t, uint32(4), meta.TotalPages)

	snap, err := bt.Inspect()
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 3)

	root := snap.Nodes[0]
	assert.Equal(t, "internal", root.Type)
	assert.Equal(t, []string{"d"}, root.Keys)
	assert.Equal(t, []pagemanager.PageID{1, 2}, root.ChildIDs)
	assert.Equal(t, 0, root.Level)

	assert.Equal(t, pagemanager.PageID(1), snap.Nodes[1].PageID)
	assert.Equal(t, []string{"a", "b", "c"}, snap.Nodes[1].Keys)
	assert.Equal(t, []string{"A", "B", "C"}, snap.Nodes[1].Values)
	assert.Equal(t, 1, snap.Nodes[1].Level)

	assert.Equal(t, pagemanager.PageID(2), snap.Nodes[2].PageID)
	assert.Equal(t, []string{"d", "e"}, snap.Nodes[2].Keys)

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		v, found, err := bt.Get(k)
		require.NoError(t, err)
		require.True(t, found, k)
		assert.Equal(t, strings.ToUpper(k), v)
	}
}

func TestManyKeysKeepInvariants(t *testing.T) {
	for _, maxKeys := range []int{2, 3, 4, 7} {
		t.Run(fmt.Sprintf("max=%d", maxKeys), func(t *testing.T) {
			bt := openTestTree(t, t.TempDir(), maxKeys)
			defer bt.Close()

			rng := rand.New(rand.NewSource(int64(maxKeys)))
			want := make(map[string]string)
			for i := 0; i < 300; i++ {
				k := fmt.Sprintf("key-%04d", rng.Intn(500))
				v := fmt.Sprintf("val-%d", i)
				require.NoError(t, bt.Set(k, v))
				want[k] = v
			}

			assert.Equal(t, len(want), bt.Size())
			keys := checkTree(t, bt)
			assert.Len(t, keys, len(want))
			for k, v := range want {
				got, found, err := bt.Get(k)
				require.NoError(t, err)
				require.True(t, found, k)
				require.Equal(t, v, got)
			}
			assert.Greater(t, bt.Metadata().Height, uint32(2))
		})
	}
}

func TestHeightGrowsOnlyOnRootSplit(t *testing.T) {
	bt := openTestTree(t, t.TempDir(), 3)
	defer bt.Close()

	prev := bt.Metadata()
	for i := 0; i < 100; i++ {
		require.NoError(t, bt.Set(fmt.Sprintf("%03d", i), "v"))
		cur := bt.Metadata()
		if cur.Height != prev.Height {
			assert.Equal(t, prev.Height+1, cur.Height)
			assert.NotEqual(t, prev.RootPageID, cur.RootPageID, "height grows only with a new root")
		} else {
			assert.Equal(t, prev.RootPageID, cur.RootPageID)
		}
		prev = cur
	}
}

func TestDeleteSemantics(t *testing.T) {
	dir := t.TempDir()
	bt := openTestTree(t, dir, 4)
	defer bt.Close()

	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, bt.Set(k, k))
	}

	deleted, err := bt.Delete("c")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, found, err := bt.Get("c")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 5, bt.Size())

	walBefore, err := bt.wal.Inspect()
	require.NoError(t, err)
	deleted, err = bt.Delete("nope")
	require.NoError(t, err)
	assert.False(t, deleted)
	walAfter, err := bt.wal.Inspect()
	require.NoError(t, err)
	assert.Equal(t, walBefore.EntryCount+1, walAfter.EntryCount, "absent deletes are still logged")
	assert.Equal(t, 5, bt.Size())
}

func TestDeleteAllLeavesEmptyLeaves(t *testing.T) {
	bt := openTestTree(t, t.TempDir(), 2)
	defer bt.Close()

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		require.NoError(t, bt.Set(k, k))
	}
	height := bt.Metadata().Height
	require.Greater(t, height, uint32(1))

	for _, k := range keys {
		deleted, err := bt.Delete(k)
		require.NoError(t, err)
		require.True(t, deleted)
	}
	assert.Equal(t, 0, bt.Size())
	assert.Equal(t, height, bt.Metadata().Height, "no merge, no height collapse")
	assert.Empty(t, checkTree(t, bt))

	// still usable
	require.NoError(t, bt.Set("d", "again"))
	v, found, err := bt.Get("d")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "again", v)
}

func TestEntryTooLargeRejectedBeforeWAL(t *testing.T) {
	bt := openTestTree(t, t.TempDir(), 4)
	defer bt.Close()

	err := bt.Set("big", strings.Repeat("x", pagemanager.DefaultPageSize))
	require.ErrorIs(t, err, ErrEntryTooLarge)

	state, err := bt.wal.Inspect()
	require.NoError(t, err)
	assert.Zero(t, state.EntryCount)
	assert.Equal(t, 0, bt.Size())
}

func TestLargestAllowedEntriesSplitCleanly(t *testing.T) {
	bt := openTestTree(t, t.TempDir(), 4)
	defer bt.Close()

	limit := maxEntrySize(pagemanager.DefaultPageSize, 4)
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("k%02d", i)
		value := strings.Repeat("v", limit-4-len(key))
		require.NoError(t, bt.Set(key, value))
	}
	checkTree(t, bt)
}

func TestCloseAndReopenPersists(t *testing.T) {
	dir := t.TempDir()
	bt := openTestTree(t, dir, 4)
	for i := 0; i < 50; i++ {
		require.NoError(t, bt.Set(fmt.Sprintf("k%02d", i), fmt.Sprintf("v%d", i)))
	}
	meta := bt.Metadata()
	require.NoError(t, bt.Close())
	require.NoError(t, bt.Close(), "close is idempotent")

	_, err := os.Stat(walPath(dir))
	assert.True(t, os.IsNotExist(err), "close checkpoints the wal")

	err = bt.Set("x", "y")
	require.ErrorIs(t, err, ErrClosed)

	reopened := openTestTree(t, dir, 4)
	defer reopened.Close()
	assert.Equal(t, meta, reopened.Metadata())
	assert.Equal(t, RecoveryReady, reopened.RecoveryState())
	for i := 0; i < 50; i++ {
		v, found, err := reopened.Get(fmt.Sprintf("k%02d", i))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, fmt.Sprintf("v%d", i), v)
	}
}

func TestClearResetsEverything(t *testing.T) {
	dir := t.TempDir()
	bt := openTestTree(t, dir, 4)
	defer bt.Close()

	for i := 0; i < 30; i++ {
		require.NoError(t, bt.Set(fmt.Sprintf("k%02d", i), "v"))
	}
	require.NoError(t, bt.Clear())

	assert.Equal(t, DefaultMetadata(), bt.Metadata())
	assert.Equal(t, 0, bt.Size())
	_, found, err := bt.Get("k01")
	require.NoError(t, err)
	assert.False(t, found)

	fi, err := os.Stat(filepath.Join(dir, "engine.db"))
	require.NoError(t, err)
	assert.Equal(t, int64(2*pagemanager.DefaultPageSize), fi.Size())
	_, err = os.Stat(walPath(dir))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, bt.Set("after", "clear"))
	assert.Equal(t, 1, bt.Size())
}

func TestFlush(t *testing.T) {
	bt := openTestTree(t, t.TempDir(), 4)
	require.NoError(t, bt.Set("a", "1"))
	require.NoError(t, bt.Flush())
	require.NoError(t, bt.Close())
	require.ErrorIs(t, bt.Flush(), ErrClosed)
}

func TestInspectEmptyTree(t *testing.T) {
	bt := openTestTree(t, t.TempDir(), 4)
	defer bt.Close()

	snap, err := bt.Inspect()
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "leaf", snap.Nodes[0].Type)
	assert.Empty(t, snap.Nodes[0].Keys)
	assert.Equal(t, pagemanager.DefaultPageSize, snap.PageSize)
	assert.Equal(t, 4, snap.MaxKeysPerNode)
	assert.Equal(t, int64(2*pagemanager.DefaultPageSize), snap.FileSizeBytes)
	assert.Equal(t, RecoveryReady, snap.RecoveryState)
}

// splitTree builds the two-level tree from TestFirstSplitScenario: root 3
// with separator "d" over leaves 1 and 2.
func splitTree(t *testing.T) *BTree {
	t.Helper()
	bt := openTestTree(t, t.TempDir(), 4)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, bt.Set(k, strings.ToUpper(k)))
	}
	require.Equal(t, pagemanager.PageID(3), bt.Metadata().RootPageID)
	return bt
}

func overwritePage(t *testing.T, bt *BTree, node Node) {
	t.Helper()
	data, err := EncodeNode(node, bt.cfg.PageSize)
	require.NoError(t, err)
	require.NoError(t, bt.disk.WritePage(node.PageID(), data))
}

func TestReadsRejectOutOfRangeChild(t *testing.T) {
	for name, child := range map[string]pagemanager.PageID{"beyond total pages": 999, "metadata page": 0} {
		t.Run(name, func(t *testing.T) {
			bt := splitTree(t)
			defer bt.Close()
			overwritePage(t, bt, &InternalNode{ID: 3, Keys: []string{"d"}, ChildIDs: []pagemanager.PageID{1, child}})

			_, _, err := bt.Get("e")
			require.ErrorIs(t, err, ErrInvariantViolation)
			assert.ErrorContains(t, err, fmt.Sprintf("page id %d", child))

			err = bt.Set("f", "F")
			require.ErrorIs(t, err, ErrInvariantViolation)

			// The intact side still works.
			v, found, err := bt.Get("a")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "A", v)
		})
	}
}

func TestReadsRejectUnsortedKeys(t *testing.T) {
	bt := splitTree(t)
	defer bt.Close()
	overwritePage(t, bt, &LeafNode{ID: 1, Keys: []string{"c", "a", "b"}, Values: []string{"C", "A", "B"}})

	_, _, err := bt.Get("a")
	require.ErrorIs(t, err, ErrInvariantViolation)
	assert.ErrorContains(t, err, "not strictly ascending")

	_, err = bt.Delete("b")
	require.ErrorIs(t, err, ErrInvariantViolation)

	overwritePage(t, bt, &LeafNode{ID: 2, Keys: []string{"d", "d"}, Values: []string{"D", "D"}})
	_, _, err = bt.Get("e")
	require.ErrorIs(t, err, ErrInvariantViolation, "duplicate keys are not strictly ascending")
}

func TestReadsRejectCyclicTraversal(t *testing.T) {
	bt := splitTree(t)
	defer bt.Close()
	// The left child points back at the root itself.
	overwritePage(t, bt, &InternalNode{ID: 3, Keys: []string{"d"}, ChildIDs: []pagemanager.PageID{3, 2}})

	_, _, err := bt.Get("a")
	require.ErrorIs(t, err, ErrInvariantViolation)
	assert.ErrorContains(t, err, "does not terminate")

	v, found, err := bt.Get("e")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "E", v)
}
