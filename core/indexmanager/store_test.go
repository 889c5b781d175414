package indexmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sushant-115/pagedb/core/indexing/btree"
	"github.com/sushant-115/pagedb/pkg/telemetry"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	tel, _, err := telemetry.New(telemetry.Config{})
	require.NoError(t, err)
	s, err := Open(Options{DataDir: dir, MaxKeysPerNode: 4}, tel, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestStoreBasicOps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir())
	defer s.Close()

	assert.Equal(t, "btree", s.Name())
	require.NoError(t, s.Put(ctx, "k1", []byte("v1")))

	v, found, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), v)

	exists, err := s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	deleted, err := s.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, 0, s.Size(ctx))
	require.NoError(t, s.Flush(ctx))
}

func TestStorePropagatesEngineErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir())
	defer s.Close()

	err := s.Put(ctx, "big", make([]byte, 8192))
	require.ErrorIs(t, err, btree.ErrEntryTooLarge)
}

func TestStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir())
	defer s.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, s.Put(ctx, fmt.Sprintf("w%d-%02d", w, i), []byte("v")))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 200, s.Size(ctx))
	snap, err := s.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(200), snap.KeyCount)
	assert.Greater(t, snap.Height, uint32(1))
}

func TestStoreClearAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t, dir)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("k%d", i), []byte("v")))
	}
	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Size(ctx))
	require.NoError(t, s.Put(ctx, "survivor", []byte("yes")))
	require.NoError(t, s.Close())

	reopened := newTestStore(t, dir)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Size(ctx))
	assert.Equal(t, btree.DefaultMetadata().RootPageID, reopened.Metadata().RootPageID)
}

func TestStoreWithEnabledTelemetry(t *testing.T) {
	ctx := context.Background()
	tel, shutdown, err := telemetry.New(telemetry.Config{Enabled: true, ServiceName: "pagedb-test"})
	require.NoError(t, err)
	defer shutdown(ctx)

	s, err := Open(Options{DataDir: t.TempDir()}, tel, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "a", []byte("1")))
	_, _, err = s.Get(ctx, "a")
	require.NoError(t, err)
}

func TestStoreBackupIsOpenable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir())
	defer s.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("key-%03d", i), []byte(fmt.Sprintf("v%d", i))))
	}
	_, err := s.Delete(ctx, "key-007")
	require.NoError(t, err)

	restoreDir := t.TempDir()
	info, err := s.Backup(ctx, filepath.Join(restoreDir, "engine.db"))
	require.NoError(t, err)
	assert.Equal(t, 49, info.KeyCount)
	assert.Len(t, info.SHA256, 64)
	assert.Positive(t, info.Bytes)

	restored := newTestStore(t, restoreDir)
	defer restored.Close()
	assert.Equal(t, 49, restored.Size(ctx))
	v, found, err := restored.Get(ctx, "key-042")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v42"), v)
	_, found, err = restored.Get(ctx, "key-007")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreBackupDefaultPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t, dir)
	defer s.Close()

	info, err := s.Backup(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backups"), filepath.Dir(info.Path))
	assert.Equal(t, 0, info.KeyCount)
}
