package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Test Helpers ---

// setupLogManager creates a LogManager in a temporary directory for isolated testing.
func setupLogManager(t *testing.T) (*LogManager, string) {
	t.Helper()
	tempDir := t.TempDir()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	lm, err := NewLogManager(tempDir, "", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lm.Close() })

	return lm, tempDir
}

func appendRaw(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

// --- Test Cases ---

func TestLogManager_AppendAndRecover(t *testing.T) {
	lm, dir := setupLogManager(t)
	require.Equal(t, filepath.Join(dir, DefaultFileName), lm.FilePath())

	require.NoError(t, lm.AppendSet("alpha", "1"))
	require.NoError(t, lm.AppendSet("beta", ""))
	require.NoError(t, lm.AppendDelete("alpha"))

	res, err := lm.Recover()
	require.NoError(t, err)
	require.Equal(t, 0, res.CorruptedCount)
	require.Len(t, res.Entries, 3)

	require.Equal(t, LogRecordTypeSet, res.Entries[0].Type)
	require.Equal(t, "alpha", res.Entries[0].Key)
	require.Equal(t, "1", res.Entries[0].Value)
	require.Equal(t, int64(0), res.Entries[0].Offset)

	require.Equal(t, "beta", res.Entries[1].Key)
	require.Equal(t, "", res.Entries[1].Value)
	require.Equal(t, int64(res.Entries[0].TotalSize), res.Entries[1].Offset)

	require.Equal(t, LogRecordTypeDelete, res.Entries[2].Type)
	require.Equal(t, "alpha", res.Entries[2].Key)
}

func TestLogManager_RecoverMissingFile(t *testing.T) {
	lm, _ := setupLogManager(t)
	res, err := lm.Recover()
	require.NoError(t, err)
	require.Empty(t, res.Entries)
	require.Zero(t, res.CorruptedCount)
}

func TestLogManager_TruncatedTailIsCounted(t *testing.T) {
	lm, _ := setupLogManager(t)
	require.NoError(t, lm.AppendSet("k1", "v1"))
	require.NoError(t, lm.AppendSet("k2", "v2"))

	rec := &LogRecord{Type: LogRecordTypeSet, Key: "k3", Value: "v3"}
	data, err := rec.Serialize()
	require.NoError(t, err)
	appendRaw(t, lm.FilePath(), data[:len(data)-2])

	res, err := lm.Recover()
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	require.Equal(t, 1, res.CorruptedCount)
}

func TestLogManager_TruncatedHeaderIsCounted(t *testing.T) {
	lm, _ := setupLogManager(t)
	require.NoError(t, lm.AppendSet("k1", "v1"))
	appendRaw(t, lm.FilePath(), []byte{0x00, 0x00, 0x01})

	res, err := lm.Recover()
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	require.Equal(t, 1, res.CorruptedCount)
}

func TestLogManager_ChecksumMismatchStopsReplay(t *testing.T) {
	lm, _ := setupLogManager(t)
	require.NoError(t, lm.AppendSet("k1", "v1"))

	bad := &LogRecord{Type: LogRecordTypeSet, Key: "k2", Value: "v2"}
	data, err := bad.Serialize()
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	appendRaw(t, lm.FilePath(), data)

	good := &LogRecord{Type: LogRecordTypeSet, Key: "k3", Value: "v3"}
	data, err = good.Serialize()
	require.NoError(t, err)
	appendRaw(t, lm.FilePath(), data)

	res, err := lm.Recover()
	require.NoError(t, err)
	require.Len(t, res.Entries, 1, "records after the corrupted one are not trusted")
	require.Equal(t, "k1", res.Entries[0].Key)
	require.Equal(t, 1, res.CorruptedCount)
}

func TestLogManager_UnreasonableLengthIsCorrupt(t *testing.T) {
	lm, _ := setupLogManager(t)
	appendRaw(t, lm.FilePath(), []byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 1, 2, 3})

	res, err := lm.Recover()
	require.NoError(t, err)
	require.Empty(t, res.Entries)
	require.Equal(t, 1, res.CorruptedCount)
}

func TestLogManager_CheckpointRemovesFile(t *testing.T) {
	lm, _ := setupLogManager(t)
	require.NoError(t, lm.AppendSet("k", "v"))
	_, err := os.Stat(lm.FilePath())
	require.NoError(t, err)

	require.NoError(t, lm.Checkpoint())
	_, err = os.Stat(lm.FilePath())
	require.True(t, os.IsNotExist(err))

	// Appends after a checkpoint start a fresh log.
	require.NoError(t, lm.AppendDelete("k"))
	res, err := lm.Recover()
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	require.Equal(t, LogRecordTypeDelete, res.Entries[0].Type)

	// Checkpoint with no file is fine.
	require.NoError(t, lm.Checkpoint())
	require.NoError(t, lm.Checkpoint())
}

func TestLogManager_InspectCapsEntries(t *testing.T) {
	lm, _ := setupLogManager(t)
	for i := 0; i < 60; i++ {
		require.NoError(t, lm.AppendSet(fmt.Sprintf("key-%02d", i), strings.Repeat("v", i)))
	}

	state, err := lm.Inspect()
	require.NoError(t, err)
	require.Equal(t, lm.FilePath(), state.FilePath)
	require.Equal(t, 60, state.EntryCount)
	require.Equal(t, 0, state.CorruptedCount)
	require.Len(t, state.Entries, inspectEntryLimit)
	require.Equal(t, "key-00", state.Entries[0].Key)

	fi, err := os.Stat(lm.FilePath())
	require.NoError(t, err)
	require.Equal(t, fi.Size(), state.FileSizeBytes)
}

func TestLogManager_InspectEmpty(t *testing.T) {
	lm, _ := setupLogManager(t)
	state, err := lm.Inspect()
	require.NoError(t, err)
	require.Zero(t, state.EntryCount)
	require.Zero(t, state.FileSizeBytes)
	require.NotNil(t, state.Entries)
}

func TestLogManager_AppendAfterClose(t *testing.T) {
	lm, _ := setupLogManager(t)
	require.NoError(t, lm.Close())
	require.ErrorIs(t, lm.AppendSet("k", "v"), ErrClosed)
}

func TestLogRecord_DeserializeRejectsUnknownType(t *testing.T) {
	rec := &LogRecord{Type: LogRecordType(9), Key: "k", Value: "v"}
	data, err := rec.Serialize()
	require.NoError(t, err)

	var out LogRecord
	_, err = out.Deserialize(data)
	require.ErrorIs(t, err, ErrCorruptedRecord)
}

func TestLogRecord_RoundTrip(t *testing.T) {
	rec := &LogRecord{Type: LogRecordTypeSet, Key: "héllo", Value: "wörld"}
	data, err := rec.Serialize()
	require.NoError(t, err)
	require.Len(t, data, rec.Size())

	var out LogRecord
	n, err := out.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, rec.Type, out.Type)
	require.Equal(t, rec.Key, out.Key)
	require.Equal(t, rec.Value, out.Value)
}
