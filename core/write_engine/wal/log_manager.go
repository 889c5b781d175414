package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// inspectEntryLimit caps the number of entries returned by Inspect.
const inspectEntryLimit = 50

// DefaultFileName is used when the caller does not name the WAL file.
const DefaultFileName = "engine.wal"

// RecoveryResult is what Recover hands back to the engine for replay.
type RecoveryResult struct {
	Entries        []LogRecord
	CorruptedCount int
}

// State is a read-only view of the log for the debug surfaces.
type State struct {
	FilePath       string      `json:"filePath"`
	FileSizeBytes  int64       `json:"fileSizeBytes"`
	EntryCount     int         `json:"entryCount"`
	CorruptedCount int         `json:"corruptedCount"`
	Entries        []LogRecord `json:"entries"`
}

// LogManager manages a single append-only WAL file. Every append is
// fsynced before it returns. A checkpoint removes the file; the next append
// recreates it.
type LogManager struct {
	filePath string
	logFile  *os.File // opened lazily on first append
	mu       sync.Mutex
	closed   bool
	logger   *zap.Logger
}

// NewLogManager creates a LogManager writing to dir/fileName. The directory is
// created if needed; the file itself is created on the first append.
func NewLogManager(dir string, fileName string, logger *zap.Logger) (*LogManager, error) {
	if fileName == "" {
		fileName = DefaultFileName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return &LogManager{
		filePath: filepath.Join(dir, fileName),
		logger:   logger.Named("wal"),
	}, nil
}

func (lm *LogManager) FilePath() string { return lm.filePath }

// AppendSet durably logs a SET intent.
func (lm *LogManager) AppendSet(key, value string) error {
	return lm.Append(&LogRecord{Type: LogRecordTypeSet, Key: key, Value: value})
}

// AppendDelete durably logs a DEL intent.
func (lm *LogManager) AppendDelete(key string) error {
	return lm.Append(&LogRecord{Type: LogRecordTypeDelete, Key: key})
}

// Append writes one framed record and fsyncs the file.
func (lm *LogManager) Append(record *LogRecord) error {
	data, err := record.Serialize()
	if err != nil {
		return err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return ErrClosed
	}
	if lm.logFile == nil {
		f, err := os.OpenFile(lm.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open wal file %s: %w", lm.filePath, err)
		}
		lm.logFile = f
	}
	if _, err := lm.logFile.Write(data); err != nil {
		return fmt.Errorf("failed to append wal record: %w", err)
	}
	if err := lm.logFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync wal file: %w", err)
	}
	return nil
}

// Recover reads the log from the start and returns every valid record up to
// the first truncated, corrupted or malformed one. Reading stops there and
// the bad record is counted; nothing after it is trusted.
func (lm *LogManager) Recover() (RecoveryResult, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.recoverLocked(true)
}

func (lm *LogManager) recoverLocked(logResult bool) (RecoveryResult, error) {
	var result RecoveryResult

	data, err := os.ReadFile(lm.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("failed to read wal file %s: %w", lm.filePath, err)
	}

	offset := 0
	for offset < len(data) {
		var lr LogRecord
		n, err := lr.Deserialize(data[offset:])
		if err != nil {
			result.CorruptedCount++
			lm.logger.Error("Stopping WAL replay at bad record",
				zap.Int("offset", offset),
				zap.Int("remaining_bytes", len(data)-offset),
				zap.Error(err))
			break
		}
		lr.Offset = int64(offset)
		result.Entries = append(result.Entries, lr)
		offset += n
	}

	if logResult && (len(result.Entries) > 0 || result.CorruptedCount > 0) {
		lm.logger.Info("WAL recovery scan complete",
			zap.Int("valid_entries", len(result.Entries)),
			zap.Int("corrupted", result.CorruptedCount))
	}
	return result, nil
}

// Checkpoint discards the log. It must only be called once every logged
// mutation is reflected in the page file.
func (lm *LogManager) Checkpoint() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.logFile != nil {
		if err := lm.logFile.Close(); err != nil {
			lm.logger.Warn("Error closing wal file before checkpoint", zap.Error(err))
		}
		lm.logFile = nil
	}
	if err := os.Remove(lm.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove wal file %s: %w", lm.filePath, err)
	}
	lm.logger.Info("Checkpoint complete, WAL cleared", zap.String("path", lm.filePath))
	return nil
}

// Inspect scans the log without side effects. At most 50 entries are returned.
func (lm *LogManager) Inspect() (State, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	res, err := lm.recoverLocked(false)
	if err != nil {
		return State{}, err
	}
	state := State{
		FilePath:       lm.filePath,
		EntryCount:     len(res.Entries),
		CorruptedCount: res.CorruptedCount,
		Entries:        res.Entries,
	}
	if len(state.Entries) > inspectEntryLimit {
		state.Entries = state.Entries[:inspectEntryLimit]
	}
	if state.Entries == nil {
		state.Entries = []LogRecord{}
	}
	if fi, err := os.Stat(lm.filePath); err == nil {
		state.FileSizeBytes = fi.Size()
	}
	return state, nil
}

// Close releases the file handle. The log file itself is left on disk.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.closed = true
	if lm.logFile == nil {
		return nil
	}
	err := lm.logFile.Close()
	lm.logFile = nil
	if err != nil {
		return fmt.Errorf("failed to close wal file: %w", err)
	}
	return nil
}
