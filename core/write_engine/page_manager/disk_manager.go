package pagemanager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrIO             = errors.New("i/o error")
	ErrFileNotOpen    = errors.New("page file not open")
	ErrInvalidPageBuf = errors.New("page buffer size does not match page size")
)

// --- DiskManager ---

// DiskManager owns the page file. It reads and writes whole pages at
// pageID*pageSize and grows the file on demand. It keeps no cache.
type DiskManager struct {
	filePath string
	file     *os.File
	pageSize int
	numPages uint64 // file size / page size, updated on every extending write
	mu       sync.Mutex
	logger   *zap.Logger
}

func NewDiskManager(filePath string, pageSize int, logger *zap.Logger) (*DiskManager, error) {
	if filePath == "" {
		return nil, fmt.Errorf("page file path must not be empty")
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskManager{
		filePath: filePath,
		pageSize: pageSize,
		logger:   logger.Named("disk_manager"),
	}, nil
}

// OpenOrCreateFile opens the page file for read/write. If the file does not
// exist it is created and initialPages are written at ids 0..len-1 and
// synced. Calling it on an open manager is a no-op.
func (dm *DiskManager) OpenOrCreateFile(initialPages ...[]byte) (bool, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.file != nil {
		return false, nil
	}

	_, statErr := os.Stat(dm.filePath)
	switch {
	case os.IsNotExist(statErr):
		if dir := filepath.Dir(dm.filePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return false, fmt.Errorf("%w: creating directory %s: %v", ErrIO, dir, err)
			}
		}
		file, err := os.OpenFile(dm.filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return false, fmt.Errorf("%w: creating file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file
		dm.numPages = 0
		for i, data := range initialPages {
			if err := dm.writePageLocked(PageID(i), data); err != nil {
				dm.closeLocked()
				_ = os.Remove(dm.filePath)
				return false, fmt.Errorf("failed to write initial page %d: %w", i, err)
			}
		}
		if err := dm.file.Sync(); err != nil {
			return true, fmt.Errorf("%w: syncing new file: %v", ErrIO, err)
		}
		dm.logger.Info("Created page file", zap.String("path", dm.filePath), zap.Int("pages", len(initialPages)))
		return true, nil

	case statErr == nil:
		file, err := os.OpenFile(dm.filePath, os.O_RDWR, 0o644)
		if err != nil {
			return false, fmt.Errorf("%w: opening file %s: %v", ErrIO, dm.filePath, err)
		}
		fi, err := file.Stat()
		if err != nil {
			_ = file.Close()
			return false, fmt.Errorf("%w: getting file info: %v", ErrIO, err)
		}
		dm.file = file
		dm.numPages = uint64(fi.Size()) / uint64(dm.pageSize)
		dm.logger.Debug("Opened page file", zap.String("path", dm.filePath), zap.Uint64("pages", dm.numPages))
		return false, nil

	default:
		return false, fmt.Errorf("%w: stating file %s: %v", ErrIO, dm.filePath, statErr)
	}
}

// ReadPage reads exactly one page. Reading past the end of the file is an
// I/O error.
func (dm *DiskManager) ReadPage(pageID PageID) (*Page, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil, ErrFileNotOpen
	}
	page := NewPage(pageID, dm.pageSize)
	offset := int64(pageID) * int64(dm.pageSize)
	bytesRead, err := dm.file.ReadAt(page.data, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: EOF reading page %d at offset %d, file may be corrupt or pageID out of bounds", ErrIO, pageID, offset)
		}
		return nil, fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	if bytesRead != dm.pageSize {
		return nil, fmt.Errorf("%w: short read for page %d, expected %d, got %d", ErrIO, pageID, dm.pageSize, bytesRead)
	}
	return page, nil
}

// WritePage writes pageData at pageID's location. If pageID lies beyond the
// current end of file the gap is zero-filled first.
func (dm *DiskManager) WritePage(pageID PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	return dm.writePageLocked(pageID, pageData)
}

func (dm *DiskManager) writePageLocked(pageID PageID, pageData []byte) error {
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidPageBuf, len(pageData), dm.pageSize)
	}
	if uint64(pageID) > dm.numPages {
		if err := dm.extendLocked(uint64(pageID)); err != nil {
			return err
		}
	}
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(pageData, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	if uint64(pageID) >= dm.numPages {
		dm.numPages = uint64(pageID) + 1
	}
	return nil
}

// extendLocked grows the file with zero pages up to (excluding) upTo.
func (dm *DiskManager) extendLocked(upTo uint64) error {
	newSize := int64(upTo) * int64(dm.pageSize)
	if err := dm.file.Truncate(newSize); err != nil {
		return fmt.Errorf("%w: extending file to %d bytes: %v", ErrIO, newSize, err)
	}
	dm.logger.Debug("Extended page file", zap.Uint64("from_pages", dm.numPages), zap.Uint64("to_pages", upTo))
	dm.numPages = upTo
	return nil
}

// Sync flushes all buffered data to disk.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

// Close closes the underlying file handle.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.closeLocked()
}

func (dm *DiskManager) closeLocked() error {
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		dm.logger.Warn("Error syncing file on close", zap.Error(err))
	}
	closeErr := dm.file.Close()
	dm.file = nil
	if closeErr != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, dm.filePath, closeErr)
	}
	return nil
}

// Clear closes the handle and removes the page file from disk.
func (dm *DiskManager) Clear() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.closeLocked(); err != nil {
		return err
	}
	if err := os.Remove(dm.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %s: %v", ErrIO, dm.filePath, err)
	}
	dm.numPages = 0
	dm.logger.Info("Removed page file", zap.String("path", dm.filePath))
	return nil
}

// Exists reports whether the page file is present on disk.
func (dm *DiskManager) Exists() bool {
	_, err := os.Stat(dm.filePath)
	return err == nil
}

// FileSize returns the current size of the page file in bytes, or 0 if it
// does not exist.
func (dm *DiskManager) FileSize() int64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file != nil {
		if fi, err := dm.file.Stat(); err == nil {
			return fi.Size()
		}
	}
	if fi, err := os.Stat(dm.filePath); err == nil {
		return fi.Size()
	}
	return 0
}

func (dm *DiskManager) NumPages() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numPages
}

func (dm *DiskManager) FilePath() string { return dm.filePath }
func (dm *DiskManager) PageSize() int    { return dm.pageSize }
