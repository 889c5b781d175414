package indexmanager

import (
	"context"

	"github.com/sushant-115/pagedb/core/indexing/btree"
)

// IndexManager is what the network surfaces need from a storage backend.
// All methods are safe for concurrent use.
type IndexManager interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Size(ctx context.Context) int
	Flush(ctx context.Context) error
	Clear(ctx context.Context) error
	Inspect(ctx context.Context) (*btree.Snapshot, error)
	Backup(ctx context.Context, dst string) (*BackupInfo, error)
	// Name returns the name/type of this index manager (e.g., "btree").
	Name() string
}

// BackupInfo describes a finished Backup.
type BackupInfo struct {
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	SHA256   string `json:"sha256"`
	KeyCount int    `json:"keyCount"`
}
