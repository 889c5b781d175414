package btree

import (
	"fmt"

	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"github.com/sushant-115/pagedb/core/write_engine/wal"
	"go.uber.org/zap"
)

const (
	DefaultMaxKeysPerNode = 4
	MinMaxKeysPerNode     = 2
)

// WriteAheadLog is the durability collaborator. Appends must be durable
// before they return.
type WriteAheadLog interface {
	AppendSet(key, value string) error
	AppendDelete(key string) error
	Recover() (wal.RecoveryResult, error)
	Checkpoint() error
	Inspect() (wal.State, error)
	Close() error
}

// Config controls the on-disk layout of a tree.
type Config struct {
	FilePath       string
	PageSize       int
	MaxKeysPerNode int
}

func (c *Config) applyDefaults() error {
	if c.FilePath == "" {
		return fmt.Errorf("%w: file path is required", ErrInvalidConfig)
	}
	if c.PageSize == 0 {
		c.PageSize = pagemanager.DefaultPageSize
	}
	if c.MaxKeysPerNode == 0 {
		c.MaxKeysPerNode = DefaultMaxKeysPerNode
	}
	if c.MaxKeysPerNode < MinMaxKeysPerNode {
		return fmt.Errorf("%w: max keys per node must be at least %d, got %d", ErrInvalidConfig, MinMaxKeysPerNode, c.MaxKeysPerNode)
	}
	if c.PageSize < metadataSize || maxEntrySize(c.PageSize, c.MaxKeysPerNode) < 4 {
		return fmt.Errorf("%w: page size %d too small for %d keys per node", ErrInvalidConfig, c.PageSize, c.MaxKeysPerNode)
	}
	return nil
}

// BTree is a disk-resident B-tree over string keys and values. Every node
// lives in its own page and is read from disk on each access.
//
// BTree is not safe for concurrent use; callers serialize access.
type BTree struct {
	cfg    Config
	disk   *pagemanager.DiskManager
	wal    WriteAheadLog
	meta   Metadata
	logger *zap.Logger

	state            RecoveryState
	recoveredEntries int
	corruptedEntries int
	closed           bool
}

// Open creates or opens the page file, then replays any pending WAL entries.
// The returned tree is ready for use.
func Open(cfg Config, log WriteAheadLog, logger *zap.Logger) (*BTree, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("%w: a write-ahead log is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	disk, err := pagemanager.NewDiskManager(cfg.FilePath, cfg.PageSize, logger)
	if err != nil {
		return nil, err
	}

	bt := &BTree{
		cfg:    cfg,
		disk:   disk,
		wal:    log,
		meta:   DefaultMetadata(),
		logger: logger.Named("btree"),
		state:  RecoveryLoading,
	}

	if err := bt.createFile(); err != nil {
		_ = disk.Close()
		return nil, err
	}
	if err := bt.recover(); err != nil {
		_ = disk.Close()
		return nil, fmt.Errorf("recovery failed: %w", err)
	}
	return bt, nil
}

// createFile lays down the metadata page and an empty root leaf if the page
// file does not exist yet.
func (bt *BTree) createFile() error {
	initial := DefaultMetadata()
	rootLeaf, err := EncodeNode(&LeafNode{ID: initial.RootPageID}, bt.cfg.PageSize)
	if err != nil {
		return err
	}
	metaPage := EncodeMetadata(initial, bt.cfg.PageSize)
	created, err := bt.disk.OpenOrCreateFile(metaPage, rootLeaf)
	if err != nil {
		return err
	}
	if created {
		bt.meta = initial
		return nil
	}
	// A crash between creating the file and writing its first two pages
	// leaves it empty or short. Lay the defaults down again so the WAL can
	// still be replayed.
	if pages := bt.disk.NumPages(); pages < 2 {
		bt.logger.Warn("Page file is truncated, rewriting default metadata and root",
			zap.String("path", bt.cfg.FilePath), zap.Uint64("pages", pages))
		if err := bt.disk.WritePage(pagemanager.MetaPageID, metaPage); err != nil {
			return err
		}
		if err := bt.disk.WritePage(initial.RootPageID, rootLeaf); err != nil {
			return err
		}
		if err := bt.disk.Sync(); err != nil {
			return err
		}
		bt.meta = initial
	}
	return nil
}

// --- Reads ---

// Get returns the value stored under key.
func (bt *BTree) Get(key string) (string, bool, error) {
	if bt.closed {
		return "", false, ErrClosed
	}
	_, leaf, err := bt.findLeaf(key)
	if err != nil {
		return "", false, err
	}
	idx, found := leaf.search(key)
	if !found {
		return "", false, nil
	}
	return leaf.Values[idx], true, nil
}

// Size returns the number of live keys.
func (bt *BTree) Size() int { return int(bt.meta.KeyCount) }

// Metadata returns a copy of the current tree metadata.
func (bt *BTree) Metadata() Metadata { return bt.meta }

func (bt *BTree) RecoveryState() RecoveryState { return bt.state }
func (bt *BTree) MaxKeysPerNode() int          { return bt.cfg.MaxKeysPerNode }
func (bt *BTree) FilePath() string             { return bt.disk.FilePath() }

// --- Writes ---

// Set inserts or overwrites key. The WAL append happens before any page is
// touched.
func (bt *BTree) Set(key, value string) error {
	if bt.closed {
		return ErrClosed
	}
	if err := bt.checkEntrySize(key, value); err != nil {
		return err
	}
	if err := bt.wal.AppendSet(key, value); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	inserted, err := bt.insertKey(key, value)
	if err != nil {
		return err
	}
	if inserted {
		return bt.writeMetadata()
	}
	return nil
}

// Delete removes key and reports whether it was present. Leaves are allowed
// to underflow; nodes are never merged.
func (bt *BTree) Delete(key string) (bool, error) {
	if bt.closed {
		return false, ErrClosed
	}
	if err := bt.wal.AppendDelete(key); err != nil {
		return false, fmt.Errorf("wal append: %w", err)
	}
	deleted, err := bt.deleteFromLeaf(key)
	if err != nil || !deleted {
		return deleted, err
	}
	return true, bt.writeMetadata()
}

func (bt *BTree) checkEntrySize(key, value string) error {
	if size, limit := leafEntrySize(key, value), maxEntrySize(bt.cfg.PageSize, bt.cfg.MaxKeysPerNode); size > limit {
		return fmt.Errorf("%w: entry needs %d bytes, limit is %d", ErrEntryTooLarge, size, limit)
	}
	return nil
}

// insert applies a SET without touching the WAL or the metadata page. It is
// shared by live writes and replay.
func (bt *BTree) insert(key, value string) error {
	_, err := bt.insertKey(key, value)
	return err
}

func (bt *BTree) insertKey(key, value string) (bool, error) {
	path, leaf, err := bt.findLeaf(key)
	if err != nil {
		return false, err
	}

	idx, found := leaf.search(key)
	if found {
		leaf.Values[idx] = value
		return false, bt.writeNode(leaf)
	}

	leaf.insertAt(idx, key, value)
	bt.meta.KeyCount++
	return true, bt.splitUp(path, leaf)
}

// splitUp writes current, splitting it and every overflowing ancestor on
// the recorded path.
func (bt *BTree) splitUp(path []*InternalNode, current Node) error {
	for {
		if current.NumKeys() <= bt.cfg.MaxKeysPerNode {
			return bt.writeNode(current)
		}

		bt.meta.SplitCount++
		rightID := bt.allocatePage()

		var (
			right  Node
			median string
		)
		switch n := current.(type) {
		case *LeafNode:
			right, median = splitLeaf(n, rightID)
		case *InternalNode:
			right, median = splitInternal(n, rightID)
		default:
			return fmt.Errorf("%w: cannot split %T", ErrInvariantViolation, current)
		}

		if err := bt.writeNode(current); err != nil {
			return err
		}
		if err := bt.writeNode(right); err != nil {
			return err
		}
		bt.logger.Debug("Split node",
			zap.String("type", current.Type().String()),
			zap.Uint32("left", uint32(current.PageID())),
			zap.Uint32("right", uint32(rightID)),
			zap.String("median", median))

		if len(path) == 0 {
			root := &InternalNode{
				ID:       bt.allocatePage(),
				Keys:     []string{median},
				ChildIDs: []pagemanager.PageID{current.PageID(), rightID},
			}
			if err := bt.writeNode(root); err != nil {
				return err
			}
			bt.meta.RootPageID = root.ID
			bt.meta.Height++
			bt.logger.Debug("Grew new root", zap.Uint32("root", uint32(root.ID)), zap.Uint32("height", bt.meta.Height))
			return nil
		}

		parent := path[len(path)-1]
		path = path[:len(path)-1]
		parent.insertSeparator(median, rightID)
		current = parent
	}
}

// deleteFromLeaf removes key from its leaf without touching the WAL or the
// metadata page.
func (bt *BTree) deleteFromLeaf(key string) (bool, error) {
	_, leaf, err := bt.findLeaf(key)
	if err != nil {
		return false, err
	}
	idx, found := leaf.search(key)
	if !found {
		return false, nil
	}
	leaf.removeAt(idx)
	if err := bt.writeNode(leaf); err != nil {
		return false, err
	}
	if bt.meta.KeyCount > 0 {
		bt.meta.KeyCount--
	}
	return true, nil
}

// --- Lifecycle ---

// Flush fsyncs the page file.
func (bt *BTree) Flush() error {
	if bt.closed {
		return ErrClosed
	}
	return bt.disk.Sync()
}

// Close syncs pages, checkpoints the WAL and releases both files.
func (bt *BTree) Close() error {
	if bt.closed {
		return nil
	}
	bt.closed = true
	if err := bt.disk.Sync(); err != nil {
		return err
	}
	if err := bt.wal.Checkpoint(); err != nil {
		return err
	}
	if err := bt.disk.Close(); err != nil {
		return err
	}
	return bt.wal.Close()
}

// Clear drops every key: the page file is deleted and recreated empty and
// the WAL is checkpointed.
func (bt *BTree) Clear() error {
	if bt.closed {
		return ErrClosed
	}
	if err := bt.disk.Clear(); err != nil {
		return err
	}
	if err := bt.wal.Checkpoint(); err != nil {
		return err
	}
	bt.meta = DefaultMetadata()
	bt.recoveredEntries = 0
	bt.corruptedEntries = 0
	if err := bt.createFile(); err != nil {
		return err
	}
	bt.logger.Info("Cleared btree", zap.String("path", bt.disk.FilePath()))
	return nil
}

// --- Page access ---

// findLeaf walks from the root to the leaf responsible for key and returns
// the internal nodes it passed through, root first.
func (bt *BTree) findLeaf(key string) ([]*InternalNode, *LeafNode, error) {
	path := make([]*InternalNode, 0, bt.meta.Height)
	id := bt.meta.RootPageID
	for {
		node, err := bt.readNode(id)
		if err != nil {
			return nil, nil, err
		}
		switch n := node.(type) {
		case *LeafNode:
			return path, n, nil
		case *InternalNode:
			if uint32(len(path)) >= bt.meta.TotalPages {
				return nil, nil, fmt.Errorf("%w: traversal from root %d does not terminate", ErrInvariantViolation, bt.meta.RootPageID)
			}
			path = append(path, n)
			id = n.ChildIDs[n.childIndex(key)]
		default:
			return nil, nil, fmt.Errorf("%w: unexpected node %T", ErrInvariantViolation, node)
		}
	}
}

func (bt *BTree) readNode(id pagemanager.PageID) (Node, error) {
	if id == pagemanager.MetaPageID || uint32(id) >= bt.meta.TotalPages {
		return nil, fmt.Errorf("%w: page id %d outside 1..%d", ErrInvariantViolation, id, bt.meta.TotalPages-1)
	}
	page, err := bt.disk.ReadPage(id)
	if err != nil {
		return nil, err
	}
	node, err := DecodeNode(page.GetData(), id)
	if err != nil {
		return nil, err
	}
	if err := checkSorted(node); err != nil {
		return nil, err
	}
	return node, nil
}

func checkSorted(node Node) error {
	var keys []string
	switch n := node.(type) {
	case *LeafNode:
		keys = n.Keys
	case *InternalNode:
		keys = n.Keys
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			return fmt.Errorf("%w: keys on page %d not strictly ascending at %d", ErrInvariantViolation, node.PageID(), i)
		}
	}
	return nil
}

func (bt *BTree) writeNode(node Node) error {
	data, err := EncodeNode(node, bt.cfg.PageSize)
	if err != nil {
		return err
	}
	return bt.disk.WritePage(node.PageID(), data)
}

func (bt *BTree) writeMetadata() error {
	return bt.disk.WritePage(pagemanager.MetaPageID, EncodeMetadata(bt.meta, bt.cfg.PageSize))
}

// allocatePage hands out the next page id. Pages are never reused.
func (bt *BTree) allocatePage() pagemanager.PageID {
	id := pagemanager.PageID(bt.meta.TotalPages)
	bt.meta.TotalPages++
	return id
}
