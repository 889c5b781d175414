package btree

import (
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"github.com/sushant-115/pagedb/core/write_engine/wal"
)

// NodeSnapshot is one node as seen by Inspect.
type NodeSnapshot struct {
	PageID   pagemanager.PageID   `json:"pageId"`
	Type     string               `json:"type"`
	Keys     []string             `json:"keys"`
	Values   []string             `json:"values,omitempty"`
	ChildIDs []pagemanager.PageID `json:"childIds,omitempty"`
	Level    int                  `json:"level"`
}

// Snapshot is a point-in-time view of the whole tree for debugging and
// visualisation.
type Snapshot struct {
	KeyCount            uint32             `json:"keyCount"`
	FilePath            string             `json:"filePath"`
	FileSizeBytes       int64              `json:"fileSizeBytes"`
	RootPageID          pagemanager.PageID `json:"rootPageId"`
	TotalPages          uint32             `json:"totalPages"`
	Height              uint32             `json:"height"`
	SplitCount          uint32             `json:"splitCount"`
	MaxKeysPerNode      int                `json:"maxKeysPerNode"`
	PageSize            int                `json:"pageSize"`
	Nodes               []NodeSnapshot     `json:"nodes"`
	WALState            wal.State          `json:"walState"`
	RecoveredEntryCount int                `json:"recoveredEntryCount"`
	CorruptedEntryCount int                `json:"corruptedEntryCount"`
	RecoveryState       RecoveryState      `json:"recoveryState"`
}

// Inspect walks the tree breadth-first from the root. Level 0 is the root.
func (bt *BTree) Inspect() (*Snapshot, error) {
	if bt.closed {
		return nil, ErrClosed
	}
	snap := &Snapshot{
		KeyCount:            bt.meta.KeyCount,
		FilePath:            bt.disk.FilePath(),
		FileSizeBytes:       bt.disk.FileSize(),
		RootPageID:          bt.meta.RootPageID,
		TotalPages:          bt.meta.TotalPages,
		Height:              bt.meta.Height,
		SplitCount:          bt.meta.SplitCount,
		MaxKeysPerNode:      bt.cfg.MaxKeysPerNode,
		PageSize:            bt.cfg.PageSize,
		Nodes:               []NodeSnapshot{},
		RecoveredEntryCount: bt.recoveredEntries,
		CorruptedEntryCount: bt.corruptedEntries,
		RecoveryState:       bt.state,
	}

	type item struct {
		id    pagemanager.PageID
		level int
	}
	queue := []item{{id: bt.meta.RootPageID}}
	visited := make(map[pagemanager.PageID]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true

		node, err := bt.readNode(cur.id)
		if err != nil {
			return nil, err
		}
		ns := NodeSnapshot{PageID: cur.id, Type: node.Type().String(), Level: cur.level}
		switch n := node.(type) {
		case *LeafNode:
			ns.Keys = n.Keys
			ns.Values = n.Values
		case *InternalNode:
			ns.Keys = n.Keys
			ns.ChildIDs = n.ChildIDs
			for _, child := range n.ChildIDs {
				queue = append(queue, item{id: child, level: cur.level + 1})
			}
		}
		snap.Nodes = append(snap.Nodes, ns)
	}

	walState, err := bt.wal.Inspect()
	if err != nil {
		return nil, err
	}
	snap.WALState = walState
	return snap, nil
}
