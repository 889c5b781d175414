package btree

import (
	"sort"

	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// NodeType is the one-byte tag at the start of every node page.
type NodeType byte

const (
	NodeTypeLeaf     NodeType = 1
	NodeTypeInternal NodeType = 2
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeLeaf:
		return "leaf"
	case NodeTypeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Node is the decoded view of a node page. It is either a *LeafNode or an
// *InternalNode.
type Node interface {
	PageID() pagemanager.PageID
	Type() NodeType
	NumKeys() int
	node()
}

// LeafNode holds sorted keys and their values.
type LeafNode struct {
	ID     pagemanager.PageID
	Keys   []string
	Values []string
}

// InternalNode routes lookups: everything in ChildIDs[i] sorts before Keys[i],
// the last child holds keys >= the last separator.
type InternalNode struct {
	ID       pagemanager.PageID
	Keys     []string
	ChildIDs []pagemanager.PageID
}

func (n *LeafNode) PageID() pagemanager.PageID { return n.ID }
func (n *LeafNode) Type() NodeType             { return NodeTypeLeaf }
func (n *LeafNode) NumKeys() int               { return len(n.Keys) }
func (*LeafNode) node()                        {}

func (n *InternalNode) PageID() pagemanager.PageID { return n.ID }
func (n *InternalNode) Type() NodeType             { return NodeTypeInternal }
func (n *InternalNode) NumKeys() int               { return len(n.Keys) }
func (*InternalNode) node()                        {}

// search returns the position of key in the leaf and whether it is present.
func (n *LeafNode) search(key string) (int, bool) {
	idx := sort.SearchStrings(n.Keys, key)
	return idx, idx < len(n.Keys) && n.Keys[idx] == key
}

// insertAt places key/value at idx, shifting the tail right.
func (n *LeafNode) insertAt(idx int, key, value string) {
	n.Keys = append(n.Keys, "")
	copy(n.Keys[idx+1:], n.Keys[idx:])
	n.Keys[idx] = key
	n.Values = append(n.Values, "")
	copy(n.Values[idx+1:], n.Values[idx:])
	n.Values[idx] = value
}

func (n *LeafNode) removeAt(idx int) {
	n.Keys = append(n.Keys[:idx], n.Keys[idx+1:]...)
	n.Values = append(n.Values[:idx], n.Values[idx+1:]...)
}

// childIndex picks the first i with key < Keys[i], or the last child.
func (n *InternalNode) childIndex(key string) int {
	return sort.Search(len(n.Keys), func(i int) bool { return key < n.Keys[i] })
}

// insertSeparator adds key at its sorted position and rightID immediately
// after it.
func (n *InternalNode) insertSeparator(key string, rightID pagemanager.PageID) {
	idx := n.childIndex(key)
	n.Keys = append(n.Keys, "")
	copy(n.Keys[idx+1:], n.Keys[idx:])
	n.Keys[idx] = key
	n.ChildIDs = append(n.ChildIDs, 0)
	copy(n.ChildIDs[idx+2:], n.ChildIDs[idx+1:])
	n.ChildIDs[idx+1] = rightID
}

// splitLeaf keeps the first ceil(n/2) entries in n and returns the rest in a
// new leaf with id rightID. The median is the right leaf's first key.
func splitLeaf(n *LeafNode, rightID pagemanager.PageID) (*LeafNode, string) {
	mid := (len(n.Keys) + 1) / 2
	right := &LeafNode{
		ID:     rightID,
		Keys:   append([]string(nil), n.Keys[mid:]...),
		Values: append([]string(nil), n.Values[mid:]...),
	}
	n.Keys = n.Keys[:mid:mid]
	n.Values = n.Values[:mid:mid]
	return right, right.Keys[0]
}

// splitInternal moves Keys[floor(n/2)] up as the median; it appears in
// neither half.
func splitInternal(n *InternalNode, rightID pagemanager.PageID) (*InternalNode, string) {
	mid := len(n.Keys) / 2
	median := n.Keys[mid]
	right := &InternalNode{
		ID:       rightID,
		Keys:     append([]string(nil), n.Keys[mid+1:]...),
		ChildIDs: append([]pagemanager.PageID(nil), n.ChildIDs[mid+1:]...),
	}
	n.Keys = n.Keys[:mid:mid]
	n.ChildIDs = n.ChildIDs[: mid+1 : mid+1]
	return right, median
}
