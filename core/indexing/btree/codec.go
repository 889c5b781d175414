package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// --- BTree Node Serialization/Deserialization ---
//
// Leaf:     [type:1=1][keyCount:2]{[keyLen:2][key][valLen:2][val]}*
// Internal: [type:1=2][keyCount:2]{[childID:4][keyLen:2][key]}*[lastChildID:4]
// All integers are big-endian; the rest of the page is zero.

const nodeHeaderSize = 3

// EncodeNode serializes node into a zero-padded buffer of exactly pageSize bytes.
func EncodeNode(node Node, pageSize int) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(pageSize)

	switch n := node.(type) {
	case *LeafNode:
		if len(n.Keys) != len(n.Values) {
			return nil, fmt.Errorf("%w: leaf %d has %d keys and %d values", ErrInvariantViolation, n.ID, len(n.Keys), len(n.Values))
		}
		if err := writeHeader(buf, NodeTypeLeaf, len(n.Keys)); err != nil {
			return nil, err
		}
		for i, k := range n.Keys {
			if err := writeString16(buf, k); err != nil {
				return nil, fmt.Errorf("leaf %d key %d: %w", n.ID, i, err)
			}
			if err := writeString16(buf, n.Values[i]); err != nil {
				return nil, fmt.Errorf("leaf %d value %d: %w", n.ID, i, err)
			}
		}
	case *InternalNode:
		if len(n.ChildIDs) != len(n.Keys)+1 {
			return nil, fmt.Errorf("%w: internal %d has %d keys and %d children", ErrInvariantViolation, n.ID, len(n.Keys), len(n.ChildIDs))
		}
		if err := writeHeader(buf, NodeTypeInternal, len(n.Keys)); err != nil {
			return nil, err
		}
		for i, k := range n.Keys {
			if err := binary.Write(buf, binary.BigEndian, uint32(n.ChildIDs[i])); err != nil {
				return nil, fmt.Errorf("%w: writing child id: %v", ErrSerialization, err)
			}
			if err := writeString16(buf, k); err != nil {
				return nil, fmt.Errorf("internal %d key %d: %w", n.ID, i, err)
			}
		}
		if err := binary.Write(buf, binary.BigEndian, uint32(n.ChildIDs[len(n.Keys)])); err != nil {
			return nil, fmt.Errorf("%w: writing last child id: %v", ErrSerialization, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown node implementation %T", ErrSerialization, node)
	}

	if buf.Len() > pageSize {
		return nil, fmt.Errorf("%w: node %d needs %d bytes, page size is %d", ErrNodeTooLarge, node.PageID(), buf.Len(), pageSize)
	}
	out := make([]byte, pageSize)
	copy(out, buf.Bytes())
	return out, nil
}

func writeHeader(buf *bytes.Buffer, t NodeType, keyCount int) error {
	if keyCount > math.MaxUint16 {
		return fmt.Errorf("%w: key count %d overflows header", ErrNodeTooLarge, keyCount)
	}
	buf.WriteByte(byte(t))
	if err := binary.Write(buf, binary.BigEndian, uint16(keyCount)); err != nil {
		return fmt.Errorf("%w: writing key count: %v", ErrSerialization, err)
	}
	return nil
}

func writeString16(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes exceeds the 2-byte length prefix", ErrEntryTooLarge, len(s))
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return fmt.Errorf("%w: writing length: %v", ErrSerialization, err)
	}
	buf.WriteString(s)
	return nil
}

// nodeReader is a bounds-checked cursor over a page buffer.
type nodeReader struct {
	data   []byte
	off    int
	pageID pagemanager.PageID
}

func (r *nodeReader) need(n int, what string) error {
	if r.off+n > len(r.data) {
		return fmt.Errorf("%w: page %d truncated reading %s at offset %d", ErrCorruptPage, r.pageID, what, r.off)
	}
	return nil
}

func (r *nodeReader) uint16(what string) (uint16, error) {
	if err := r.need(2, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *nodeReader) uint32(what string) (uint32, error) {
	if err := r.need(4, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *nodeReader) string16(what string) (string, error) {
	l, err := r.uint16(what + " length")
	if err != nil {
		return "", err
	}
	if err := r.need(int(l), what); err != nil {
		return "", err
	}
	s := string(r.data[r.off : r.off+int(l)])
	r.off += int(l)
	return s, nil
}

// DecodeNode parses a node page. Unknown tags and truncated cells are
// reported as ErrCorruptPage.
func DecodeNode(data []byte, pageID pagemanager.PageID) (Node, error) {
	if len(data) < nodeHeaderSize {
		return nil, fmt.Errorf("%w: page %d shorter than node header", ErrCorruptPage, pageID)
	}
	r := &nodeReader{data: data, off: 1, pageID: pageID}
	count, err := r.uint16("key count")
	if err != nil {
		return nil, err
	}

	switch NodeType(data[0]) {
	case NodeTypeLeaf:
		leaf := &LeafNode{
			ID:     pageID,
			Keys:   make([]string, 0, count),
			Values: make([]string, 0, count),
		}
		for i := 0; i < int(count); i++ {
			k, err := r.string16("key")
			if err != nil {
				return nil, err
			}
			v, err := r.string16("value")
			if err != nil {
				return nil, err
			}
			leaf.Keys = append(leaf.Keys, k)
			leaf.Values = append(leaf.Values, v)
		}
		return leaf, nil

	case NodeTypeInternal:
		internal := &InternalNode{
			ID:       pageID,
			Keys:     make([]string, 0, count),
			ChildIDs: make([]pagemanager.PageID, 0, int(count)+1),
		}
		for i := 0; i < int(count); i++ {
			child, err := r.uint32("child id")
			if err != nil {
				return nil, err
			}
			k, err := r.string16("key")
			if err != nil {
				return nil, err
			}
			internal.ChildIDs = append(internal.ChildIDs, pagemanager.PageID(child))
			internal.Keys = append(internal.Keys, k)
		}
		last, err := r.uint32("last child id")
		if err != nil {
			return nil, err
		}
		internal.ChildIDs = append(internal.ChildIDs, pagemanager.PageID(last))
		return internal, nil

	default:
		return nil, fmt.Errorf("%w: page %d has unknown node type %d", ErrCorruptPage, pageID, data[0])
	}
}

// leafEntrySize is the encoded size of one key/value cell.
func leafEntrySize(key, value string) int {
	return 2 + len(key) + 2 + len(value)
}

// maxEntrySize is the largest leaf cell accepted. One spare cell of room
// covers the child ids an internal node stores next to separator keys.
func maxEntrySize(pageSize, maxKeys int) int {
	return (pageSize - nodeHeaderSize) / (maxKeys + 1)
}
