package btree

import (
	"encoding/binary"
	"fmt"

	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// metaMagic tags page 0 of a valid page file.
const metaMagic = "BTRE"

// metadataSize is [magic:4][root:4][totalPages:4][height:4][keyCount:4][splitCount:4].
const metadataSize = 24

// Metadata describes the tree and is persisted to page 0 after every
// structural change.
type Metadata struct {
	RootPageID pagemanager.PageID `json:"rootPageId"`
	TotalPages uint32             `json:"totalPages"`
	Height     uint32             `json:"height"`
	KeyCount   uint32             `json:"keyCount"`
	SplitCount uint32             `json:"splitCount"`
}

// DefaultMetadata is the state of a fresh file: metadata page plus an empty
// root leaf at page 1.
func DefaultMetadata() Metadata {
	return Metadata{
		RootPageID: 1,
		TotalPages: 2,
		Height:     1,
	}
}

// EncodeMetadata writes meta into a zero-padded page buffer.
func EncodeMetadata(meta Metadata, pageSize int) []byte {
	buf := make([]byte, pageSize)
	copy(buf[0:4], metaMagic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(meta.RootPageID))
	binary.BigEndian.PutUint32(buf[8:12], meta.TotalPages)
	binary.BigEndian.PutUint32(buf[12:16], meta.Height)
	binary.BigEndian.PutUint32(buf[16:20], meta.KeyCount)
	binary.BigEndian.PutUint32(buf[20:24], meta.SplitCount)
	return buf
}

// DecodeMetadata parses page 0. A missing magic tag is ErrCorruptMetadata.
func DecodeMetadata(data []byte) (Metadata, error) {
	if len(data) < metadataSize {
		return Metadata{}, fmt.Errorf("%w: %d bytes, need %d", ErrCorruptMetadata, len(data), metadataSize)
	}
	if string(data[0:4]) != metaMagic {
		return Metadata{}, fmt.Errorf("%w: bad magic %q", ErrCorruptMetadata, data[0:4])
	}
	return Metadata{
		RootPageID: pagemanager.PageID(binary.BigEndian.Uint32(data[4:8])),
		TotalPages: binary.BigEndian.Uint32(data[8:12]),
		Height:     binary.BigEndian.Uint32(data[12:16]),
		KeyCount:   binary.BigEndian.Uint32(data[16:20]),
		SplitCount: binary.BigEndian.Uint32(data[20:24]),
	}, nil
}
