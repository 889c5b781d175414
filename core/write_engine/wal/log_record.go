package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// --- Write-Ahead Logging (WAL) Constants and Types ---

// LogRecordType defines the type of operation logged.
type LogRecordType byte

const (
	LogRecordTypeSet    LogRecordType = 0x01
	LogRecordTypeDelete LogRecordType = 0x02
)

func (t LogRecordType) String() string {
	switch t {
	case LogRecordTypeSet:
		return "SET"
	case LogRecordTypeDelete:
		return "DEL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// MarshalText lets the type render as "SET"/"DEL" in JSON.
func (t LogRecordType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

const (
	// headerSize is [payloadLen:4][crc32:4].
	headerSize = 8
	// payloadFixedSize is [type:1][keyLen:4][valLen:4].
	payloadFixedSize = 1 + 4 + 4
	// MaxPayloadSize bounds a single record; larger length prefixes are treated as corruption.
	MaxPayloadSize = 10 * 1024 * 1024
)

var (
	ErrCorruptedRecord = errors.New("corrupted wal record")
	ErrTruncatedRecord = errors.New("truncated wal record")
	ErrRecordTooLarge  = errors.New("wal record exceeds maximum payload size")
	ErrClosed          = errors.New("wal is closed")
)

// LogRecord represents a single entry in the Write-Ahead Log.
// On disk: [payloadLen:4 BE][crc32(payload):4 BE][payload], where payload is
// [type:1][keyLen:4 BE][key][valLen:4 BE][value].
type LogRecord struct {
	Type  LogRecordType `json:"type"`
	Key   string        `json:"key"`
	Value string        `json:"value"`

	// Offset and TotalSize are populated when the record is read back.
	Offset    int64 `json:"offset"`
	TotalSize int   `json:"totalSize"`
}

// Size returns the encoded size of the record including its frame header.
func (lr *LogRecord) Size() int {
	return headerSize + payloadFixedSize + len(lr.Key) + len(lr.Value)
}

// Serialize encodes the record into its framed on-disk form.
func (lr *LogRecord) Serialize() ([]byte, error) {
	payloadLen := payloadFixedSize + len(lr.Key) + len(lr.Value)
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, payloadLen)
	}
	buf := make([]byte, headerSize+payloadLen)
	payload := buf[headerSize:]

	off := 0
	payload[off] = byte(lr.Type)
	off++
	binary.BigEndian.PutUint32(payload[off:], uint32(len(lr.Key)))
	off += 4
	off += copy(payload[off:], lr.Key)
	binary.BigEndian.PutUint32(payload[off:], uint32(len(lr.Value)))
	off += 4
	copy(payload[off:], lr.Value)

	binary.BigEndian.PutUint32(buf[0:4], uint32(payloadLen))
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	return buf, nil
}

// decodePayload parses the payload section of a record whose checksum has
// already been verified.
func decodePayload(payload []byte, lr *LogRecord) error {
	if len(payload) < payloadFixedSize {
		return fmt.Errorf("%w: payload of %d bytes is shorter than fixed fields", ErrCorruptedRecord, len(payload))
	}
	t := LogRecordType(payload[0])
	if t != LogRecordTypeSet && t != LogRecordTypeDelete {
		return fmt.Errorf("%w: unknown record type %d", ErrCorruptedRecord, payload[0])
	}
	off := 1
	keyLen := int(binary.BigEndian.Uint32(payload[off:]))
	off += 4
	if keyLen < 0 || off+keyLen+4 > len(payload) {
		return fmt.Errorf("%w: key length %d overruns payload", ErrCorruptedRecord, keyLen)
	}
	key := string(payload[off : off+keyLen])
	off += keyLen
	valLen := int(binary.BigEndian.Uint32(payload[off:]))
	off += 4
	if valLen < 0 || off+valLen != len(payload) {
		return fmt.Errorf("%w: value length %d does not match payload", ErrCorruptedRecord, valLen)
	}
	lr.Type = t
	lr.Key = key
	lr.Value = string(payload[off : off+valLen])
	return nil
}

// Deserialize decodes one framed record from the front of data and reports
// how many bytes it consumed.
func (lr *LogRecord) Deserialize(data []byte) (int, error) {
	if len(data) < headerSize {
		return 0, fmt.Errorf("%w: %d header bytes remaining", ErrTruncatedRecord, len(data))
	}
	payloadLen := binary.BigEndian.Uint32(data[0:4])
	storedCRC := binary.BigEndian.Uint32(data[4:8])
	if payloadLen > MaxPayloadSize {
		return 0, fmt.Errorf("%w: unreasonable payload length %d", ErrCorruptedRecord, payloadLen)
	}
	total := headerSize + int(payloadLen)
	if total > len(data) {
		return 0, fmt.Errorf("%w: need %d payload bytes, have %d", ErrTruncatedRecord, payloadLen, len(data)-headerSize)
	}
	payload := data[headerSize:total]
	if computed := crc32.ChecksumIEEE(payload); computed != storedCRC {
		return 0, fmt.Errorf("%w: crc mismatch stored=0x%x computed=0x%x", ErrCorruptedRecord, storedCRC, computed)
	}
	if err := decodePayload(payload, lr); err != nil {
		return 0, err
	}
	lr.TotalSize = total
	return total, nil
}
