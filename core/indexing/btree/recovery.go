package btree

import (
	"errors"
	"fmt"

	"github.com/sushant-115/pagedb/core/write_engine/wal"
	"go.uber.org/zap"
)

// RecoveryState tracks where the engine is in its startup sequence.
type RecoveryState int

const (
	RecoveryLoading RecoveryState = iota
	RecoveryReplaying
	RecoveryCheckpointing
	RecoveryReady
)

func (s RecoveryState) String() string {
	switch s {
	case RecoveryLoading:
		return "loading"
	case RecoveryReplaying:
		return "replaying"
	case RecoveryCheckpointing:
		return "checkpointing"
	case RecoveryReady:
		return "ready"
	default:
		return fmt.Sprintf("RecoveryState(%d)", int(s))
	}
}

func (s RecoveryState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// loadMetadata reads page 0. A corrupt page 0 is logged and the defaults are
// kept so the engine can still start.
func (bt *BTree) loadMetadata() error {
	page, err := bt.disk.ReadPage(0)
	if err != nil {
		return fmt.Errorf("reading metadata page: %w", err)
	}
	meta, err := DecodeMetadata(page.GetData())
	if err != nil {
		if errors.Is(err, ErrCorruptMetadata) {
			bt.logger.Warn("Metadata page is corrupt, keeping defaults", zap.Error(err))
			return nil
		}
		return err
	}
	if pages := uint32(bt.disk.NumPages()); pages > meta.TotalPages {
		// Pages written after the last metadata write (crash mid-split) are
		// never reused.
		meta.TotalPages = pages
	}
	bt.meta = meta
	return nil
}

// recover replays whatever the WAL holds on top of the page file.
func (bt *BTree) recover() error {
	bt.state = RecoveryLoading
	if err := bt.loadMetadata(); err != nil {
		return err
	}

	res, err := bt.wal.Recover()
	if err != nil {
		return fmt.Errorf("reading wal: %w", err)
	}
	bt.corruptedEntries = res.CorruptedCount

	if len(res.Entries) == 0 && res.CorruptedCount == 0 {
		bt.state = RecoveryReady
		bt.logger.Info("Opened btree, nothing to replay",
			zap.Uint32("keys", bt.meta.KeyCount),
			zap.Uint32("height", bt.meta.Height))
		return nil
	}

	bt.state = RecoveryReplaying
	bt.logger.Info("Replaying WAL",
		zap.Int("entries", len(res.Entries)),
		zap.Int("corrupted", res.CorruptedCount))

	for i, entry := range res.Entries {
		var applyErr error
		switch entry.Type {
		case wal.LogRecordTypeSet:
			if err := bt.checkEntrySize(entry.Key, entry.Value); err != nil {
				applyErr = err
				break
			}
			applyErr = bt.insert(entry.Key, entry.Value)
		case wal.LogRecordTypeDelete:
			_, applyErr = bt.deleteFromLeaf(entry.Key)
		default:
			applyErr = fmt.Errorf("%w: unknown entry type %v", wal.ErrCorruptedRecord, entry.Type)
		}
		if applyErr != nil {
			if errors.Is(applyErr, ErrEntryTooLarge) || errors.Is(applyErr, wal.ErrCorruptedRecord) {
				bt.corruptedEntries++
				bt.logger.Warn("Skipping unusable WAL entry", zap.Int("index", i), zap.Error(applyErr))
				continue
			}
			return fmt.Errorf("replaying wal entry %d: %w", i, applyErr)
		}
		bt.recoveredEntries++
	}

	if err := bt.writeMetadata(); err != nil {
		return err
	}
	if err := bt.disk.Sync(); err != nil {
		return err
	}

	bt.state = RecoveryCheckpointing
	if err := bt.wal.Checkpoint(); err != nil {
		return fmt.Errorf("checkpointing wal after replay: %w", err)
	}
	bt.state = RecoveryReady
	bt.logger.Info("WAL replay complete",
		zap.Int("replayed", bt.recoveredEntries),
		zap.Int("corrupted", bt.corruptedEntries),
		zap.Uint32("keys", bt.meta.KeyCount))
	return nil
}
