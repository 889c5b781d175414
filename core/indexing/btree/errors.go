package btree

import "errors"

var (
	ErrCorruptPage        = errors.New("corrupt page")
	ErrCorruptMetadata    = errors.New("corrupt metadata page")
	ErrInvariantViolation = errors.New("btree invariant violation")
	ErrEntryTooLarge      = errors.New("entry too large to fit in a page")
	ErrNodeTooLarge       = errors.New("node does not fit in a page")
	ErrSerialization      = errors.New("error during serialization")
	ErrInvalidConfig      = errors.New("invalid btree configuration")
	ErrClosed             = errors.New("btree is closed")
)
