// Package common holds file helpers shared by the storage layers.
package common

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/time/rate"
)

// chunkSize: size of each read/write chunk
const chunkSize = 1024 * 1024

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// CopyResult describes a finished copy.
type CopyResult struct {
	Bytes  int64
	SHA256 []byte
}

// CopyThrottled copies srcPath to dstPath at no more than rateBytesPerSec
// (0 means unthrottled), fsyncs the destination and returns the SHA-256 of
// what was written. The destination directory is created if needed and a
// partial file is removed on error.
func CopyThrottled(ctx context.Context, srcPath, dstPath string, rateBytesPerSec int64) (res CopyResult, err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return res, fmt.Errorf("open src: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return res, fmt.Errorf("create dst dir: %w", err)
	}
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return res, fmt.Errorf("open dst: %w", err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close dst: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dstPath)
		}
	}()

	var limiter *rate.Limiter
	if rateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateBytesPerSec), chunkSize)
	}

	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)
	sum := sha256.New()

	for {
		n, rerr := src.ReadAt(buf, res.Bytes)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return res, fmt.Errorf("rate limiter: %w", err)
				}
			} else if err := ctx.Err(); err != nil {
				return res, err
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return res, fmt.Errorf("write error: %w", err)
			}
			sum.Write(buf[:n])
			res.Bytes += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return res, fmt.Errorf("read error: %w", rerr)
		}
	}

	if err := dst.Sync(); err != nil {
		return res, fmt.Errorf("sync error: %w", err)
	}
	res.SHA256 = sum.Sum(nil)
	return res, nil
}
