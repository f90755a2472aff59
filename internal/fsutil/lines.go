// Package fsutil holds helpers for the line-oriented files the harvester
// appends to.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

const scanChunk = 4096

// TrimPartialLine truncates path back to the end of its last complete line.
// A file that is missing, empty, or already ends in '\n' is left alone. It
// returns the number of bytes removed.
func TrimPartialLine(path string) (int64, error) {
	// #nosec G304 -- callers pass configured output and progress paths.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // truncate is synced below

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	keep, err := completeLength(f, size)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", path, err)
	}
	if keep == size {
		return 0, nil
	}
	if err := f.Truncate(keep); err != nil {
		return 0, fmt.Errorf("truncate %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync %s: %w", path, err)
	}
	return size - keep, nil
}

// completeLength returns the offset just past the last '\n' in the first size
// bytes of r, or 0 when there is none.
func completeLength(r io.ReaderAt, size int64) (int64, error) {
	buf := make([]byte, scanChunk)
	end := size
	for end > 0 {
		start := max(end-scanChunk, 0)
		chunk := buf[:end-start]
		if _, err := r.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		for i := len(chunk) - 1; i >= 0; i-- {
			if chunk[i] == '\n' {
				return start + int64(i) + 1, nil
			}
		}
		end = start
	}
	return 0, nil
}
