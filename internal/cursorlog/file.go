package cursorlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JakeFAU/timeline-harvester/internal/fsutil"
	"github.com/JakeFAU/timeline-harvester/internal/hash/sha256"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileName derives the log file name for query. Distinct queries never share
// a file, even when they sanitize to the same text.
func FileName(query string) string {
	safe := strings.Trim(invalidFilenameChars.ReplaceAllString(query, "_"), "_")
	if safe == "" {
		safe = "query"
	}
	if len(safe) > 64 {
		safe = safe[:64]
	}
	return fmt.Sprintf("log_%s_%s.txt", safe, sha256.Short(query, 12))
}

// FileLog stores one cursor per line in a plain text file.
type FileLog struct {
	path string
	file *os.File
}

// OpenFile opens (creating if needed) the log for query inside dir.
func OpenFile(dir, query string) (*FileLog, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create progress dir %s: %w", dir, err)
	}
	return &FileLog{path: filepath.Join(dir, FileName(query))}, nil
}

// Path returns the file backing the log.
func (l *FileLog) Path() string {
	return l.path
}

// Append writes cursor on its own line. The file is opened lazily so a
// resume lookup never creates an empty log. A trailing line cut short by a
// crash is dropped before the first write.
func (l *FileLog) Append(ctx context.Context, cursor string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if err := validateCursor(cursor); err != nil {
		return err
	}
	if l.file == nil {
		if _, err := fsutil.TrimPartialLine(l.path); err != nil {
			return fmt.Errorf("repair progress log: %w", err)
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open progress log %s: %w", l.path, err)
		}
		l.file = f
	}
	if _, err := l.file.WriteString(cursor + "\n"); err != nil {
		return fmt.Errorf("append progress log %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync progress log %s: %w", l.path, err)
	}
	return nil
}

// Last returns the final non-empty line.
func (l *FileLog) Last(ctx context.Context) (string, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("progress log %s is empty: %w", l.path, ErrNoProgress)
	}
	return entries[len(entries)-1], nil
}

// Entries reads every non-empty line, oldest first. A final line without a
// newline was never fully written and is ignored.
func (l *FileLog) Entries(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context canceled: %w", err)
	}
	// #nosec G304 -- path is derived from the configured progress dir.
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("progress log %s not found: %w", l.path, ErrNoProgress)
		}
		return nil, fmt.Errorf("open progress log %s: %w", l.path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var entries []string
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read progress log %s: %w", l.path, err)
		}
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			entries = append(entries, line)
		}
	}
	return entries, nil
}

// Close releases the append handle, if one was opened.
func (l *FileLog) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("close progress log %s: %w", l.path, err)
	}
	return nil
}
