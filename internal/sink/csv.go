// Package sink writes records to a delimited text file with a fixed header.
package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/JakeFAU/timeline-harvester/internal/fsutil"
	"github.com/JakeFAU/timeline-harvester/internal/record"
)

// ErrSchemaChanged is returned when the column set differs from the one the
// destination was started with.
var ErrSchemaChanged = errors.New("sink schema changed")

// Config controls the delimited output format.
type Config struct {
	Path          string
	Delimiter     rune
	NullToken     string
	LinkSeparator string
}

// CSVSink appends one row per record. The header is written on the first
// append to a new or empty file; appending to an existing file requires the
// same header. A trailing row left unterminated by a crash is dropped when
// the file is reopened.
type CSVSink struct {
	cfg    Config
	fields []record.Field
	file   *os.File
}

// NewCSV validates cfg and returns a sink. The file is opened on first append.
func NewCSV(cfg Config) (*CSVSink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	if cfg.Delimiter == '\n' || cfg.Delimiter == '\r' {
		return nil, fmt.Errorf("delimiter cannot be a line break")
	}
	if cfg.NullToken == "" {
		cfg.NullToken = "Null"
	}
	if record.Clean(cfg.NullToken, cfg.Delimiter) != cfg.NullToken {
		return nil, fmt.Errorf("null token %q contains the delimiter or a line break", cfg.NullToken)
	}
	if cfg.LinkSeparator == "" {
		cfg.LinkSeparator = " "
	}
	return &CSVSink{cfg: cfg}, nil
}

// Path returns the destination file.
func (s *CSVSink) Path() string {
	return s.cfg.Path
}

// Append writes rec using fields as the column order. The first call fixes
// the schema for the lifetime of the sink.
func (s *CSVSink) Append(ctx context.Context, rec record.Record, fields []record.Field) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if s.file == nil {
		if err := s.open(fields); err != nil {
			return err
		}
	} else if !slices.Equal(s.fields, fields) {
		return fmt.Errorf("%w: have %v, got %v", ErrSchemaChanged, s.fields, fields)
	}
	if _, err := s.file.WriteString(s.Row(rec) + "\n"); err != nil {
		return fmt.Errorf("write row to %s: %w", s.cfg.Path, err)
	}
	return nil
}

// Row renders rec without the trailing newline.
func (s *CSVSink) Row(rec record.Record) string {
	cols := make([]string, len(s.fields))
	for i, f := range s.fields {
		cols[i] = s.value(rec, f)
	}
	return strings.Join(cols, string(s.cfg.Delimiter))
}

func (s *CSVSink) value(rec record.Record, f record.Field) string {
	if f == record.FieldLinks {
		links, ok := rec.Links()
		if !ok {
			return s.cfg.NullToken
		}
		return record.Clean(strings.Join(links, s.cfg.LinkSeparator), s.cfg.Delimiter)
	}
	v, ok := rec.Lookup(f)
	if !ok {
		return s.cfg.NullToken
	}
	return record.Clean(v, s.cfg.Delimiter)
}

func (s *CSVSink) header(fields []record.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return strings.Join(names, string(s.cfg.Delimiter))
}

func (s *CSVSink) open(fields []record.Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("at least one field is required")
	}
	s.fields = append([]record.Field(nil), fields...)
	header := s.header(fields)

	if _, err := fsutil.TrimPartialLine(s.cfg.Path); err != nil {
		return fmt.Errorf("repair output: %w", err)
	}
	existing, err := readHeader(s.cfg.Path)
	if err != nil {
		return err
	}
	if existing != "" && existing != header {
		return fmt.Errorf("%w: %s has header %q, want %q", ErrSchemaChanged, s.cfg.Path, existing, header)
	}
	if dir := filepath.Dir(s.cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(s.cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open output %s: %w", s.cfg.Path, err)
	}
	if existing == "" {
		if _, err := f.WriteString(header + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write header to %s: %w", s.cfg.Path, err)
		}
	}
	s.file = f
	return nil
}

// Sync flushes written rows to stable storage.
func (s *CSVSink) Sync() error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync output %s: %w", s.cfg.Path, err)
	}
	return nil
}

// Close closes the destination file.
func (s *CSVSink) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close output %s: %w", s.cfg.Path, err)
	}
	return nil
}

// readHeader returns the first line of path, or "" when the file is missing
// or empty.
func readHeader(path string) (string, error) {
	// #nosec G304 -- path comes from the configured output destination.
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open output %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read header of %s: %w", path, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
