// Package storage archives finished harvest outputs to a blob store.
//
// Backends live in subpackages: gcs for Google Cloud Storage, local for a
// directory on disk, and memory for tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// BlobStore writes one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Archiver uploads run artifacts under <prefix>/<run id>/<file name>.
type Archiver struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// NewArchiver wraps store. A nil logger is replaced by a no-op.
func NewArchiver(store BlobStore, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// ObjectPath returns the object key used for file within runID.
func (a *Archiver) ObjectPath(runID, file string) string {
	return path.Join(a.prefix, runID, filepath.Base(file))
}

// Archive uploads every existing file in files and returns their URIs in
// order. Missing files are skipped; any other failure stops the upload.
func (a *Archiver) Archive(ctx context.Context, runID string, files ...string) ([]string, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	uris := make([]string, 0, len(files))
	for _, file := range files {
		uri, err := a.archiveFile(ctx, runID, file)
		if errors.Is(err, fs.ErrNotExist) {
			a.logger.Debug("skipping missing artifact", zap.String("file", file))
			continue
		}
		if err != nil {
			return uris, err
		}
		a.logger.Info("artifact archived", zap.String("file", file), zap.String("uri", uri))
		uris = append(uris, uri)
	}
	return uris, nil
}

func (a *Archiver) archiveFile(ctx context.Context, runID, file string) (string, error) {
	// #nosec G304 -- files are the run's own output and progress log.
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", file, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	uri, err := a.store.PutObject(ctx, a.ObjectPath(runID, file), ContentType(file), f)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", file, err)
	}
	return uri, nil
}

// ContentType guesses the MIME type of a harvest artifact from its extension.
func ContentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".tsv":
		return "text/tab-separated-values; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
