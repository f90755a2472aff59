package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferWriter struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (w *bufferWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func newTestStore(w *bufferWriter, seen *[]string) *BlobStore {
	return &BlobStore{
		bucket: "harvests",
		newWriter: func(_ context.Context, bucket, object, contentType string) io.WriteCloser {
			*seen = append(*seen, bucket, object, contentType)
			return w
		},
	}
}

func TestPutObjectStreamsToBucket(t *testing.T) {
	t.Parallel()

	w := &bufferWriter{}
	var seen []string
	store := newTestStore(w, &seen)

	uri, err := store.PutObject(context.Background(), "run/out.csv", "text/csv", strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://harvests/run/out.csv", uri)
	assert.Equal(t, []string{"harvests", "run/out.csv", "text/csv"}, seen)
	assert.Equal(t, "a,b\n", w.String())
	assert.True(t, w.closed)
}

func TestPutObjectReportsCloseFailure(t *testing.T) {
	t.Parallel()

	w := &bufferWriter{closeErr: errors.New("precondition failed")}
	var seen []string
	_, err := newTestStore(w, &seen).PutObject(context.Background(), "run/out.csv", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "precondition failed")
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("disk gone")
}

func TestPutObjectReportsReadFailure(t *testing.T) {
	t.Parallel()

	w := &bufferWriter{}
	var seen []string
	_, err := newTestStore(w, &seen).PutObject(context.Background(), "run/out.csv", "", errReader{})
	require.ErrorContains(t, err, "disk gone")
	assert.True(t, w.closed)
}

func TestValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	var seen []string
	_, err = newTestStore(&bufferWriter{}, &seen).PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.Error(t, err)
}
