package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/timeline-harvester/internal/record"
)

var schema = []record.Field{
	record.FieldID,
	record.FieldAuthorID,
	record.FieldText,
	record.FieldLinks,
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func TestAppendWritesHeaderOnceAndNullTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "tweets.csv")
	s, err := NewCSV(Config{Path: path})
	require.NoError(t, err)

	full := record.NewBuilder().
		Set(record.FieldID, "1").
		Set(record.FieldAuthorID, "7").
		Set(record.FieldText, "hi, there\nfriend")
	full.AddLink("https://a.example")
	full.AddLink("https://b.example,c")
	noAuthor := record.NewBuilder().Set(record.FieldID, "2").Set(record.FieldText, "")

	require.NoError(t, s.Append(ctx, full.Build(), schema))
	require.NoError(t, s.Append(ctx, noAuthor.Build(), schema))
	require.NoError(t, s.Close())

	want := "tweet_id,user_id,text,links\n" +
		"1,7,hi  there friend,https://a.example https://b.example c\n" +
		"2,Null,,Null\n"
	assert.Equal(t, want, readFile(t, path))
}

func TestAppendResumesExistingFileWithoutSecondHeader(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tweets.csv")
	rec := record.NewBuilder().Set(record.FieldID, "1").Build()

	for range 2 {
		s, err := NewCSV(Config{Path: path})
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, rec, schema))
		require.NoError(t, s.Close())
	}

	assert.Equal(t, "tweet_id,user_id,text,links\n1,Null,Null,Null\n1,Null,Null,Null\n", readFile(t, path))
}

func TestAppendDropsTornTrailingRow(t *testing.T) {
	t.Parallel()

	fields := []record.Field{record.FieldID, record.FieldText}
	rec := record.NewBuilder().Set(record.FieldID, "12").Set(record.FieldText, "x").Build()

	tests := []struct {
		name string
		seed string
		want string
	}{
		{
			name: "torn row",
			seed: "tweet_id,text\n11,hal",
			want: "tweet_id,text\n12,x\n",
		},
		{
			name: "torn header",
			seed: "tweet_id,te",
			want: "tweet_id,text\n12,x\n",
		},
		{
			name: "complete rows kept",
			seed: "tweet_id,text\n10,ok\n11,hal",
			want: "tweet_id,text\n10,ok\n12,x\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "tweets.csv")
			require.NoError(t, os.WriteFile(path, []byte(tt.seed), 0o600))

			s, err := NewCSV(Config{Path: path})
			require.NoError(t, err)
			require.NoError(t, s.Append(context.Background(), rec, fields))
			require.NoError(t, s.Close())

			assert.Equal(t, tt.want, readFile(t, path))
		})
	}
}

func TestAppendRejectsSchemaChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tweets.csv")
	rec := record.NewBuilder().Set(record.FieldID, "1").Build()

	s, err := NewCSV(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, rec, schema))
	err = s.Append(ctx, rec, schema[:2])
	require.ErrorIs(t, err, ErrSchemaChanged)
	require.NoError(t, s.Close())

	reopened, err := NewCSV(Config{Path: path})
	require.NoError(t, err)
	err = reopened.Append(ctx, rec, []record.Field{record.FieldText})
	require.ErrorIs(t, err, ErrSchemaChanged)
}

func TestCustomDelimiterAndNullToken(t *testing.T) {
	t.Parallel()

	s, err := NewCSV(Config{Path: filepath.Join(t.TempDir(), "x.tsv"), Delimiter: '\t', NullToken: "NULL", LinkSeparator: "|"})
	require.NoError(t, err)

	b := record.NewBuilder().Set(record.FieldID, "1").Set(record.FieldText, "a\tb, c")
	b.AddLink("u1")
	b.AddLink("u2")
	require.NoError(t, s.Append(context.Background(), b.Build(), schema))
	require.NoError(t, s.Close())

	assert.Equal(t, "tweet_id\tuser_id\ttext\tlinks\n1\tNULL\ta b, c\tu1|u2\n", readFile(t, s.Path()))
}

func TestNewCSVValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCSV(Config{})
	require.Error(t, err)
	_, err = NewCSV(Config{Path: "x.csv", Delimiter: '\n'})
	require.Error(t, err)
	_, err = NewCSV(Config{Path: "x.csv", NullToken: "a,b"})
	require.Error(t, err)

	s, err := NewCSV(Config{Path: filepath.Join(t.TempDir(), "x.csv")})
	require.NoError(t, err)
	err = s.Append(context.Background(), record.Record{}, nil)
	require.Error(t, err)
}
