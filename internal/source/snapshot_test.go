package source

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kamusis/modres/internal/index"
	"github.com/kamusis/modres/internal/manifest"
	"github.com/kamusis/modres/internal/snapshot"
)

func TestSnapshot_ReplaysExport(t *testing.T) {
	out := filepath.Join(t.TempDir(), "snap")
	_, err := snapshot.Export(out, []index.Record{
		{Key: index.Key{Source: "local", EntryID: "manifest0"}, Entry: manifest.Entry{Binary: "module1", Verb: "nav"}},
		{Key: index.Key{Source: "test1", EntryID: "1"}, Entry: manifest.Entry{Binary: "id1", Verb: "verb1"}},
	})
	require.NoError(t, err)

	rec := newRecorder()
	s := NewSnapshot(out, nil)
	require.NoError(t, s.Watch(context.Background(), rec))
	require.Equal(t, []string{"add:0-local/manifest0", "add:1-test1/1", "idle"}, rec.log())
	require.NoError(t, s.Close())
}

func TestSnapshot_IDsFollowExportOrder(t *testing.T) {
	// Sources exported out of name order, with more than ten of them so the
	// rank needs padding to keep byte order.
	var records []index.Record
	for i := 0; i < 11; i++ {
		name := string(rune('z' - i))
		records = append(records, index.Record{
			Key:   index.Key{Source: name, EntryID: "e"},
			Entry: manifest.Entry{Binary: name, Verb: "v"},
		})
	}
	out := filepath.Join(t.TempDir(), "snap")
	_, err := snapshot.Export(out, records)
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, NewSnapshot(out, nil).Watch(context.Background(), rec))
	got := rec.log()
	require.Len(t, got, 12)
	require.Equal(t, "add:00-z/e", got[0])
	require.Equal(t, "add:10-p/e", got[10])
	require.True(t, sort.StringsAreSorted(got[:11]), "ids out of export order: %v", got)
}

func TestSnapshot_MissingDir(t *testing.T) {
	s := NewSnapshot(filepath.Join(t.TempDir(), "nope"), nil)
	require.Error(t, s.Watch(context.Background(), newRecorder()))
}
