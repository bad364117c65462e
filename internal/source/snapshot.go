package source

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/kamusis/modres/internal/snapshot"
)

// Snapshot replays the entries of an exported snapshot directory. Entries
// are reported under "<rank>-<original source>/<entry id>", where rank is the
// zero-padded position of the original source in the export. Ids from
// different sources never collide and sort in the order the sources had
// when the snapshot was taken.
type Snapshot struct {
	dir    string
	logger *zap.Logger
}

// NewSnapshot returns a source reading the snapshot in dir.
func NewSnapshot(dir string, logger *zap.Logger) *Snapshot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshot{dir: dir, logger: logger}
}

func (s *Snapshot) Watch(_ context.Context, h Handler) error {
	snap, err := snapshot.Load(s.dir)
	if err != nil {
		return err
	}
	rank := make(map[string]int, len(snap.Manifest.Sources))
	for i, name := range snap.Manifest.Sources {
		rank[name] = i
	}
	width := len(strconv.Itoa(len(snap.Manifest.Sources)))
	for _, r := range snap.Records {
		n, ok := rank[r.Source]
		if !ok {
			n = len(snap.Manifest.Sources)
		}
		h.OnNewEntry(SnapshotEntryID(n, width, r.Source, r.EntryID), r.Entry())
	}
	s.logger.Info("snapshot loaded",
		zap.String("dir", s.dir),
		zap.Int("entries", len(snap.Records)),
		zap.String("created_at", snap.Manifest.CreatedAt))
	h.OnIdle()
	return nil
}

func (s *Snapshot) Close() error { return nil }

// SnapshotEntryID builds the id a snapshot entry is reported under.
func SnapshotEntryID(rank, width int, source, entryID string) string {
	return fmt.Sprintf("%0*d-%s/%s", width, rank, source, entryID)
}
