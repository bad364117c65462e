package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kamusis/modres/internal/index"
)

// Write writes snapshot artifacts to dir.
func Write(dir string, m Manifest, records []Record) error {
	if m.EntriesFile == "" {
		m.EntriesFile = DefaultEntriesFile
	}
	if m.SnapshotVersion == 0 {
		m.SnapshotVersion = CurrentVersion
	}
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.EntryCount = len(records)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create snapshot dir %s: %w", dir, err)
	}

	// manifest
	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), mb, 0o644); err != nil {
		return fmt.Errorf("cannot write snapshot manifest: %w", err)
	}

	// entries jsonl
	f, err := os.Create(filepath.Join(dir, m.EntriesFile))
	if err != nil {
		return fmt.Errorf("cannot create entries file: %w", err)
	}
	bw := bufio.NewWriter(f)
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			_ = f.Close()
			return err
		}
		if _, err := bw.Write(line); err != nil {
			_ = f.Close()
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// FromIndex converts indexed records to snapshot records, preserving order.
func FromIndex(records []index.Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		e := r.Entry.Clone()
		out = append(out, Record{
			Source:          r.Source,
			EntryID:         r.EntryID,
			Binary:          e.Binary,
			LocalName:       e.LocalName,
			Verb:            e.Verb,
			NounConstraints: e.NounConstraints,
			ContentHash:     ContentHash(e),
		})
	}
	return out
}

// Export writes records into a fresh temporary directory next to outDir and
// atomically swaps it into place.
func Export(outDir string, records []index.Record) (*Snapshot, error) {
	if outDir == "" {
		return nil, fmt.Errorf("out dir is required")
	}
	parent := filepath.Dir(outDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", parent, err)
	}
	tmpDir, err := os.MkdirTemp(parent, ".snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create temp snapshot dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	recs := FromIndex(records)
	m := Manifest{
		SnapshotVersion: CurrentVersion,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		EntriesFile:     DefaultEntriesFile,
		Sources:         sourceNames(recs),
	}
	if err := Write(tmpDir, m, recs); err != nil {
		return nil, err
	}
	if err := AtomicSwap(tmpDir, outDir); err != nil {
		return nil, fmt.Errorf("cannot install snapshot: %w", err)
	}
	m.EntryCount = len(recs)
	return &Snapshot{Manifest: m, Records: recs}, nil
}

// AtomicSwap replaces destDir with srcDir by renaming.
func AtomicSwap(srcDir, destDir string) error {
	parent := filepath.Dir(destDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	backup := destDir + ".bak"
	_ = os.RemoveAll(backup)
	if _, err := os.Stat(destDir); err == nil {
		if err := os.Rename(destDir, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(srcDir, destDir); err != nil {
		// rollback best-effort
		if _, stErr := os.Stat(backup); stErr == nil {
			_ = os.Rename(backup, destDir)
		}
		return err
	}
	_ = os.RemoveAll(backup)
	return nil
}

func sourceNames(records []Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		if _, ok := seen[r.Source]; ok {
			continue
		}
		seen[r.Source] = struct{}{}
		out = append(out, r.Source)
	}
	return out
}
