package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads a snapshot from dir and verifies every record's content hash.
func Load(dir string) (*Snapshot, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	b, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read snapshot manifest %s: %w", manifestPath, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("invalid snapshot manifest JSON %s: %w", manifestPath, err)
	}
	if m.SnapshotVersion != CurrentVersion {
		return nil, fmt.Errorf("unsupported snapshot version: %d", m.SnapshotVersion)
	}
	if m.EntriesFile == "" {
		m.EntriesFile = DefaultEntriesFile
	}

	records, err := loadRecords(filepath.Join(dir, m.EntriesFile))
	if err != nil {
		return nil, err
	}
	if len(records) != m.EntryCount {
		return nil, fmt.Errorf("snapshot entry count mismatch: got %d want %d", len(records), m.EntryCount)
	}
	return &Snapshot{Manifest: m, Records: records}, nil
}

func loadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open entries file %s: %w", path, err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("invalid entries JSONL %s:%d: %w", path, line, err)
		}
		if got := ContentHash(r.Entry()); got != r.ContentHash {
			return nil, fmt.Errorf("%s:%d (%s/%s): %w", path, line, r.Source, r.EntryID, ErrHashMismatch)
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read entries file %s: %w", path, err)
	}
	return out, nil
}
