// Package snapshot exports indexed manifest entries to disk and loads them back.
//
// A snapshot directory holds snapshot_manifest.json and an entries JSONL file
// with one record per line.
package snapshot

import "github.com/kamusis/modres/internal/manifest"

const (
	ManifestFile       = "snapshot_manifest.json"
	DefaultEntriesFile = "entries.jsonl"
	CurrentVersion     = 1
)

// Manifest describes a snapshot and how to read it.
type Manifest struct {
	SnapshotVersion int      `json:"snapshot_version"`
	CreatedAt       string   `json:"created_at"`
	EntriesFile     string   `json:"entries_file"`
	EntryCount      int      `json:"entry_count"`
	Sources         []string `json:"sources,omitempty"`
}

// Record is one entries.jsonl row.
type Record struct {
	Source          string                    `json:"source"`
	EntryID         string                    `json:"entry_id"`
	Binary          string                    `json:"binary"`
	LocalName       string                    `json:"local_name,omitempty"`
	Verb            string                    `json:"verb"`
	NounConstraints []manifest.NounConstraint `json:"noun_constraints,omitempty"`
	ContentHash     string                    `json:"content_hash"`
}

// Entry returns the manifest entry carried by r.
func (r Record) Entry() manifest.Entry {
	return manifest.Entry{
		Binary:          r.Binary,
		LocalName:       r.LocalName,
		Verb:            r.Verb,
		NounConstraints: r.NounConstraints,
	}.Clone()
}

// Snapshot is a loaded snapshot.
type Snapshot struct {
	Manifest Manifest
	Records  []Record
}
