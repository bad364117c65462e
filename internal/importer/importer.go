// Package importer copies manifest files into the managed manifest directory,
// validating each one and applying MD5-based conflict resolution.
package importer

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kamusis/modres/internal/manifest"
)

// ConflictPair records a conflict found during import.
type ConflictPair struct {
	Original string // path of the manifest already in the directory
	Conflict string // path where the incoming conflicting version was stored
	Label    string // import label, usually the origin's name
}

// InvalidFile records a file that was not imported because it does not parse
// as a manifest.
type InvalidFile struct {
	Path string
	Err  error
}

// Result is returned by ImportDir.
type Result struct {
	Conflicts []ConflictPair
	Invalid   []InvalidFile
	Imported  int // number of files actually copied
	Skipped   int // identical duplicates skipped
	Excluded  int // files matching an exclude pattern
}

// ImportDir copies the manifest files at the top level of srcDir into dstDir.
// Subdirectories are not descended: the manifest directory is flat. label is
// used to build conflict file names.
func ImportDir(srcDir, dstDir, label string, excludes []string) (*Result, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", srcDir, err)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", dstDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	result := &Result{}
	for _, name := range names {
		if manifest.Excluded(name, excludes) {
			result.Excluded++
			continue
		}
		if err := importFile(result, filepath.Join(srcDir, name), filepath.Join(dstDir, name), label); err != nil {
			return result, err
		}
	}
	return result, nil
}

func importFile(result *Result, src, dst, label string) error {
	if _, err := manifest.ParseFile(src); err != nil {
		result.Invalid = append(result.Invalid, InvalidFile{Path: src, Err: err})
		return nil
	}

	if _, err := os.Stat(dst); err == nil {
		srcMD5, err := fileMD5(src)
		if err != nil {
			return fmt.Errorf("md5 %s: %w", src, err)
		}
		dstMD5, err := fileMD5(dst)
		if err != nil {
			return fmt.Errorf("md5 %s: %w", dst, err)
		}
		if srcMD5 == dstMD5 {
			result.Skipped++
			return nil
		}
		conflictDst := conflictPath(dst, label)
		if err := copyFile(src, conflictDst); err != nil {
			return fmt.Errorf("conflict copy %s → %s: %w", src, conflictDst, err)
		}
		result.Conflicts = append(result.Conflicts, ConflictPair{
			Original: dst,
			Conflict: conflictDst,
			Label:    label,
		})
		result.Imported++
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("copy %s → %s: %w", src, dst, err)
	}
	result.Imported++
	return nil
}

// conflictPath builds the conflict filename for an incoming file.
// Strategy: insert .conflict-<label> before the final extension.
//
//	navigate.json      → navigate.conflict-vendor.json
//	navigate.v1.yaml   → navigate.v1.conflict-vendor.yaml
//	manifest0          → manifest0.conflict-vendor
func conflictPath(original, label string) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(original, ext)
	return base + ".conflict-" + label + ext
}

// fileMD5 returns the hex-encoded MD5 digest of the file at path.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// copyFile copies src to dst through a temporary file so a directory watcher
// never sees a partial manifest.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".import-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
