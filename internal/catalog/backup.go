package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Backup streams a zstd-compressed copy of the catalog database file into
// destDir, named by timestamp, writing to a .tmp sibling and renaming into
// place so a crash mid-backup never leaves a half-written archive.
func (d *DB) Backup(dbPath, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	if _, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("checkpoint before backup: %w", err)
	}

	src, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("open db file: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("openidcs-%s.db.zst", time.Now().UTC().Format("20060102T150405Z"))
	final := filepath.Join(destDir, name)
	staging := final + ".tmp"

	out, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("create staging archive: %w", err)
	}

	enc, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		os.Remove(staging)
		return "", fmt.Errorf("create zstd writer: %w", err)
	}

	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		out.Close()
		os.Remove(staging)
		return "", fmt.Errorf("compress db file: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		os.Remove(staging)
		return "", fmt.Errorf("close zstd writer: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(staging)
		return "", fmt.Errorf("close staging archive: %w", err)
	}

	if err := os.Rename(staging, final); err != nil {
		os.Remove(staging)
		return "", fmt.Errorf("rename staging archive: %w", err)
	}

	return final, nil
}

// PruneBackups removes all but the keep most recent backup archives in
// destDir.
func PruneBackups(destDir string, keep int) error {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".zst" {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}

	// Names embed a sortable UTC timestamp, so lexical order is chronological.
	for i := 0; i < len(names)-keep; i++ {
		if err := os.Remove(filepath.Join(destDir, names[i])); err != nil {
			return err
		}
	}
	return nil
}
