// Package snapshot dumps the document store to disk for recovery.
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"fishfry/internal/docstore"
)

// FileName is the dump written inside each snapshot directory.
const FileName = "documents.json"

type Snapshotter interface {
	WriteSnapshot(snapshotID string, st docstore.Store) (int, error)
}

type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

// Path is the dump file of a snapshot.
func Path(baseDir, snapshotID string) string {
	return filepath.Join(baseDir, snapshotID, FileName)
}

// WriteSnapshot writes every stored envelope and returns how many it wrote.
// The file is written under a temporary name and renamed into place.
func (f *FilesystemSnapshotter) WriteSnapshot(snapshotID string, st docstore.Store) (int, error) {
	if err := os.MkdirAll(filepath.Join(f.baseDir, snapshotID), 0o755); err != nil {
		return 0, errors.Wrap(err, "mkdir")
	}
	dump := make(map[string]docstore.Envelope)
	if err := st.Range("", func(key string, env docstore.Envelope) error {
		dump[key] = env
		return nil
	}); err != nil {
		return 0, err
	}

	file := Path(f.baseDir, snapshotID)
	tmp := file + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, errors.Wrap(err, "create")
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		out.Close()
		return 0, errors.Wrap(err, "encode")
	}
	if err := out.Close(); err != nil {
		return 0, errors.Wrap(err, "close")
	}
	return len(dump), errors.Wrap(os.Rename(tmp, file), "rename")
}
