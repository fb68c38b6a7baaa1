package schema

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// Persister stores the latest snapshot durably.
type Persister interface {
	// Load returns the persisted snapshot, or nil when none exists.
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// FilePersister keeps the snapshot in a JSON file. Saves write a temp file
// in the same directory and rename it over the target, so a reader never
// sees a partial document.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister for path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the file location.
func (p *FilePersister) Path() string {
	return p.path
}

// Load reads the snapshot file. A missing file is not an error.
func (p *FilePersister) Load() (*Snapshot, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read schema cache %s", p.path)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrapf(err, "parse schema cache %s", p.path)
	}
	return &snap, nil
}

// Save writes the snapshot atomically.
func (p *FilePersister) Save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode schema cache")
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".schema-*.json")
	if err != nil {
		return errors.Wrap(err, "create temp schema cache")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp schema cache")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync temp schema cache")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp schema cache")
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return errors.Wrapf(err, "replace %s", p.path)
	}
	return nil
}
