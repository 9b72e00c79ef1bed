package kvingest

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hupe1980/kvingest/bulk"
)

// PendingFileName is the journal of built but unpublished files kept in the
// output directory. A new Loader on the same directory picks them up.
const PendingFileName = "PENDING.json"

type pendingJournal struct {
	Files []bulk.FileMeta `json:"files"`
}

// PendingFiles returns the unpublished files recorded in dir.
func PendingFiles(dir string) ([]bulk.FileMeta, error) {
	return loadPending(dir)
}

// loadPending reads the journal in dir and drops files that no longer
// exist.
func loadPending(dir string) ([]bulk.FileMeta, error) {
	data, err := os.ReadFile(filepath.Join(dir, PendingFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var j pendingJournal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}

	files := j.Files[:0]
	for _, f := range j.Files {
		if _, err := os.Stat(f.Path); err == nil {
			files = append(files, f)
		}
	}
	return files, nil
}

// savePending replaces the journal in dir atomically.
func savePending(dir string, files []bulk.FileMeta) error {
	data, err := json.MarshalIndent(pendingJournal{Files: files}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+PendingFileName+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, PendingFileName))
}
