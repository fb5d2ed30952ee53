package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileStore persists one JSON record per skill under a directory, keyed
// by skill name. Verified skills are never written here.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating skills directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the backing directory.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Path returns the record path for a skill name.
func (fs *FileStore) Path(name string) string {
	return filepath.Join(fs.dir, name+".json")
}

// Save writes a skill record atomically via a temp file and rename.
// Verified skills are rejected: built-ins live in code, not on disk.
func (fs *FileStore) Save(s *Skill) error {
	if s.Verified {
		return fmt.Errorf("%w: %s is verified and is not persisted", ErrProtected, s.Name)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding skill %q: %w", s.Name, err)
	}
	tmp, err := os.CreateTemp(fs.dir, "."+s.Name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("writing skill %q: %w", s.Name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing skill %q: %w", s.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing skill %q: %w", s.Name, err)
	}
	if err := os.Rename(tmpName, fs.Path(s.Name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing skill %q: %w", s.Name, err)
	}
	return nil
}

// Delete removes a skill record. Missing files are not an error: the
// record may never have been persisted.
func (fs *FileStore) Delete(name string) error {
	err := os.Remove(fs.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// LoadError describes one record that failed to load. The loader reports
// these instead of aborting, so one corrupt file never hides the rest.
type LoadError struct {
	File string
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

// LoadInto reads every record in the directory into the registry, in
// file-name order. Records are forced to Verified=false on load; only
// code can vouch for a skill. Returns the number loaded plus per-file
// errors for records that were skipped.
func (fs *FileStore) LoadInto(reg *Registry) (int, []LoadError) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return 0, []LoadError{{File: fs.dir, Err: err}}
	}
	loaded := 0
	var failures []LoadError
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(fs.dir, entry.Name())
		s, err := fs.readRecord(path)
		if err != nil {
			failures = append(failures, LoadError{File: entry.Name(), Err: err})
			fs.logger.Warn("skipping skill record", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if err := reg.adopt(s); err != nil {
			failures = append(failures, LoadError{File: entry.Name(), Err: err})
			fs.logger.Warn("skipping skill record", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		loaded++
	}
	fs.logger.Info("loaded skills from disk",
		zap.String("dir", fs.dir),
		zap.Int("loaded", loaded),
		zap.Int("skipped", len(failures)))
	return loaded, failures
}

// readRecord parses one skill file and normalizes it for adoption.
func (fs *FileStore) readRecord(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Skill
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing record: %w", err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	s.Verified = false
	return &s, nil
}
