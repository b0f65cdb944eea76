package availability

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store persists raw Statistics.
type Store interface {
	Load() (Statistics, error)
	Save(Statistics) error
}

// FileStore keeps Statistics as a JSON object on disk.
type FileStore struct {
	Path string
}

// Load reads the file, creating it empty if absent.
func (f *FileStore) Load() (Statistics, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		s := Statistics{}
		if err := f.Save(s); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}

	var s Statistics
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode statistics %s: %w", f.Path, err)
	}
	if s == nil {
		s = Statistics{}
	}
	return s, nil
}

// Save writes s through a temporary file and rename so readers never see a
// partial file.
func (f *FileStore) Save(s Statistics) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save statistics: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save statistics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save statistics: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("save statistics: %w", err)
	}
	return nil
}
