package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File is a durable Store backed by a JSON file. Writes go through a temp
// file and rename so a crash never leaves a truncated state file.
type File struct {
	path   string
	values map[string]string
}

// DefaultPath returns the durable state file location, honoring dir when
// non-empty and falling back to ~/.manoir/session.json.
func DefaultPath(dir string) (string, error) {
	if dir != "" {
		return filepath.Join(dir, "session.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".manoir", "session.json"), nil
}

// OpenFile loads the store at path, creating an empty one if the file does
// not exist yet.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session state: %w", err)
	}
	if err := json.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("parsing session state: %w", err)
	}
	return f, nil
}

func (f *File) Get(key string) string { return f.values[key] }

func (f *File) Set(key, value string) error {
	f.values[key] = value
	return f.flush()
}

func (f *File) Delete(key string) error {
	delete(f.values, key)
	return f.flush()
}

func (f *File) Clear() error {
	f.values = make(map[string]string)
	return f.flush()
}

func (f *File) flush() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
