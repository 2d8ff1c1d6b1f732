package repository

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// File is a KeyValue persisted as a YAML document on local disk. Every write
// rewrites the whole document through a temporary file and rename.
type File struct {
	path string
	mu   sync.Mutex
}

var _ KeyValue = (*File)(nil)

type fileState struct {
	Values map[string]string `yaml:"values"`
}

// NewFile returns a File store at path. The file and its parent directory are
// created on first write.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, goerr.New("state file path is required")
	}
	return &File{path: path}, nil
}

// DefaultFilePath returns $XDG_CONFIG_HOME/reagent/state.yaml (or the OS
// equivalent).
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", goerr.Wrap(err, "failed to get user config dir")
	}
	return filepath.Join(dir, "reagent", "state.yaml"), nil
}

func (f *File) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := state.Values[key]
	return v, ok, nil
}

func (f *File) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return err
	}
	state.Values[key] = value
	return f.save(state)
}

func (f *File) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := state.Values[key]; !ok {
		return nil
	}
	delete(state.Values, key)
	return f.save(state)
}

func (f *File) load() (*fileState, error) {
	state := &fileState{Values: make(map[string]string)}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read state file", goerr.V("path", f.path))
	}

	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, goerr.Wrap(err, "failed to parse state file", goerr.V("path", f.path))
	}
	if state.Values == nil {
		state.Values = make(map[string]string)
	}
	return state, nil
}

func (f *File) save(state *fileState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal state")
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return goerr.Wrap(err, "failed to create state directory", goerr.V("path", f.path))
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write state file", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return goerr.Wrap(err, "failed to replace state file", goerr.V("path", f.path))
	}
	return nil
}
