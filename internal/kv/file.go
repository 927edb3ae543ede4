package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const fileFormatVersion = 1

// File keeps every key in one JSON document. Each write goes to a temp file
// that is fsynced and renamed over the previous document, so a failed write
// leaves the previous complete state on disk. A document that cannot be
// parsed is moved aside to <path>.corrupt-<unixms> and read as empty.
type File struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
	log  *zap.Logger
}

type FileOptions struct {
	Now    func() time.Time
	Logger *zap.Logger
}

type persistedFile struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
	SavedAt int64             `json:"savedAt"`
}

func NewFile(path string) *File {
	return NewFileWithOptions(path, FileOptions{})
}

func NewFileWithOptions(path string, opts FileOptions) *File {
	f := &File{path: path, now: opts.Now, log: opts.Logger}
	if f.now == nil {
		f.now = time.Now
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	return f
}

func (f *File) Path() string { return f.path }

func (f *File) Get(ctx context.Context, key string) (string, bool, error) {
	values, err := f.GetMany(ctx, key)
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *File) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return nil, unavailable("file read", err)
	}
	result := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := all[k]; ok {
			result[k] = v
		}
	}
	return result, nil
}

func (f *File) SetMany(_ context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return unavailable("file read", err)
	}
	for k, v := range values {
		all[k] = v
	}
	if err := f.persist(all); err != nil {
		return unavailable("file write", err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return unavailable("file read", err)
	}
	changed := false
	for _, k := range keys {
		if _, ok := all[k]; ok {
			delete(all, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := f.persist(all); err != nil {
		return unavailable("file write", err)
	}
	return nil
}

func (f *File) DeleteIf(_ context.Context, guardKey, guardValue string, keys ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return false, unavailable("file read", err)
	}
	if all[guardKey] != guardValue {
		return false, nil
	}
	changed := false
	for _, k := range keys {
		if _, ok := all[k]; ok {
			delete(all, k)
			changed = true
		}
	}
	if !changed {
		return true, nil
	}
	if err := f.persist(all); err != nil {
		return false, unavailable("file write", err)
	}
	return true, nil
}

func (f *File) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return make(map[string]string), nil
	}

	var file persistedFile
	if err := json.Unmarshal(data, &file); err != nil {
		return f.quarantine(err), nil
	}
	if file.Version != fileFormatVersion {
		return f.quarantine(fmt.Errorf("unsupported version %d", file.Version)), nil
	}
	if file.Values == nil {
		file.Values = make(map[string]string)
	}
	return file.Values, nil
}

// quarantine moves an unreadable document out of the way so the next write
// starts from an empty state.
func (f *File) quarantine(cause error) map[string]string {
	target := fmt.Sprintf("%s.corrupt-%d", f.path, f.now().UnixMilli())
	if err := os.Rename(f.path, target); err != nil {
		f.log.Error("unreadable state file could not be moved aside",
			zap.String("path", f.path), zap.NamedError("cause", cause), zap.Error(err))
	} else {
		f.log.Warn("unreadable state file moved aside",
			zap.String("path", f.path), zap.String("movedTo", target), zap.Error(cause))
	}
	return make(map[string]string)
}

func (f *File) persist(values map[string]string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	file := persistedFile{Version: fileFormatVersion, Values: values, SavedAt: f.now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
