package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/assetflow/internal/task"
)

const manifestName = "manifest.json"

// Store manages output IO rooted at the project directory.
type Store struct {
	root     string
	stateDir string
	now      func() time.Time

	mu sync.Mutex
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for manifest timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore builds a store. root anchors relative output paths; stateDir
// holds the manifest.
func NewStore(root, stateDir string, opts ...StoreOption) *Store {
	store := &Store{
		root:     filepath.Clean(root),
		stateDir: filepath.Clean(stateDir),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Root returns the directory relative paths resolve against.
func (s *Store) Root() string {
	return s.root
}

// Abs resolves path against the store root.
func (s *Store) Abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.root, path)
}

// Rel expresses path relative to the store root when possible.
func (s *Store) Rel(path string) string {
	abs := s.Abs(path)
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return filepath.ToSlash(rel)
}

// WriteAtomic replaces path with data. The content is written to a temp file
// in the same directory, synced and renamed over the target.
func (s *Store) WriteAtomic(path string, data []byte) error {
	p, err := s.prepare(path, data)
	if err != nil {
		return err
	}
	return p.rename()
}

// pending is a fully written temp file waiting to replace its target.
type pending struct {
	tmp, target string
}

func (p pending) rename() error {
	if err := os.Rename(p.tmp, p.target); err != nil {
		p.discard()
		return &task.FileSystemError{Op: "rename", Path: p.target, Err: err}
	}
	return nil
}

func (p pending) discard() { _ = os.Remove(p.tmp) }

// prepare writes data to a synced temp file next to path.
func (s *Store) prepare(path string, data []byte) (pending, error) {
	target := s.Abs(path)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pending{}, &task.FileSystemError{Op: "mkdir", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return pending{}, &task.FileSystemError{Op: "create", Path: target, Err: err}
	}
	p := pending{tmp: tmp.Name(), target: target}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		p.discard()
		return pending{}, &task.FileSystemError{Op: "write", Path: target, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		p.discard()
		return pending{}, &task.FileSystemError{Op: "sync", Path: target, Err: err}
	}
	if err := tmp.Close(); err != nil {
		p.discard()
		return pending{}, &task.FileSystemError{Op: "close", Path: target, Err: err}
	}
	if err := os.Chmod(p.tmp, 0o644); err != nil {
		p.discard()
		return pending{}, &task.FileSystemError{Op: "chmod", Path: target, Err: err}
	}
	return p, nil
}

// Commit writes every staged file for a task and replaces the task's
// manifest entry. All files are written to temp files first; targets are
// only replaced once every temp file is complete, so a failed write leaves
// the previous outputs in place.
func (s *Store) Commit(taskID string, files []File) error {
	sorted := append([]File{}, files...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	entry := TaskEntry{Files: make(map[string]Entry, len(sorted)), UpdatedAt: s.now().UTC()}
	staged := make([]pending, 0, len(sorted))
	discardFrom := func(i int) {
		for _, p := range staged[i:] {
			p.discard()
		}
	}
	for _, f := range sorted {
		p, err := s.prepare(f.Path, f.Data)
		if err != nil {
			discardFrom(0)
			return err
		}
		staged = append(staged, p)
		entry.Files[s.Rel(f.Path)] = Entry{SHA256: Checksum(f.Data), Bytes: int64(len(f.Data))}
	}
	for i, p := range staged {
		if err := p.rename(); err != nil {
			discardFrom(i + 1)
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	manifest, err := s.loadManifest()
	if err != nil {
		return err
	}
	manifest.Tasks[taskID] = entry
	return s.saveManifest(manifest)
}

// RemoveAll deletes a generated directory and forgets the manifest entries
// underneath it. Missing directories are not an error.
func (s *Store) RemoveAll(path string) error {
	target := s.Abs(path)
	if target == s.root || target == string(filepath.Separator) {
		return &task.FileSystemError{Op: "remove", Path: target, Err: fmt.Errorf("refusing to remove the project root")}
	}
	if err := os.RemoveAll(target); err != nil {
		return &task.FileSystemError{Op: "remove", Path: target, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	manifest, err := s.loadManifest()
	if err != nil {
		return err
	}
	prefix := s.Rel(target)
	changed := false
	for id, entry := range manifest.Tasks {
		for file := range entry.Files {
			if file == prefix || strings.HasPrefix(file, prefix+"/") {
				delete(entry.Files, file)
				changed = true
			}
		}
		if len(entry.Files) == 0 {
			delete(manifest.Tasks, id)
		}
	}
	if !changed {
		return nil
	}
	return s.saveManifest(manifest)
}

// Check inspects one output against the manifest.
func (s *Store) Check(path string) (CheckResult, error) {
	s.mu.Lock()
	manifest, err := s.loadManifest()
	s.mu.Unlock()
	if err != nil {
		return CheckResult{Path: path, State: StateError, Err: err}, err
	}
	rel := s.Rel(path)
	for id, entry := range manifest.Tasks {
		if e, ok := entry.Files[rel]; ok {
			return s.check(id, rel, e), nil
		}
	}
	if _, statErr := os.Stat(s.Abs(path)); statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			return CheckResult{Path: rel, State: StateMissing}, nil
		}
		return CheckResult{Path: rel, State: StateError, Err: statErr}, statErr
	}
	return CheckResult{Path: rel, State: StateUntracked}, nil
}

// Status checks every output recorded in the manifest, ordered by task and
// path.
func (s *Store) Status() ([]CheckResult, error) {
	s.mu.Lock()
	manifest, err := s.loadManifest()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(manifest.Tasks))
	for id := range manifest.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var results []CheckResult
	for _, id := range ids {
		entry := manifest.Tasks[id]
		files := make([]string, 0, len(entry.Files))
		for file := range entry.Files {
			files = append(files, file)
		}
		sort.Strings(files)
		for _, file := range files {
			results = append(results, s.check(id, file, entry.Files[file]))
		}
	}
	return results, nil
}

// Manifest returns the current manifest.
func (s *Store) Manifest() (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadManifest()
}

func (s *Store) check(taskID, rel string, entry Entry) CheckResult {
	result := CheckResult{TaskID: taskID, Path: rel, Expected: entry.SHA256}
	data, err := os.ReadFile(s.Abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result.State = StateMissing
			return result
		}
		result.State = StateError
		result.Err = err
		return result
	}
	result.Actual = Checksum(data)
	if result.Actual != entry.SHA256 {
		result.State = StateModified
		return result
	}
	result.State = StateReady
	return result
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.stateDir, manifestName)
}

func (s *Store) loadManifest() (Manifest, error) {
	data, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newManifest(), nil
		}
		return Manifest{}, &task.FileSystemError{Op: "read", Path: s.manifestPath(), Err: err}
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("artifact: parse manifest: %w", err)
	}
	if manifest.Tasks == nil {
		manifest.Tasks = map[string]TaskEntry{}
	}
	for id, entry := range manifest.Tasks {
		if entry.Files == nil {
			entry.Files = map[string]Entry{}
			manifest.Tasks[id] = entry
		}
	}
	return manifest, nil
}

func (s *Store) saveManifest(manifest Manifest) error {
	if manifest.Version == 0 {
		manifest.Version = 1
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode manifest: %w", err)
	}
	return s.WriteAtomic(s.manifestPath(), encoded)
}
