package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kingrea/assetflow/internal/task"
)

func TestWriteAtomicCreatesDirectoriesAndLeavesNoTemp(t *testing.T) {
	store := newTestStore(t)
	if err := store.WriteAtomic("public/_css/main.css", []byte("body{}")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(store.Root(), "public/_css/main.css"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "body{}" {
		t.Fatalf("unexpected content %q", data)
	}
	entries, err := os.ReadDir(filepath.Join(store.Root(), "public/_css"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, found %d entries", len(entries))
	}
}

func TestCommitRecordsManifest(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(func() time.Time { return stamp }))
	files := []File{
		{Path: "public/_js/core.min.js", Data: []byte("min")},
		{Path: "public/_js/core.js", Data: []byte("full")},
	}
	if err := store.Commit("scripts", files); err != nil {
		t.Fatalf("commit: %v", err)
	}
	manifest, err := store.Manifest()
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	entry, ok := manifest.Tasks["scripts"]
	if !ok {
		t.Fatalf("expected scripts entry, got %+v", manifest.Tasks)
	}
	if !entry.UpdatedAt.Equal(stamp) {
		t.Fatalf("expected timestamp %v, got %v", stamp, entry.UpdatedAt)
	}
	if got := entry.Files["public/_js/core.js"]; got.SHA256 != Checksum([]byte("full")) || got.Bytes != 4 {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestCommitFailureKeepsPreviousOutputs(t *testing.T) {
	store := newTestStore(t)
	old := []File{
		{Path: "public/_js/core.js", Data: []byte("old")},
		{Path: "public/_js/core.min.js", Data: []byte("old-min")},
	}
	if err := store.Commit("scripts", old); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// core.min.js is a file, so nothing can be written below it.
	broken := []File{
		{Path: "public/_js/core.js", Data: []byte("new")},
		{Path: "public/_js/core.min.js/oops", Data: []byte("new-min")},
	}
	var fsErr *task.FileSystemError
	if err := store.Commit("scripts", broken); !errors.As(err, &fsErr) {
		t.Fatalf("expected filesystem error, got %v", err)
	}
	data, err := os.ReadFile(filepath.Join(store.Root(), "public/_js/core.js"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "old" {
		t.Fatalf("core.js replaced by a failed commit: %q", data)
	}
	entries, err := os.ReadDir(filepath.Join(store.Root(), "public/_js"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected temp files cleaned up, found %d entries", len(entries))
	}
	res, err := store.Check("public/_js/core.js")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.State != StateReady {
		t.Fatalf("manifest must still describe the old output, got %s", res.State)
	}
}

func TestCommitReplacesPreviousTaskEntry(t *testing.T) {
	store := newTestStore(t)
	if err := store.Commit("images", []File{{Path: "public/_img/a.png", Data: []byte("a")}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Commit("images", []File{{Path: "public/_img/b.png", Data: []byte("b")}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	manifest, err := store.Manifest()
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	files := manifest.Tasks["images"].Files
	if _, ok := files["public/_img/a.png"]; ok {
		t.Fatalf("stale entry kept: %+v", files)
	}
	if _, ok := files["public/_img/b.png"]; !ok {
		t.Fatalf("new entry missing: %+v", files)
	}
}

func TestCheckStates(t *testing.T) {
	store := newTestStore(t)
	if err := store.Commit("styles", []File{
		{Path: "public/_css/main.css", Data: []byte("a")},
		{Path: "public/_css/main.min.css", Data: []byte("b")},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Root(), "public/_css/main.min.css"), []byte("edited"), 0o644); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Root(), "public/_css/extra.css"), []byte("x"), 0o644); err != nil {
		t.Fatalf("extra: %v", err)
	}

	cases := map[string]State{
		"public/_css/main.css":     StateReady,
		"public/_css/main.min.css": StateModified,
		"public/_css/extra.css":    StateUntracked,
		"public/_css/none.css":     StateMissing,
	}
	for path, want := range cases {
		result, err := store.Check(path)
		if err != nil {
			t.Fatalf("check %s: %v", path, err)
		}
		if result.State != want {
			t.Fatalf("check %s: expected %s, got %s", path, want, result.State)
		}
	}
}

func TestStatusReportsMissingOutputs(t *testing.T) {
	store := newTestStore(t)
	if err := store.Commit("svgSymbols", []File{{Path: "public/_img/sprite.svg", Data: []byte("<svg/>")}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := os.Remove(filepath.Join(store.Root(), "public/_img/sprite.svg")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	results, err := store.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(results) != 1 || results[0].State != StateMissing || results[0].TaskID != "svgSymbols" {
		t.Fatalf("unexpected status %+v", results)
	}
}

func TestRemoveAllForgetsEntries(t *testing.T) {
	store := newTestStore(t)
	if err := store.Commit("styles", []File{{Path: "public/_css/main.css", Data: []byte("a")}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Commit("scripts", []File{{Path: "public/_js/core.js", Data: []byte("b")}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.RemoveAll("public/_css"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "public/_css")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected directory removed, got %v", err)
	}
	manifest, err := store.Manifest()
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if _, ok := manifest.Tasks["styles"]; ok {
		t.Fatalf("styles entry should be forgotten")
	}
	if _, ok := manifest.Tasks["scripts"]; !ok {
		t.Fatalf("scripts entry should survive")
	}
	if err := store.RemoveAll("public/_css"); err != nil {
		t.Fatalf("removing a missing directory should succeed: %v", err)
	}
}

func TestRemoveAllRefusesRoot(t *testing.T) {
	store := newTestStore(t)
	err := store.RemoveAll(".")
	var fsErr *task.FileSystemError
	if !errors.As(err, &fsErr) {
		t.Fatalf("expected FileSystemError, got %v", err)
	}
}

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	root := t.TempDir()
	return NewStore(root, filepath.Join(root, ".assetflow", "state"), opts...)
}
