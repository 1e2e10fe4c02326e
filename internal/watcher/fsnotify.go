package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotify implements Source on fsnotify. Watches are recursive: every
// directory below a watched one is added, including directories created
// later.
type FSNotify struct {
	mu sync.Mutex

	root    string
	ignore  *Ignore
	watcher *fsnotify.Watcher
	paths   map[string]bool

	events chan Event
	errors chan error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// NewFSNotify starts an fsnotify-backed source. root anchors the ignore
// patterns.
func NewFSNotify(root string, ignore *Ignore) (*FSNotify, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	w := &FSNotify{
		root:    absRoot,
		ignore:  ignore,
		watcher: fsw,
		paths:   map[string]bool{},
		events:  make(chan Event, 256),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}
	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

// Watch adds dir and its subdirectories. A missing directory is not an
// error; nothing can change inside it until it is created, and its parent
// is expected to be watched.
func (w *FSNotify) Watch(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(absDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return w.add(absDir)
	}
	return filepath.WalkDir(absDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != absDir && w.ignored(p) {
			return filepath.SkipDir
		}
		return w.add(p)
	})
}

// Watched returns the number of watched directories.
func (w *FSNotify) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.paths)
}

// Events returns the event channel.
func (w *FSNotify) Events() <-chan Event { return w.events }

// Errors returns the error channel.
func (w *FSNotify) Errors() <-chan error { return w.errors }

// Close stops the source and closes its channels.
func (w *FSNotify) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()
	close(w.events)
	close(w.errors)
	return w.watcher.Close()
}

func (w *FSNotify) add(p string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrSourceClosed
	}
	if w.paths[p] {
		return nil
	}
	if err := w.watcher.Add(p); err != nil {
		return err
	}
	w.paths[p] = true
	return nil
}

func (w *FSNotify) ignored(p string) bool {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	return w.ignore.Match(filepath.ToSlash(rel))
}

func (w *FSNotify) processLoop() {
	defer w.closedWg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *FSNotify) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 || w.ignored(ev.Name) {
		return
	}
	if op.Has(OpRemove) || op.Has(OpRename) {
		w.mu.Lock()
		delete(w.paths, ev.Name)
		w.mu.Unlock()
	}
	if op.Has(OpCreate) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.Watch(ev.Name); err != nil {
				w.sendError(err)
			}
		}
	}
	select {
	case w.events <- Event{Path: ev.Name, Op: op, At: time.Now()}:
	case <-w.closeCh:
	}
}

func (w *FSNotify) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}
