// Package imagewatch loads runtime images that appear in a directory.
//
// Every image loaded this way fires the runtime's image-load listeners, so a
// Watcher is what drives class availability waiters in a long-running host.
package imagewatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/steipete/InterposeKit/vm"
	"github.com/tliron/commonlog"
)

// Ext is the file extension of runtime images.
const Ext = ".img"

// DefaultDebounce is how long a file must be quiet before it is loaded.
const DefaultDebounce = 100 * time.Millisecond

var log = commonlog.GetLogger("imagewatch")

// Loader loads a decoded image. *vm.VM implements it.
type Loader interface {
	LoadImage(img *vm.Image) ([]*vm.Class, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a changed file is loaded.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithErrorHandler sets a function that receives load errors. By default
// they are only logged.
func WithErrorHandler(fn func(path string, err error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// Watcher watches one directory for image files.
type Watcher struct {
	dir      string
	loader   Loader
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onError  func(path string, err error)

	mu     sync.Mutex
	loaded map[string]bool

	closeOnce sync.Once
}

// New creates a watcher for dir. Call LoadExisting to pick up images that
// are already there and Run to follow new ones.
func New(dir string, loader Loader, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(abs); err != nil {
		fw.Close()
		return nil, fmt.Errorf("cannot watch %s: %w", abs, err)
	}
	w := &Watcher{
		dir:      abs,
		loader:   loader,
		watcher:  fw,
		debounce: DefaultDebounce,
		loaded:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// LoadExisting loads every image already in the directory, in name order.
// Files that fail to load are reported and skipped. Returns the number of
// images loaded.
func (w *Watcher) LoadExisting() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("cannot read %s: %w", w.dir, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isImage(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	return w.loadAll(paths), nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		clear(pending)
		w.loadAll(paths)
		timer, timerC = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !isImage(event.Name) || !event.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			pending[event.Name] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			flush()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("watch %s: %s", w.dir, err)
		}
	}
}

// Close stops watching. Run returns after Close.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}

// Loaded returns the paths loaded so far, sorted.
func (w *Watcher) Loaded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.loaded))
	for p := range w.loaded {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) loadAll(paths []string) int {
	sort.Strings(paths)
	n := 0
	for _, p := range paths {
		if err := w.load(p); err != nil {
			w.report(p, err)
			continue
		}
		n++
	}
	return n
}

// errAlreadyLoaded is returned for a file that was loaded before.
var errAlreadyLoaded = errors.New("image already loaded")

func (w *Watcher) load(path string) error {
	w.mu.Lock()
	done := w.loaded[path]
	w.mu.Unlock()
	if done {
		return errAlreadyLoaded
	}

	img, err := vm.ReadImageFile(path)
	if err != nil {
		return err
	}
	classes, err := w.loader.LoadImage(img)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.loaded[path] = true
	w.mu.Unlock()
	log.Infof("loaded %s (%d classes)", filepath.Base(path), len(classes))
	return nil
}

func (w *Watcher) report(path string, err error) {
	if errors.Is(err, errAlreadyLoaded) {
		log.Debugf("skipping %s: %s", filepath.Base(path), err)
		return
	}
	log.Errorf("cannot load %s: %s", filepath.Base(path), err)
	if w.onError != nil {
		w.onError(path, err)
	}
}

func isImage(name string) bool {
	return strings.HasSuffix(name, Ext)
}
