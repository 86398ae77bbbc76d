package interpose

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"
	"github.com/steipete/InterposeKit/vm"
)

const (
	waiterPending int32 = iota
	waiterRunning
	waiterDone
)

// Waiter interposes a class once it has been loaded.
type Waiter struct {
	rt         Runtime
	className  string
	builder    Builder
	completion func()
	opts       []Option

	state atomic.Int32
	done  chan struct{}
	err   error
}

// WhenAvailable applies builder to className as soon as the class exists.
// If it is already loaded the hooks are applied before WhenAvailable
// returns and any error is returned directly. Otherwise the waiter retries
// after every image load on rt; errors from those retries go to the fatal
// error handler (see SetFatalHandler). completion may be nil.
func WhenAvailable(rt Runtime, className string, builder Builder, completion func(), opts ...Option) (*Waiter, error) {
	w := &Waiter{
		rt:         rt,
		className:  className,
		builder:    builder,
		completion: completion,
		opts:       opts,
		done:       make(chan struct{}),
	}
	ok, err := w.tryExecute()
	if err != nil {
		return w, err
	}
	if ok {
		return w, nil
	}
	wt := globalWatcher()
	wt.add(w)
	// The class may have been loaded before the image listener was in place.
	if ok, err := w.tryExecute(); ok {
		wt.remove(w)
		return w, err
	}
	return w, nil
}

// WhenAvailableParts is WhenAvailable with the class name given in parts,
// which are concatenated.
func WhenAvailableParts(rt Runtime, parts []string, builder Builder, completion func(), opts ...Option) (*Waiter, error) {
	return WhenAvailable(rt, strings.Join(parts, ""), builder, completion, opts...)
}

// ClassName returns the class the waiter is waiting for.
func (w *Waiter) ClassName() string { return w.className }

// Done is closed once the waiter has run or was cancelled.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// Err returns the error of the run, if any. Only meaningful after Done.
func (w *Waiter) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Cancel stops waiting. It returns false if the waiter already ran.
func (w *Waiter) Cancel() bool {
	if !w.state.CompareAndSwap(waiterPending, waiterDone) {
		return false
	}
	close(w.done)
	globalWatcher().remove(w)
	return true
}

// tryExecute returns false without side effects if the class is not loaded.
func (w *Waiter) tryExecute() (bool, error) {
	class := w.rt.ClassNamed(w.className)
	if class == nil || w.builder == nil {
		return false, nil
	}
	if !w.state.CompareAndSwap(waiterPending, waiterRunning) {
		// Another notification or Cancel got here first.
		return true, nil
	}
	_, err := NewClassInterposer(w.rt, class, w.builder, w.opts...)
	w.err = err
	w.state.Store(waiterDone)
	close(w.done)
	if err != nil {
		return true, err
	}
	if w.completion != nil {
		w.completion()
	}
	return true, nil
}

// watcher is the process-wide list of pending waiters.
type watcher struct {
	mu          deadlock.Mutex
	waiters     []*Waiter
	subscribed  map[Runtime]func()
	fatalMu     sync.RWMutex
	fatal       func(error)
	debugFatals bool
}

var (
	watcherOnce sync.Once
	theWatcher  *watcher
)

func globalWatcher() *watcher {
	watcherOnce.Do(func() {
		lockCheckingFixed.Store(true)
		theWatcher = &watcher{subscribed: make(map[Runtime]func())}
	})
	return theWatcher
}

func (wt *watcher) add(w *Waiter) {
	wt.mu.Lock()
	wt.waiters = append(wt.waiters, w)
	_, subscribed := wt.subscribed[w.rt]
	if !subscribed {
		// Reserve the slot so only one caller subscribes.
		wt.subscribed[w.rt] = nil
	}
	wt.mu.Unlock()
	waitersPending.Inc()

	if !subscribed {
		rt := w.rt
		cancel := rt.OnImageLoaded(func(img *vm.Image) { wt.imageLoaded(rt, img) })
		wt.mu.Lock()
		wt.subscribed[rt] = cancel
		wt.mu.Unlock()
	}
}

func (wt *watcher) remove(w *Waiter) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	for i, other := range wt.waiters {
		if other == w {
			wt.waiters = append(wt.waiters[:i], wt.waiters[i+1:]...)
			waitersPending.Dec()
			return
		}
	}
}

// pending returns the waiters for rt that are still waiting.
func (wt *watcher) pending(rt Runtime) []*Waiter {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	var out []*Waiter
	for _, w := range wt.waiters {
		if w.rt == rt && w.state.Load() == waiterPending {
			out = append(out, w)
		}
	}
	return out
}

// imageLoaded retries every waiter for rt. The list lock is not held while
// builders run.
func (wt *watcher) imageLoaded(rt Runtime, img *vm.Image) {
	for _, w := range wt.pending(rt) {
		ok, err := w.tryExecute()
		if !ok {
			continue
		}
		wt.remove(w)
		if err != nil {
			logf(waiterLog, "Error while executing task for %s: %v", w.className, err)
			wt.reportFatal(fmt.Errorf("interpose %s after loading image %q: %w", w.className, img.Name, err))
			continue
		}
		logf(waiterLog, "%s was successful.", w.className)
	}
}

func (wt *watcher) reportFatal(err error) {
	wt.fatalMu.RLock()
	fatal, debug := wt.fatal, wt.debugFatals
	wt.fatalMu.RUnlock()
	switch {
	case fatal != nil:
		fatal(err)
	case debug:
		panic(err)
	default:
		waiterLog.Errorf("%v", err)
	}
}

// SetFatalHandler sets the function that receives errors from waiters that
// ran after an image load, where no caller can see them. nil restores the
// default, which logs the error and panics in debug mode.
func SetFatalHandler(fn func(error)) {
	wt := globalWatcher()
	wt.fatalMu.Lock()
	wt.fatal = fn
	wt.fatalMu.Unlock()
}

// SetDebug makes the default fatal error policy panic instead of only
// logging.
func SetDebug(enabled bool) {
	wt := globalWatcher()
	wt.fatalMu.Lock()
	wt.debugFatals = enabled
	wt.fatalMu.Unlock()
}
