package interpose

import (
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"
	"github.com/steipete/InterposeKit/manifest"
)

// lockCheckingFixed is set when the first process-wide table is created.
// go-deadlock reads its options without synchronization, so they may only
// change before any of our locks exist.
var lockCheckingFixed atomic.Bool

// Configure applies the process-wide settings in m (logging, the fatal
// error policy and lock checking) and returns the options its [object]
// section describes. A nil manifest means defaults.
//
// Call Configure before creating the first hook or waiter. After that the
// lock checking setting is ignored.
func Configure(m *manifest.Manifest) []Option {
	if m == nil {
		m = manifest.Default()
	}
	SetLoggingEnabled(m.Logging.Enabled)
	SetDebug(m.Waiter.FatalOnError)
	if !setLockChecking(m.Debug.LockChecking) {
		logf(registryLog, "Lock checking is already fixed, ignoring lock-checking = %t", m.Debug.LockChecking)
	}

	var strategy IsolationStrategy = ClassPairStrategy{}
	if m.Object.Strategy == manifest.StrategyShadow {
		strategy = ShadowTableStrategy{}
	}
	return []Option{
		WithStrategy(strategy),
		WithGenerateSuper(m.Object.GenerateSuper),
		WithSubclassPrefix(m.Object.SubclassPrefix),
	}
}

func setLockChecking(enabled bool) bool {
	if lockCheckingFixed.Load() {
		return false
	}
	deadlock.Opts.Disable = !enabled
	return true
}

func init() {
	// Lock checking is opt-in.
	deadlock.Opts.Disable = true
}
