package gateway

import (
	"sync"
	"sync/atomic"
)

// Dispatcher identifies the I/O scheduling context a session's socket is
// registered against. Host environments that re-run caller code (a dashboard
// re-render) may install a fresh dispatcher between interactions while the
// socket stays bound to the one active at connect time; the manager restores
// the saved dispatcher before every venue call.
type Dispatcher struct {
	id   uint64
	name string
}

var dispatcherSeq atomic.Uint64

// NewDispatcher creates a distinct dispatcher handle.
func NewDispatcher(name string) *Dispatcher {
	return &Dispatcher{id: dispatcherSeq.Add(1), name: name}
}

// Name returns the label the dispatcher was created with.
func (d *Dispatcher) Name() string { return d.name }

var (
	currentMu         sync.RWMutex
	currentDispatcher *Dispatcher
)

// CurrentDispatcher returns the process-wide active dispatcher, or nil when
// none has been installed.
func CurrentDispatcher() *Dispatcher {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return currentDispatcher
}

// SetCurrentDispatcher installs d as the active dispatcher. Host frameworks
// call this when they recreate their scheduling context; the manager calls
// it to restore the session's saved dispatcher.
func SetCurrentDispatcher(d *Dispatcher) {
	currentMu.Lock()
	defer currentMu.Unlock()
	currentDispatcher = d
}
