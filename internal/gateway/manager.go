package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"syscall"
	"time"
)

// State is the manager's connection lifecycle state.
type State int

const (
	// StateDisconnected means no live session.
	StateDisconnected State = iota
	// StateConnecting means a handshake is in flight.
	StateConnecting
	// StateConnected means the session reported a successful handshake.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Connect-time failure kinds. Callers decide whether to retry; the manager
// never retries on its own.
var (
	ErrConnectionTimeout = errors.New("gateway: connection timed out")
	ErrConnectionRefused = errors.New("gateway: connection refused")
	ErrConnectionFailed  = errors.New("gateway: connection failed")
	ErrNotConnected      = errors.New("gateway: not connected")
)

// Manager owns one persistent session to the venue gateway. It guarantees
// every venue call runs against the dispatcher the session was bound to at
// connect time, even when the host environment has installed a fresh one
// between calls.
type Manager struct {
	mu      sync.Mutex
	session Session
	logger  *log.Logger
	filter  *ErrorFilter

	state      State
	dispatcher *Dispatcher

	host     string
	port     int
	clientID int
}

// NewManager creates a connection manager around a session. If logger is
// nil, a default logger writing to stderr is used.
func NewManager(session Session, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[gateway] ", log.LstdFlags)
	}
	return &Manager{
		session: session,
		logger:  logger,
		filter:  NewErrorFilter(DefaultErrorRules(), logger),
		state:   StateDisconnected,
	}
}

// Connect establishes the session. An existing connection is torn down
// first so the venue never sees a duplicate clientID. All failures leave the
// manager disconnected and map to one of the typed connection errors.
func (m *Manager) Connect(ctx context.Context, host string, port, clientID int, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnected {
		m.logger.Printf("reconnect requested, tearing down existing session (clientID %d)", m.clientID)
		m.session.Disconnect()
		m.state = StateDisconnected
	}

	m.state = StateConnecting
	m.host, m.port, m.clientID = host, port, clientID

	// Bind the session to the dispatcher active right now; install one if
	// the host never did.
	d := CurrentDispatcher()
	if d == nil {
		d = NewDispatcher("gateway")
		SetCurrentDispatcher(d)
	}
	m.dispatcher = d

	m.filter.ResetPermission()
	m.session.SetErrorHandler(m.filter.Handle)

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.session.Connect(cctx, host, port, clientID); err != nil {
		m.state = StateDisconnected
		cerr := classifyConnectError(err)
		m.logger.Printf("connect to %s:%d failed: %v", host, port, err)
		return fmt.Errorf("%w: %s:%d clientID %d: %v", cerr, host, port, clientID, err)
	}

	m.state = StateConnected
	m.logger.Printf("connected to %s:%d (clientID %d)", host, port, clientID)
	return nil
}

func classifyConnectError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrConnectionTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrConnectionRefused
	default:
		return ErrConnectionFailed
	}
}

// Disconnect tears the session down. Safe to call when already
// disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDisconnected {
		return
	}
	m.session.Disconnect()
	m.state = StateDisconnected
	m.logger.Printf("disconnected from %s:%d", m.host, m.port)
}

// IsReady restores the saved dispatcher, then reports whether the socket is
// still connected. A dropped socket demotes the state to disconnected
// before returning.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureDispatcher()
	if m.state != StateConnected {
		return false
	}
	if !m.session.IsConnected() {
		m.logger.Printf("socket dropped, demoting to disconnected")
		m.state = StateDisconnected
		return false
	}
	return true
}

// Acquire is the entry point for every venue call: it restores the saved
// dispatcher and hands out the session, or ErrNotConnected. Callers must
// re-acquire per operation rather than holding the session.
func (m *Manager) Acquire() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureDispatcher()
	if m.state != StateConnected || !m.session.IsConnected() {
		m.state = StateDisconnected
		return nil, ErrNotConnected
	}
	return m.session, nil
}

// ensureDispatcher compares the dispatcher active right now with the one
// saved at connect time and restores the saved one when they differ. The
// host may have recreated its scheduling context while the socket is still
// registered against the original; without this, venue calls would hang.
// Callers must hold m.mu.
func (m *Manager) ensureDispatcher() {
	if m.dispatcher == nil {
		return
	}
	if cur := CurrentDispatcher(); cur != m.dispatcher {
		m.logger.Printf("DEBUG: execution context changed, restoring session dispatcher %q", m.dispatcher.Name())
		SetCurrentDispatcher(m.dispatcher)
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Filter exposes the error filter so market data batches can consult the
// permission fast-fail flag.
func (m *Manager) Filter() *ErrorFilter { return m.filter }
