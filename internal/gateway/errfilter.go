package gateway

import (
	"log"
	"sync"
)

// ErrorAction is what the filter does with a matched venue error.
type ErrorAction int

const (
	// ActionSuppress demotes the error to debug logging.
	ActionSuppress ErrorAction = iota
	// ActionFlagPermission sets the market-data-permission fast-fail flag.
	ActionFlagPermission
	// ActionSurface logs at error level and records the error for callers.
	ActionSurface
)

// ErrorRule pairs a predicate with the action taken on match. Rules are
// evaluated in order; the first match wins.
type ErrorRule struct {
	Name   string
	Match  func(VenueError) bool
	Action ErrorAction
}

// Venue codes that are notices about data quality, not failures.
var informationalCodes = map[int]bool{
	2104:  true, // market data farm connection OK
	2106:  true, // historical data farm connection OK
	2108:  true, // market data farm inactive but available on demand
	2119:  true, // market data farm connecting
	2158:  true, // sec-def data farm connection OK
	10167: true, // displaying delayed market data
}

// Venue codes meaning the account lacks market data permission for the
// requested instrument. One occurrence is enough to stop per-strike
// subscriptions for the rest of a batch.
var permissionCodes = map[int]bool{
	354:   true, // requested market data is not subscribed
	10089: true, // market data requires additional subscription
}

func codeIn(set map[int]bool) func(VenueError) bool {
	return func(e VenueError) bool { return set[e.Code] }
}

// DefaultErrorRules is the suppression policy installed at connect time.
func DefaultErrorRules() []ErrorRule {
	return []ErrorRule{
		{Name: "informational", Match: codeIn(informationalCodes), Action: ActionSuppress},
		{Name: "no-permission", Match: codeIn(permissionCodes), Action: ActionFlagPermission},
	}
}

// ErrorFilter evaluates every inbound venue error against a rule chain.
// Unmatched errors surface. The filter is safe for use from the session's
// reader goroutine.
type ErrorFilter struct {
	mu     sync.Mutex
	rules  []ErrorRule
	logger *log.Logger

	permissionDenied bool
	surfaced         []VenueError
}

// NewErrorFilter builds a filter with the given rules. A nil logger logs to
// the default logger.
func NewErrorFilter(rules []ErrorRule, logger *log.Logger) *ErrorFilter {
	if logger == nil {
		logger = log.Default()
	}
	return &ErrorFilter{rules: rules, logger: logger}
}

// Handle classifies one venue error. Suppressed errors are logged at debug
// level only; permission errors set the fast-fail flag; everything else is
// recorded and logged.
func (f *ErrorFilter) Handle(e VenueError) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.rules {
		if !r.Match(e) {
			continue
		}
		switch r.Action {
		case ActionSuppress:
			f.logger.Printf("DEBUG: venue notice %d: %s", e.Code, e.Message)
		case ActionFlagPermission:
			f.permissionDenied = true
			f.logger.Printf("WARN: market data permission denied (code %d): %s", e.Code, e.Message)
		case ActionSurface:
			f.surface(e)
		}
		return
	}
	f.surface(e)
}

func (f *ErrorFilter) surface(e VenueError) {
	f.surfaced = append(f.surfaced, e)
	if len(f.surfaced) > 64 {
		f.surfaced = f.surfaced[len(f.surfaced)-64:]
	}
	f.logger.Printf("ERROR: venue error %d (req %d): %s", e.Code, e.ReqID, e.Message)
}

// PermissionDenied reports whether a no-market-data-permission error has
// been seen since the last reset.
func (f *ErrorFilter) PermissionDenied() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permissionDenied
}

// ResetPermission clears the fast-fail flag, typically at the start of a
// new batch operation.
func (f *ErrorFilter) ResetPermission() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permissionDenied = false
}

// Surfaced returns a copy of the recently surfaced errors.
func (f *ErrorFilter) Surfaced() []VenueError {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]VenueError, len(f.surfaced))
	copy(out, f.surfaced)
	return out
}
