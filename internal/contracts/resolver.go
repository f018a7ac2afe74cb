// Package contracts turns caller-supplied instrument descriptions into
// venue-qualified contracts, tolerating the mismatches upstream tools
// produce when they infer strikes without checking live listings.
package contracts

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"

	"github.com/lmorandi/gateway_desk/internal/gateway"
	"github.com/lmorandi/gateway_desk/internal/models"
)

// ErrNotFound is the sentinel all resolution failures match.
var ErrNotFound = errors.New("contracts: contract not found")

// NotFoundError reports a failed resolution along with every spec that was
// attempted, for diagnostics.
type NotFoundError struct {
	Attempted []models.InstrumentSpec
}

func (e *NotFoundError) Error() string {
	tried := make([]string, len(e.Attempted))
	for i, s := range e.Attempted {
		tried[i] = s.String()
	}
	return fmt.Sprintf("contract not found, attempted: %s", strings.Join(tried, "; "))
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Resolver qualifies instrument specs against the venue. It caches nothing
// across calls; the quote and order paths share one Resolver so the
// contract traded is always the contract priced.
type Resolver struct {
	mgr    *gateway.Manager
	logger *log.Logger
}

// NewResolver creates a resolver on a connection manager. A nil logger
// defaults to stderr.
func NewResolver(mgr *gateway.Manager, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[contracts] ", log.LstdFlags)
	}
	return &Resolver{mgr: mgr, logger: logger}
}

type attempt struct {
	spec            models.InstrumentSpec
	rightCorrected  bool
	strikeCorrected bool
}

// Resolve converts a spec into exactly one QualifiedContract.
//
// Options walk a fallback ladder: the spec as given, then the opposite
// right (a wrong call/put guess is common upstream), then the
// integer-normalized strike for near-integer strikes (a float listing
// mismatch). Corrections are reported on the result and callers must treat
// the corrected values as authoritative. Stocks qualify in one attempt.
func (r *Resolver) Resolve(spec models.InstrumentSpec) (models.QualifiedContract, error) {
	if err := spec.Validate(); err != nil {
		return models.QualifiedContract{}, err
	}

	sess, err := r.mgr.Acquire()
	if err != nil {
		return models.QualifiedContract{}, err
	}

	attempts := ladder(spec)
	tried := make([]models.InstrumentSpec, 0, len(attempts))
	for _, a := range attempts {
		tried = append(tried, a.spec)

		resolved, qerr := sess.QualifyContract(gateway.ContractFromSpec(a.spec))
		if qerr != nil {
			continue
		}

		qc := models.QualifiedContract{
			ConID:           resolved.ConID,
			Spec:            resolved.Spec(),
			RightCorrected:  a.rightCorrected,
			StrikeCorrected: a.strikeCorrected,
		}
		if qc.Corrected() {
			r.logger.Printf("resolved %s with corrections (right=%v strike=%v): traded contract is %s",
				spec, a.rightCorrected, a.strikeCorrected, qc.Spec)
		}
		return qc, nil
	}

	return models.QualifiedContract{}, &NotFoundError{Attempted: tried}
}

// ladder builds the ordered attempt list for a spec.
func ladder(spec models.InstrumentSpec) []attempt {
	if spec.SecType != models.SecurityOption {
		return []attempt{{spec: spec}}
	}

	attempts := []attempt{{spec: spec}}

	flipped := spec
	flipped.Right = spec.Right.Opposite()
	attempts = append(attempts, attempt{spec: flipped, rightCorrected: true})

	if rounded := math.Round(spec.Strike); math.Abs(spec.Strike-rounded) < 1e-6 {
		normalized := spec
		normalized.Strike = rounded
		attempts = append(attempts, attempt{spec: normalized, strikeCorrected: true})
	}

	return attempts
}
