package contracts

import (
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmorandi/gateway_desk/internal/gateway"
	"github.com/lmorandi/gateway_desk/internal/models"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// qualifyOnly accepts exactly the listed contracts, keyed by expiry, strike
// and right, and rejects everything else.
func qualifyOnly(listed ...models.InstrumentSpec) func(gateway.Contract) (gateway.Contract, error) {
	return func(c gateway.Contract) (gateway.Contract, error) {
		for i, l := range listed {
			if c.Symbol == l.Symbol && c.Expiry == l.Expiry && c.Strike == l.Strike && c.Right == l.Right {
				c.ConID = int64(1000 + i)
				return c, nil
			}
		}
		return gateway.Contract{}, errors.New("no security definition")
	}
}

func TestResolveExactMatch(t *testing.T) {
	mgr, sess := gateway.ConnectedMock()
	put := models.OptionSpec("AAPL", "20250620", 150, models.RightPut)
	sess.QualifyFunc = qualifyOnly(put)

	qc, err := NewResolver(mgr, testLogger()).Resolve(put)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), qc.ConID)
	assert.Equal(t, models.RightPut, qc.Spec.Right)
	assert.False(t, qc.Corrected())
}

func TestResolveFlipsRight(t *testing.T) {
	mgr, sess := gateway.ConnectedMock()
	// Only the 150C exists; caller asks for the 150P.
	call := models.OptionSpec("AAPL", "20250620", 150, models.RightCall)
	sess.QualifyFunc = qualifyOnly(call)

	qc, err := NewResolver(mgr, testLogger()).Resolve(
		models.OptionSpec("AAPL", "20250620", 150, models.RightPut))
	require.NoError(t, err)
	assert.Equal(t, models.RightCall, qc.Spec.Right, "corrected right is authoritative")
	assert.True(t, qc.RightCorrected)
	assert.False(t, qc.StrikeCorrected)
}

func TestResolveNormalizesStrike(t *testing.T) {
	mgr, sess := gateway.ConnectedMock()
	listed := models.OptionSpec("TSLA", "20250620", 250, models.RightCall)
	sess.QualifyFunc = qualifyOnly(listed)

	// Upstream float noise: 249.9999999 is not listed, 250 is.
	qc, err := NewResolver(mgr, testLogger()).Resolve(
		models.OptionSpec("TSLA", "20250620", 249.9999999, models.RightCall))
	require.NoError(t, err)
	assert.Equal(t, 250.0, qc.Spec.Strike)
	assert.True(t, qc.StrikeCorrected)
	assert.False(t, qc.RightCorrected)
}

func TestResolveNotFoundCarriesAttempts(t *testing.T) {
	mgr, sess := gateway.ConnectedMock()
	sess.QualifyFunc = qualifyOnly() // nothing listed

	_, err := NewResolver(mgr, testLogger()).Resolve(
		models.OptionSpec("AAPL", "20250620", 150, models.RightPut))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	require.Len(t, nfe.Attempted, 3, "exact, flipped right, normalized strike")
	assert.Equal(t, models.RightPut, nfe.Attempted[0].Right)
	assert.Equal(t, models.RightCall, nfe.Attempted[1].Right)
}

func TestResolveFractionalStrikeSkipsIntegerRung(t *testing.T) {
	mgr, sess := gateway.ConnectedMock()
	sess.QualifyFunc = qualifyOnly()

	_, err := NewResolver(mgr, testLogger()).Resolve(
		models.OptionSpec("SPY", "20250620", 452.5, models.RightCall))
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Len(t, nfe.Attempted, 2, "a genuinely fractional strike must not be rounded to a different contract")
}

func TestResolveStock(t *testing.T) {
	mgr, sess := gateway.ConnectedMock()
	stock := models.StockSpec("AAPL")
	sess.QualifyFunc = qualifyOnly(stock)

	qc, err := NewResolver(mgr, testLogger()).Resolve(stock)
	require.NoError(t, err)
	assert.Equal(t, models.SecurityStock, qc.Spec.SecType)
	assert.False(t, qc.Corrected())

	sess.QualifyFunc = qualifyOnly()
	_, err = NewResolver(mgr, testLogger()).Resolve(models.StockSpec("ZZZZ"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveInvalidSpec(t *testing.T) {
	mgr, _ := gateway.ConnectedMock()

	_, err := NewResolver(mgr, testLogger()).Resolve(models.InstrumentSpec{SecType: models.SecurityOption})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound, "validation failures are not resolution failures")
}

func TestResolveRequiresConnection(t *testing.T) {
	mgr := gateway.NewManager(gateway.NewMockSession(), testLogger())

	_, err := NewResolver(mgr, testLogger()).Resolve(models.StockSpec("AAPL"))
	assert.ErrorIs(t, err, gateway.ErrNotConnected)
}
