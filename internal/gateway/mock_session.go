package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/lmorandi/gateway_desk/internal/models"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// MockSession is a scripted Session for tests and paper mode. Behavior is
// injected per method; unset hooks return zero values. Subscribe and cancel
// calls are counted so tests can assert the strict pairing rule.
type MockSession struct {
	mu        sync.Mutex
	connected bool
	handler   ErrorHandler

	ConnectErr  error
	QualifyFunc func(Contract) (Contract, error)
	ChainFunc   func(Contract) ([]ChainParams, error)
	TickFunc    func(Contract, *Ticker)
	BarsFunc    func(HistoricalRequest) ([]models.Bar, error)
	PlaceFunc   func(Contract, Order) (int64, error)
	StatusFunc  func(int64) (OrderStatus, error)

	subscribes     int
	cancels        int
	marketDataType int
	placed         []PlacedOrder
	nextOrderID    int64
}

// PlacedOrder records one PlaceOrder call for assertions.
type PlacedOrder struct {
	Contract Contract
	Order    Order
}

var _ Session = (*MockSession)(nil)

// NewMockSession returns a session that accepts connections and records
// activity.
func NewMockSession() *MockSession {
	return &MockSession{}
}

func (m *MockSession) Connect(ctx context.Context, host string, port, clientID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockSession) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockSession) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// DropConnection simulates a socket drop without an explicit disconnect.
func (m *MockSession) DropConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockSession) SetErrorHandler(h ErrorHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// EmitError pushes a venue error through the registered handler, as the
// reader goroutine would.
func (m *MockSession) EmitError(e VenueError) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(e)
	}
}

func (m *MockSession) SetMarketDataType(dataType int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketDataType = dataType
	return nil
}

// MarketDataType reports the last value passed to SetMarketDataType.
func (m *MockSession) MarketDataType() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marketDataType
}

func (m *MockSession) QualifyContract(c Contract) (Contract, error) {
	if m.QualifyFunc != nil {
		return m.QualifyFunc(c)
	}
	c.ConID = 1
	return c, nil
}

func (m *MockSession) ChainParams(underlying Contract) ([]ChainParams, error) {
	if m.ChainFunc != nil {
		return m.ChainFunc(underlying)
	}
	return nil, nil
}

func (m *MockSession) SubscribeMarketData(c Contract, genericTicks string) (*Ticker, error) {
	m.mu.Lock()
	m.subscribes++
	m.mu.Unlock()

	t := newTicker(c, int64(m.SubscribeCount()))
	if m.TickFunc != nil {
		m.TickFunc(c, t)
	}
	return t, nil
}

func (m *MockSession) CancelMarketData(t *Ticker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	return nil
}

// SubscribeCount returns the number of SubscribeMarketData calls.
func (m *MockSession) SubscribeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribes
}

// CancelCount returns the number of CancelMarketData calls.
func (m *MockSession) CancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

func (m *MockSession) HistoricalBars(req HistoricalRequest) ([]models.Bar, error) {
	if m.BarsFunc != nil {
		return m.BarsFunc(req)
	}
	return nil, nil
}

func (m *MockSession) PlaceOrder(c Contract, o Order) (int64, error) {
	m.mu.Lock()
	m.placed = append(m.placed, PlacedOrder{Contract: c, Order: o})
	m.nextOrderID++
	id := m.nextOrderID
	m.mu.Unlock()

	if m.PlaceFunc != nil {
		return m.PlaceFunc(c, o)
	}
	return id, nil
}

// Placed returns a copy of the recorded orders.
func (m *MockSession) Placed() []PlacedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlacedOrder, len(m.placed))
	copy(out, m.placed)
	return out
}

func (m *MockSession) OrderStatus(orderID int64) (OrderStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(orderID)
	}
	return OrderStatus{OrderID: orderID, Status: StatusSubmitted}, nil
}

// ConnectedMock is a convenience for tests that need a ready manager.
func ConnectedMock() (*Manager, *MockSession) {
	s := NewMockSession()
	m := NewManager(s, discardLogger())
	if err := m.Connect(context.Background(), "localhost", 7497, 1, 0); err != nil {
		panic(fmt.Sprintf("mock connect failed: %v", err))
	}
	return m, s
}
