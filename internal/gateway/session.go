package gateway

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmorandi/gateway_desk/internal/models"
)

// Wire message codes. The protocol is the venue's: each message is a
// 4-byte big-endian length followed by NUL-terminated ASCII fields, the
// first field being the message code.
const (
	// outgoing
	msgReqMktData         = "1"
	msgCancelMktData      = "2"
	msgPlaceOrder         = "3"
	msgReqContractData    = "9"
	msgReqHistoricalData  = "20"
	msgReqMktDataType     = "59"
	msgStartAPI           = "71"
	msgReqSecDefOptParams = "78"

	// incoming
	msgInTickPrice         = "1"
	msgInOrderStatus       = "3"
	msgInErr               = "4"
	msgInNextValidID       = "9"
	msgInContractData      = "10"
	msgInHistoricalData    = "17"
	msgInTickGeneric       = "45"
	msgInContractDataEnd   = "52"
	msgInSecDefOptParam    = "75"
	msgInSecDefOptParamEnd = "76"
)

// Tick field ids carried by tick price/generic messages.
const (
	tickBid        = 1
	tickAsk        = 2
	tickLast       = 4
	tickHistVol    = 23
	tickOptionIV   = 24
	tickDelayedBid = 66
	tickDelayedAsk = 67
)

const clientVersion = "176"

// socketSession is the production Session: one TCP connection to the
// gateway, a reader goroutine that routes pushed frames to tickers, order
// state, and pending request/response waiters.
type socketSession struct {
	logger         *log.Logger
	requestTimeout time.Duration

	mu        sync.Mutex
	conn      net.Conn
	writer    *bufio.Writer
	done      chan struct{}
	handler   ErrorHandler
	pending   map[int64]*pendingReq
	tickers   map[int64]*Ticker
	orders    map[int64]*OrderStatus
	connected atomic.Bool

	reqSeq   atomic.Int64
	orderSeq atomic.Int64
}

type pendingReq struct {
	rows [][]string
	ch   chan error
}

// NewSocketSession builds the production session. requestTimeout bounds
// every request/response exchange; a nil logger defaults to stderr.
func NewSocketSession(logger *log.Logger, requestTimeout time.Duration) Session {
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &socketSession{
		logger:         logger,
		requestTimeout: requestTimeout,
	}
}

func (s *socketSession) Connect(ctx context.Context, host string, port, clientID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected.Load() {
		s.teardownLocked()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	s.conn = conn
	s.writer = bufio.NewWriter(conn)
	s.pending = make(map[int64]*pendingReq)
	s.tickers = make(map[int64]*Ticker)
	s.orders = make(map[int64]*OrderStatus)
	s.done = make(chan struct{})

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := s.handshakeLocked(clientID); err != nil {
		s.teardownLocked()
		if ctx.Err() != nil {
			return fmt.Errorf("gateway handshake: %w", ctx.Err())
		}
		return fmt.Errorf("gateway handshake: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	s.connected.Store(true)
	go s.readLoop(conn, s.done)
	return nil
}

// handshakeLocked performs the version exchange and API start, reading
// frames synchronously until the venue assigns the next valid order id.
func (s *socketSession) handshakeLocked(clientID int) error {
	if _, err := s.writer.WriteString("API\x00"); err != nil {
		return err
	}
	if err := s.writeFrameLocked("v100.." + clientVersion); err != nil {
		return err
	}

	// server version + connection time
	if _, err := s.readFrame(s.conn); err != nil {
		return err
	}

	if err := s.writeFieldsLocked(msgStartAPI, "2", strconv.Itoa(clientID), ""); err != nil {
		return err
	}

	for {
		fields, err := s.readFrame(s.conn)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			continue
		}
		if fields[0] == msgInNextValidID && len(fields) >= 3 {
			id, _ := strconv.ParseInt(fields[2], 10, 64)
			if id < 1 {
				id = 1
			}
			s.orderSeq.Store(id - 1)
			return nil
		}
		// Startup notices (farm status etc.) arrive before nextValidId.
		s.route(fields)
	}
}

func (s *socketSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *socketSession) teardownLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	for _, p := range s.pending {
		select {
		case p.ch <- io.ErrClosedPipe:
		default:
		}
	}
	s.pending = nil
	s.tickers = nil
	s.connected.Store(false)
}

func (s *socketSession) IsConnected() bool { return s.connected.Load() }

func (s *socketSession) SetErrorHandler(h ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *socketSession) SetMarketDataType(dataType int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected.Load() {
		return ErrNotConnected
	}
	return s.writeFieldsLocked(msgReqMktDataType, "1", strconv.Itoa(dataType))
}

// QualifyContract sends a contract-details request and waits for the first
// matching row. No rows means the venue lists no such contract.
func (s *socketSession) QualifyContract(c Contract) (Contract, error) {
	reqID, p, err := s.startRequest()
	if err != nil {
		return Contract{}, err
	}
	defer s.finishRequest(reqID)

	err = s.writeFields(msgReqContractData, "8", formatI64(reqID),
		"0", c.Symbol, string(c.SecType), c.Expiry, formatStrike(c.Strike),
		string(c.Right), "", c.Exchange, "", c.Currency, "", c.TradingClass,
		"0", "", "")
	if err != nil {
		return Contract{}, err
	}

	rows, err := s.await(p)
	if err != nil {
		return Contract{}, err
	}
	if len(rows) == 0 {
		return Contract{}, fmt.Errorf("no security definition for %s", c.Symbol)
	}
	return parseContractRow(c, rows[0]), nil
}

// parseContractRow fills the venue-resolved fields from a contract data
// frame: conId, resolved expiry/strike/right and trading class.
func parseContractRow(base Contract, f []string) Contract {
	out := base
	if len(f) > 8 {
		out.Expiry = f[4]
		if v, err := strconv.ParseFloat(f[5], 64); err == nil && v > 0 {
			out.Strike = v
		}
		if r := models.Right(f[6]); r.Valid() {
			out.Right = r
		}
		out.ConID, _ = strconv.ParseInt(f[7], 10, 64)
		out.TradingClass = f[8]
	}
	return out
}

func (s *socketSession) ChainParams(underlying Contract) ([]ChainParams, error) {
	reqID, p, err := s.startRequest()
	if err != nil {
		return nil, err
	}
	defer s.finishRequest(reqID)

	err = s.writeFields(msgReqSecDefOptParams, formatI64(reqID),
		underlying.Symbol, "", string(underlying.SecType), formatI64(underlying.ConID))
	if err != nil {
		return nil, err
	}

	rows, err := s.await(p)
	if err != nil {
		return nil, err
	}

	out := make([]ChainParams, 0, len(rows))
	for _, f := range rows {
		cp, ok := parseChainRow(f)
		if !ok {
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

// parseChainRow decodes one trading class: class, multiplier, expiration
// count + values, strike count + values.
func parseChainRow(f []string) (ChainParams, bool) {
	if len(f) < 4 {
		return ChainParams{}, false
	}
	cp := ChainParams{TradingClass: f[1], Multiplier: f[2]}
	i := 3
	n, err := strconv.Atoi(f[i])
	if err != nil || i+n >= len(f) {
		return ChainParams{}, false
	}
	i++
	cp.Expirations = append(cp.Expirations, f[i:i+n]...)
	i += n
	m, err := strconv.Atoi(f[i])
	if err != nil || i+m >= len(f) {
		return ChainParams{}, false
	}
	i++
	for _, sv := range f[i : i+m] {
		if v, err := strconv.ParseFloat(sv, 64); err == nil {
			cp.Strikes = append(cp.Strikes, v)
		}
	}
	return cp, true
}

func (s *socketSession) SubscribeMarketData(c Contract, genericTicks string) (*Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected.Load() {
		return nil, ErrNotConnected
	}

	reqID := s.reqSeq.Add(1)
	t := newTicker(c, reqID)
	s.tickers[reqID] = t

	err := s.writeFieldsLocked(msgReqMktData, "11", formatI64(reqID),
		formatI64(c.ConID), c.Symbol, string(c.SecType), c.Expiry,
		formatStrike(c.Strike), string(c.Right), "", c.Exchange, "",
		c.Currency, "", c.TradingClass, genericTicks, "0", "0", "")
	if err != nil {
		delete(s.tickers, reqID)
		return nil, err
	}
	return t, nil
}

func (s *socketSession) CancelMarketData(t *Ticker) error {
	if t == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickers != nil {
		delete(s.tickers, t.reqID)
	}
	if !s.connected.Load() {
		return nil
	}
	return s.writeFieldsLocked(msgCancelMktData, "2", formatI64(t.reqID))
}

func (s *socketSession) HistoricalBars(req HistoricalRequest) ([]models.Bar, error) {
	reqID, p, err := s.startRequest()
	if err != nil {
		return nil, err
	}
	defer s.finishRequest(reqID)

	rth := "0"
	if req.UseRTH {
		rth = "1"
	}
	c := req.Contract
	err = s.writeFields(msgReqHistoricalData, formatI64(reqID),
		formatI64(c.ConID), c.Symbol, string(c.SecType), c.Expiry,
		formatStrike(c.Strike), string(c.Right), "", c.Exchange, "",
		c.Currency, "", "", req.Duration, req.BarSize, req.WhatToShow,
		rth, "2", "")
	if err != nil {
		return nil, err
	}

	rows, err := s.await(p)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return parseHistoricalRow(rows[0]), nil
}

// parseHistoricalRow decodes the single historical-data frame: reqId, bar
// count, then 6 fields per bar (epoch, O, H, L, C, V).
func parseHistoricalRow(f []string) []models.Bar {
	if len(f) < 3 {
		return nil
	}
	n, err := strconv.Atoi(f[2])
	if err != nil || n <= 0 {
		return nil
	}
	bars := make([]models.Bar, 0, n)
	i := 3
	for b := 0; b < n && i+5 < len(f); b++ {
		epoch, _ := strconv.ParseInt(f[i], 10, 64)
		open, _ := strconv.ParseFloat(f[i+1], 64)
		high, _ := strconv.ParseFloat(f[i+2], 64)
		low, _ := strconv.ParseFloat(f[i+3], 64)
		cl, _ := strconv.ParseFloat(f[i+4], 64)
		vol, _ := strconv.ParseInt(f[i+5], 10, 64)
		bars = append(bars, models.Bar{
			Time: time.Unix(epoch, 0).UTC(),
			Open: open, High: high, Low: low, Close: cl, Volume: vol,
		})
		i += 6
	}
	return bars
}

func (s *socketSession) PlaceOrder(c Contract, o Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected.Load() {
		return 0, ErrNotConnected
	}

	orderID := s.orderSeq.Add(1)
	fields := []string{msgPlaceOrder, "45", formatI64(orderID),
		formatI64(c.ConID), c.Symbol, string(c.SecType), c.Expiry,
		formatStrike(c.Strike), string(c.Right), "", c.Exchange, "",
		c.Currency, "", c.TradingClass,
		string(o.Action), strconv.Itoa(o.TotalQuantity), string(o.OrderType),
		formatPrice(o.LimitPrice), o.Tag,
		strconv.Itoa(len(c.ComboLegs))}
	for _, leg := range c.ComboLegs {
		fields = append(fields, formatI64(leg.ConID), strconv.Itoa(leg.Ratio),
			string(leg.Action), leg.Exchange)
	}

	if err := s.writeFieldsLocked(fields...); err != nil {
		return 0, err
	}
	s.orders[orderID] = &OrderStatus{OrderID: orderID, Status: StatusPendingSubmit}
	return orderID, nil
}

func (s *socketSession) OrderStatus(orderID int64) (OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.orders[orderID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("unknown order id %d", orderID)
	}
	out := *st
	out.LogLines = append([]string(nil), st.LogLines...)
	return out, nil
}

// --- framing and routing ---

func (s *socketSession) writeFields(fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected.Load() {
		return ErrNotConnected
	}
	return s.writeFieldsLocked(fields...)
}

func (s *socketSession) writeFieldsLocked(fields ...string) error {
	return s.writeFrameLocked(strings.Join(fields, "\x00") + "\x00")
}

func (s *socketSession) writeFrameLocked(payload string) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := s.writer.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := s.writer.WriteString(payload); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *socketSession) readFrame(r io.Reader) ([]string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > 1<<20 {
		return nil, fmt.Errorf("bad frame length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSuffix(string(buf), "\x00"), "\x00"), nil
}

func (s *socketSession) readLoop(conn net.Conn, done chan struct{}) {
	for {
		fields, err := s.readFrame(conn)
		if err != nil {
			select {
			case <-done:
			default:
				s.logger.Printf("read loop terminated: %v", err)
				s.connected.Store(false)
			}
			return
		}
		if len(fields) > 0 {
			s.route(fields)
		}
	}
}

func (s *socketSession) route(f []string) {
	switch f[0] {
	case msgInTickPrice, msgInTickGeneric:
		s.routeTick(f)
	case msgInErr:
		s.routeError(f)
	case msgInOrderStatus:
		s.routeOrderStatus(f)
	case msgInContractData, msgInSecDefOptParam, msgInHistoricalData:
		s.routePendingRow(f, false)
	case msgInContractDataEnd, msgInSecDefOptParamEnd:
		s.routePendingRow(f, true)
	default:
		// unhandled push types are venue noise for this subsystem
	}
}

// tick frames: code, version, reqId, tickType, value
func (s *socketSession) routeTick(f []string) {
	if len(f) < 5 {
		return
	}
	reqID, _ := strconv.ParseInt(f[2], 10, 64)
	tickType, _ := strconv.Atoi(f[3])
	value, err := strconv.ParseFloat(f[4], 64)
	if err != nil {
		return
	}

	s.mu.Lock()
	t := s.tickers[reqID]
	s.mu.Unlock()
	if t == nil {
		return
	}

	switch tickType {
	case tickBid, tickDelayedBid:
		t.SetBidAsk(value, t.Ask())
	case tickAsk, tickDelayedAsk:
		t.SetBidAsk(t.Bid(), value)
	case tickLast:
		t.SetLast(value)
	case tickOptionIV:
		t.SetVols(value, t.HistVol())
	case tickHistVol:
		t.SetVols(t.ImpliedVol(), value)
	}
}

// error frames: code, version, reqId, errorCode, message
func (s *socketSession) routeError(f []string) {
	if len(f) < 5 {
		return
	}
	reqID, _ := strconv.ParseInt(f[2], 10, 64)
	code, _ := strconv.Atoi(f[3])
	ve := VenueError{Code: code, Message: f[4], ReqID: reqID}

	s.mu.Lock()
	if st, ok := s.orders[reqID]; ok {
		st.LogLines = append(st.LogLines, fmt.Sprintf("%d: %s", code, f[4]))
	}
	if p, ok := s.pending[reqID]; ok && !informationalCodes[code] {
		select {
		case p.ch <- ve:
		default:
		}
	}
	h := s.handler
	s.mu.Unlock()

	if h != nil {
		h(ve)
	}
}

// order status frames: code, orderId, status, filled, remaining, avgPrice
func (s *socketSession) routeOrderStatus(f []string) {
	if len(f) < 6 {
		return
	}
	orderID, _ := strconv.ParseInt(f[1], 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.orders[orderID]
	if !ok {
		return
	}
	st.Status = f[2]
	st.Filled, _ = strconv.ParseFloat(f[3], 64)
	st.Remaining, _ = strconv.ParseFloat(f[4], 64)
	st.AvgPrice, _ = strconv.ParseFloat(f[5], 64)
}

// routePendingRow appends a response row to its waiter; end frames complete
// the request. Contract data carries the reqId in field 2, end frames and
// chain/historical frames in field 1.
func (s *socketSession) routePendingRow(f []string, end bool) {
	reqID := pendingReqID(f)

	s.mu.Lock()
	p, ok := s.pending[reqID]
	if ok && !end {
		p.rows = append(p.rows, f)
	}
	// historical data arrives as a single self-terminating frame
	if f[0] == msgInHistoricalData {
		end = true
	}
	s.mu.Unlock()

	if ok && end {
		select {
		case p.ch <- nil:
		default:
		}
	}
}

func pendingReqID(f []string) int64 {
	idx := 1
	if f[0] == msgInContractData || f[0] == msgInContractDataEnd {
		idx = 2
	}
	if len(f) <= idx {
		return 0
	}
	id, _ := strconv.ParseInt(f[idx], 10, 64)
	return id
}

func (s *socketSession) startRequest() (int64, *pendingReq, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected.Load() {
		return 0, nil, ErrNotConnected
	}
	reqID := s.reqSeq.Add(1)
	p := &pendingReq{ch: make(chan error, 1)}
	s.pending[reqID] = p
	return reqID, p, nil
}

func (s *socketSession) finishRequest(reqID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		delete(s.pending, reqID)
	}
}

func (s *socketSession) await(p *pendingReq) ([][]string, error) {
	select {
	case err := <-p.ch:
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		rows := p.rows
		s.mu.Unlock()
		return rows, nil
	case <-time.After(s.requestTimeout):
		return nil, fmt.Errorf("gateway request timed out after %s", s.requestTimeout)
	}
}

func formatI64(v int64) string { return strconv.FormatInt(v, 10) }

func formatStrike(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatPrice(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
