// Package mockvenue provides a mock Binance venue for end-to-end tests.
// It implements the REST endpoints the live engine components depend on:
// book ticker quotes, market order placement, order lookup by client order
// ID, and account balances. Failures are answered with Binance-style error
// bodies so SDK clients surface typed API errors with real codes.
package mockvenue

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Binance API error codes the venue answers with.
const (
	codeInternalError  = -1001
	codeMalformedParam = -1102
	codeInvalidSymbol  = -1121
	codeOrderRejected  = -2010
	codeUnknownOrder   = -2013
)

// Server is a mock Binance venue. It quotes a configurable top of book,
// fills market orders instantly against it, and keys every order by client
// order ID so idempotent resubmission can be exercised.
type Server struct {
	mu sync.RWMutex

	// HTTP server
	httpServer *http.Server
	listener   net.Listener

	// Account state
	balances   map[string]*Balance
	orders     map[string]*Order
	orderIDSeq int64

	// Top of book
	prices    map[string]float64
	spread    float64
	bookDepth float64

	// Failure injection
	failNextOrders int
	down           bool
}

// Balance represents an account balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// OrderStatus represents the status of an order.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusExpired  OrderStatus = "EXPIRED"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Order represents an order the venue accepted.
type Order struct {
	ClientOrderID string
	OrderID       int64
	Symbol        string
	Side          OrderSide
	Quantity      float64
	Price         float64
	Status        OrderStatus
	CreatedAt     time.Time
	ExecutedQty   float64
	QuoteQty      float64
}

// VenueConfig holds the initial state of the mock venue.
type VenueConfig struct {
	// InitialBalances maps asset to initial free balance.
	InitialBalances map[string]float64
	// InitialPrices maps venue symbol to the starting price.
	InitialPrices map[string]float64
	// Spread is the fractional bid/ask spread around the price. Zero quotes
	// bid equal to ask.
	Spread float64
	// BookDepth is the quantity quoted on both sides of the top of book.
	BookDepth float64
}

// NewServer creates a mock venue with the given balances and prices.
func NewServer(config VenueConfig) *Server {
	server := &Server{
		mu:             sync.RWMutex{},
		httpServer:     nil,
		listener:       nil,
		balances:       make(map[string]*Balance),
		orders:         make(map[string]*Order),
		orderIDSeq:     1000,
		prices:         make(map[string]float64),
		spread:         config.Spread,
		bookDepth:      config.BookDepth,
		failNextOrders: 0,
		down:           false,
	}

	for asset, amount := range config.InitialBalances {
		server.balances[asset] = &Balance{Asset: asset, Free: amount, Locked: 0}
	}

	for symbol, price := range config.InitialPrices {
		server.prices[symbol] = price
	}

	if server.bookDepth == 0 {
		server.bookDepth = 1000
	}

	return server
}

// Start starts the mock venue on the given address.
// If address is empty or ":0", a random available port is used.
func (s *Server) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.listener = listener

	router := mux.NewRouter()
	router.HandleFunc("/api/v3/ticker/bookTicker", s.handleBookTicker).Methods("GET")
	router.HandleFunc("/api/v3/order", s.handleCreateOrder).Methods("POST")
	router.HandleFunc("/api/v3/order", s.handleGetOrder).Methods("GET")
	router.HandleFunc("/api/v3/account", s.handleAccount).Methods("GET")

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()

	return nil
}

// Stop stops the mock venue.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Address returns the address the venue is listening on.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// BaseURL returns the base URL for the venue.
func (s *Server) BaseURL() string {
	return "http://" + s.Address()
}

// SetPrice sets the current price for a symbol.
func (s *Server) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// GetPrice returns the current price for a symbol.
func (s *Server) GetPrice(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.prices[symbol]
}

// GetBalance returns a copy of the balance for an asset, or nil.
func (s *Server) GetBalance(asset string) *Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bal, ok := s.balances[asset]; ok {
		return &Balance{Asset: bal.Asset, Free: bal.Free, Locked: bal.Locked}
	}

	return nil
}

// SetBalance sets the balance for an asset.
func (s *Server) SetBalance(asset string, free, locked float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[asset] = &Balance{Asset: asset, Free: free, Locked: locked}
}

// GetOrder returns a copy of the order submitted under clientOrderID, or nil.
func (s *Server) GetOrder(clientOrderID string) *Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if order, ok := s.orders[clientOrderID]; ok {
		copied := *order

		return &copied
	}

	return nil
}

// OrderCount returns the number of orders the venue accepted.
func (s *Server) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.orders)
}

// FailOrders makes the next n order placements fail with a retryable
// internal error.
func (s *Server) FailOrders(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextOrders = n
}

// SetDown simulates a venue outage. While down every endpoint answers with a
// retryable internal error; the test hooks keep working.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *Server) isDown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.down
}

// splitSymbol parses a venue symbol into base and quote assets.
func splitSymbol(symbol string) (string, string) {
	quoteAssets := []string{"USDT", "BUSD", "BTC", "ETH", "BNB"}
	for _, quote := range quoteAssets {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote), quote
		}
	}

	return symbol[:len(symbol)/2], symbol[len(symbol)/2:]
}

// writeAPIError writes a Binance-style error body so SDK clients surface a
// typed APIError carrying the given code.
func writeAPIError(w http.ResponseWriter, status int, code int64, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code": code,
		"msg":  message,
	})
}

func writeVenueDown(w http.ResponseWriter) {
	writeAPIError(w, http.StatusServiceUnavailable, codeInternalError, "Internal error; unable to process your request.")
}

// REST API Handlers

// handleBookTicker handles GET /api/v3/ticker/bookTicker
func (s *Server) handleBookTicker(w http.ResponseWriter, r *http.Request) {
	if s.isDown() {
		writeVenueDown(w)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeAPIError(w, http.StatusBadRequest, codeMalformedParam, "Param 'symbol' was empty.")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[symbol]
	if !ok {
		writeAPIError(w, http.StatusBadRequest, codeInvalidSymbol, "Invalid symbol.")
		return
	}

	halfSpread := s.spread / 2

	// With a symbol filter Binance answers a single object, not a list; the
	// client SDK accepts both.
	response := map[string]interface{}{
		"symbol":   symbol,
		"bidPrice": strconv.FormatFloat(price*(1-halfSpread), 'f', 8, 64),
		"bidQty":   strconv.FormatFloat(s.bookDepth, 'f', 8, 64),
		"askPrice": strconv.FormatFloat(price*(1+halfSpread), 'f', 8, 64),
		"askQty":   strconv.FormatFloat(s.bookDepth, 'f', 8, 64),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCreateOrder handles POST /api/v3/order
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if s.isDown() {
		writeVenueDown(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeAPIError(w, http.StatusBadRequest, codeMalformedParam, "Failed to parse request parameters.")
		return
	}

	symbol := r.FormValue("symbol")
	side := OrderSide(r.FormValue("side"))
	orderType := r.FormValue("type")
	quantityStr := r.FormValue("quantity")
	clientOrderID := r.FormValue("newClientOrderId")

	if symbol == "" || side == "" || orderType == "" || quantityStr == "" || clientOrderID == "" {
		writeAPIError(w, http.StatusBadRequest, codeMalformedParam, "Mandatory parameter was not sent, was empty/null, or malformed.")
		return
	}

	quantity, err := strconv.ParseFloat(quantityStr, 64)
	if err != nil || quantity <= 0 {
		writeAPIError(w, http.StatusBadRequest, codeMalformedParam, "Illegal characters found in parameter 'quantity'.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNextOrders > 0 {
		s.failNextOrders--
		writeVenueDown(w)

		return
	}

	if _, exists := s.orders[clientOrderID]; exists {
		writeAPIError(w, http.StatusBadRequest, codeOrderRejected, "Duplicate order sent.")
		return
	}

	price, ok := s.prices[symbol]
	if !ok {
		writeAPIError(w, http.StatusBadRequest, codeInvalidSymbol, "Invalid symbol.")
		return
	}

	// Market orders cross the spread: buys lift the ask, sells hit the bid.
	halfSpread := s.spread / 2

	execPrice := price * (1 + halfSpread)
	if side == OrderSideSell {
		execPrice = price * (1 - halfSpread)
	}

	base, quote := splitSymbol(symbol)
	cost := execPrice * quantity

	if side == OrderSideBuy {
		quoteBal := s.balances[quote]
		if quoteBal == nil || quoteBal.Free < cost {
			writeAPIError(w, http.StatusBadRequest, codeOrderRejected, "Account has insufficient balance for requested action.")
			return
		}

		quoteBal.Free -= cost

		baseBal, ok := s.balances[base]
		if !ok {
			baseBal = &Balance{Asset: base, Free: 0, Locked: 0}
			s.balances[base] = baseBal
		}

		baseBal.Free += quantity
	} else {
		baseBal := s.balances[base]
		if baseBal == nil || baseBal.Free < quantity {
			writeAPIError(w, http.StatusBadRequest, codeOrderRejected, "Account has insufficient balance for requested action.")
			return
		}

		baseBal.Free -= quantity

		quoteBal, ok := s.balances[quote]
		if !ok {
			quoteBal = &Balance{Asset: quote, Free: 0, Locked: 0}
			s.balances[quote] = quoteBal
		}

		quoteBal.Free += cost
	}

	s.orderIDSeq++
	order := &Order{
		ClientOrderID: clientOrderID,
		OrderID:       s.orderIDSeq,
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		Price:         execPrice,
		Status:        OrderStatusFilled,
		CreatedAt:     time.Now(),
		ExecutedQty:   quantity,
		QuoteQty:      cost,
	}
	s.orders[clientOrderID] = order

	response := map[string]interface{}{
		"symbol":              symbol,
		"orderId":             order.OrderID,
		"orderListId":         -1,
		"clientOrderId":       clientOrderID,
		"transactTime":        time.Now().UnixMilli(),
		"price":               strconv.FormatFloat(execPrice, 'f', 8, 64),
		"origQty":             strconv.FormatFloat(quantity, 'f', 8, 64),
		"executedQty":         strconv.FormatFloat(order.ExecutedQty, 'f', 8, 64),
		"cummulativeQuoteQty": strconv.FormatFloat(order.QuoteQty, 'f', 8, 64),
		"status":              string(order.Status),
		"timeInForce":         "GTC",
		"type":                orderType,
		"side":                string(side),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleGetOrder handles GET /api/v3/order
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if s.isDown() {
		writeVenueDown(w)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	clientOrderID := r.URL.Query().Get("origClientOrderId")

	if symbol == "" || clientOrderID == "" {
		writeAPIError(w, http.StatusBadRequest, codeMalformedParam, "Mandatory parameter was not sent, was empty/null, or malformed.")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[clientOrderID]
	if !ok || order.Symbol != symbol {
		writeAPIError(w, http.StatusBadRequest, codeUnknownOrder, "Order does not exist.")
		return
	}

	response := map[string]interface{}{
		"symbol":              order.Symbol,
		"orderId":             order.OrderID,
		"orderListId":         -1,
		"clientOrderId":       order.ClientOrderID,
		"price":               strconv.FormatFloat(order.Price, 'f', 8, 64),
		"origQty":             strconv.FormatFloat(order.Quantity, 'f', 8, 64),
		"executedQty":         strconv.FormatFloat(order.ExecutedQty, 'f', 8, 64),
		"cummulativeQuoteQty": strconv.FormatFloat(order.QuoteQty, 'f', 8, 64),
		"status":              string(order.Status),
		"timeInForce":         "GTC",
		"type":                "MARKET",
		"side":                string(order.Side),
		"stopPrice":           "0.00000000",
		"icebergQty":          "0.00000000",
		"time":                order.CreatedAt.UnixMilli(),
		"updateTime":          order.CreatedAt.UnixMilli(),
		"isWorking":           false,
		"origQuoteOrderQty":   "0.00000000",
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleAccount handles GET /api/v3/account
func (s *Server) handleAccount(w http.ResponseWriter, _ *http.Request) {
	if s.isDown() {
		writeVenueDown(w)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type balanceResponse struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	}

	var balances []balanceResponse
	for _, bal := range s.balances {
		balances = append(balances, balanceResponse{
			Asset:  bal.Asset,
			Free:   strconv.FormatFloat(bal.Free, 'f', 8, 64),
			Locked: strconv.FormatFloat(bal.Locked, 'f', 8, 64),
		})
	}

	response := map[string]interface{}{
		"makerCommission":  10,
		"takerCommission":  10,
		"buyerCommission":  0,
		"sellerCommission": 0,
		"canTrade":         true,
		"canWithdraw":      true,
		"canDeposit":       true,
		"updateTime":       time.Now().UnixMilli(),
		"accountType":      "SPOT",
		"balances":         balances,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
