package execution

import (
	"context"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/internal/utils"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"go.uber.org/zap"
)

const (
	// BinanceDecimalPrecision is a default decimal precision used as a fallback.
	// 8 decimals allows for satoshi-level precision (0.00000001 BTC) for BTC-like assets.
	// Production systems should use symbol-specific precision from Binance exchange info (e.g. LOT_SIZE, PRICE_FILTER).
	BinanceDecimalPrecision = 8
)

// Service interfaces for mocking the Binance API

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// GetOrderService interface for querying a single order.
type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrigClientOrderID(id string) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

// OrderClient interface abstracts the Binance client for testing.
type OrderClient interface {
	NewCreateOrderService() CreateOrderService
	NewGetOrderService() GetOrderService
}

// realOrderClient wraps the actual binance.Client.
type realOrderClient struct {
	client *binance.Client
}

func (r *realOrderClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realOrderClient) NewGetOrderService() GetOrderService {
	return &realGetOrderService{service: r.client.NewGetOrderService()}
}

// Real service wrappers

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	s.service = s.service.NewClientOrderID(id)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetOrderService struct {
	service *binance.GetOrderService
}

func (s *realGetOrderService) Symbol(symbol string) GetOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realGetOrderService) OrigClientOrderID(id string) GetOrderService {
	s.service = s.service.OrigClientOrderID(id)

	return s
}

func (s *realGetOrderService) Do(ctx context.Context) (*binance.Order, error) {
	return s.service.Do(ctx)
}

// BinanceAdapter broadcasts market orders to Binance. The trade's own ID is
// used as the venue client order ID, so a resubmission while the original is
// still live finds the existing order instead of placing a second one.
// It is stateless - every poll is answered from the venue.
type BinanceAdapter struct {
	client OrderClient
	// quoteAsset is appended to asset codes to form the venue symbol.
	quoteAsset       string
	decimalPrecision int
	logger           *logger.Logger
}

var _ Adapter = (*BinanceAdapter)(nil)

// NewBinanceAdapter creates a Binance-backed execution adapter.
// If useTestnet is true, connects to Binance Testnet.
// If baseURL is set, it takes precedence over useTestnet.
func NewBinanceAdapter(apiKey, secretKey, baseURL, quoteAsset string, useTestnet bool, logger *logger.Logger) *BinanceAdapter {
	if useTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(apiKey, secretKey)

	if baseURL != "" {
		client.BaseURL = baseURL
	}

	return &BinanceAdapter{
		client:           &realOrderClient{client: client},
		quoteAsset:       quoteAsset,
		decimalPrecision: BinanceDecimalPrecision,
		logger:           logger,
	}
}

// newBinanceAdapterWithClient creates an adapter with a custom client.
// This is used for testing with mock clients.
func newBinanceAdapterWithClient(client OrderClient, quoteAsset string, logger *logger.Logger) *BinanceAdapter {
	return &BinanceAdapter{
		client:           client,
		quoteAsset:       quoteAsset,
		decimalPrecision: BinanceDecimalPrecision,
		logger:           logger,
	}
}

func (a *BinanceAdapter) symbol(asset string) string {
	return asset + a.quoteAsset
}

// Submit implements Adapter.
func (a *BinanceAdapter) Submit(ctx context.Context, trade types.Trade) (Handle, error) {
	symbol := a.symbol(trade.Asset)

	// On a retry the original order may still be live at the venue. Look it
	// up by client order ID before placing anything; re-broadcasting while
	// the original is pending would double-execute.
	if trade.Attempts > 1 {
		order, err := a.client.NewGetOrderService().
			Symbol(symbol).
			OrigClientOrderID(trade.ID).
			Do(ctx)
		if err == nil {
			a.logger.Info("resubmission found live order",
				zap.String("trade", trade.ID),
				zap.Int64("venue_order", order.OrderID))

			return Handle{
				ID:           trade.ID,
				VenueOrderID: strconv.FormatInt(order.OrderID, 10),
				Asset:        trade.Asset,
			}, nil
		}

		if !isUnknownOrder(err) {
			return Handle{}, classifyVenueError(err, "failed to look up order before resubmission")
		}
		// the original never reached the venue; safe to submit with the same client order ID
	}

	var side binance.SideType

	switch trade.Side {
	case types.TradeSideBuy:
		side = binance.SideTypeBuy
	case types.TradeSideSell:
		side = binance.SideTypeSell
	default:
		return Handle{}, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported trade side: %s", trade.Side)
	}

	roundedQuantity := utils.RoundToDecimalPrecision(trade.PlannedQuantity, a.decimalPrecision)
	if roundedQuantity <= 0 {
		return Handle{}, errors.Newf(errors.ErrCodeInvalidParameter,
			"quantity %.8f is too small after rounding to %d decimal places",
			trade.PlannedQuantity, a.decimalPrecision)
	}

	response, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(roundedQuantity, 'f', a.decimalPrecision, 64)).
		NewClientOrderID(trade.ID).
		Do(ctx)
	if err != nil {
		return Handle{}, classifyVenueError(err, "failed to place order")
	}

	return Handle{
		ID:           trade.ID,
		VenueOrderID: strconv.FormatInt(response.OrderID, 10),
		Asset:        trade.Asset,
	}, nil
}

// Poll implements Adapter.
func (a *BinanceAdapter) Poll(ctx context.Context, handle Handle) (Outcome, error) {
	order, err := a.client.NewGetOrderService().
		Symbol(a.symbol(handle.Asset)).
		OrigClientOrderID(handle.ID).
		Do(ctx)
	if err != nil {
		// an accepted order can lag the query endpoint briefly
		if isUnknownOrder(err) {
			return Outcome{}, errors.Wrapf(errors.ErrCodeAdapterTransient, err, "order %s not visible yet", handle.ID)
		}

		return Outcome{}, classifyVenueError(err, "failed to poll order")
	}

	switch order.Status {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled, binance.OrderStatusTypePendingCancel:
		return Outcome{
			Status:         OutcomeStatusPending,
			FilledQuantity: 0,
			FilledPrice:    0,
			Reason:         types.Reason{Reason: "", Message: ""},
		}, nil

	case binance.OrderStatusTypeFilled:
		executedQty, err := strconv.ParseFloat(order.ExecutedQuantity, 64)
		if err != nil {
			return Outcome{}, errors.Wrapf(errors.ErrCodeAdapterTransient, err, "failed to parse executed quantity %q", order.ExecutedQuantity)
		}

		quoteQty, err := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
		if err != nil {
			return Outcome{}, errors.Wrapf(errors.ErrCodeAdapterTransient, err, "failed to parse quote quantity %q", order.CummulativeQuoteQuantity)
		}

		if executedQty <= 0 {
			return Outcome{}, errors.Newf(errors.ErrCodeAdapterTransient, "filled order %s reports zero executed quantity", handle.ID)
		}

		return Outcome{
			Status:         OutcomeStatusConfirmed,
			FilledQuantity: executedQty,
			FilledPrice:    quoteQty / executedQty,
			Reason:         types.Reason{Reason: "", Message: ""},
		}, nil

	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return Outcome{
			Status:         OutcomeStatusRejected,
			FilledQuantity: 0,
			FilledPrice:    0,
			Reason: types.Reason{
				Reason:  "venue_" + string(order.Status),
				Message: "venue reports terminal status " + string(order.Status),
			},
		}, nil

	default:
		return Outcome{}, errors.Newf(errors.ErrCodeAdapterTransient, "unexpected order status %s", order.Status)
	}
}

// Close implements Adapter. The underlying HTTP client holds no resources.
func (a *BinanceAdapter) Close() error {
	return nil
}

// transientAPICodes are venue error codes worth retrying: rate limits,
// internal errors, timeouts, clock drift.
var transientAPICodes = map[int64]struct{}{
	-1000: {},
	-1001: {},
	-1003: {},
	-1007: {},
	-1021: {},
}

const unknownOrderCode = -2013

func isUnknownOrder(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == unknownOrderCode
	}

	return false
}

// classifyVenueError sorts a venue failure into the retryable or terminal
// bucket. Anything that never reached the venue's matching engine (network
// failures, rate limits) is transient; an explicit API refusal is terminal.
func classifyVenueError(err error, message string) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if _, ok := transientAPICodes[apiErr.Code]; ok {
			return errors.Wrap(errors.ErrCodeAdapterTransient, message, err)
		}

		return errors.Wrap(errors.ErrCodeAdapterRejected, message, err)
	}

	return errors.Wrap(errors.ErrCodeAdapterTransient, message, err)
}
