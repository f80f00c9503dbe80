package pricing

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"go.uber.org/zap"
)

// Service interfaces for mocking the Binance API

// ListBookTickersService interface for reading best bid/ask.
type ListBookTickersService interface {
	Symbol(symbol string) ListBookTickersService
	Do(ctx context.Context) ([]*binance.BookTicker, error)
}

// QuoteClient interface abstracts the Binance client for testing.
type QuoteClient interface {
	NewListBookTickersService() ListBookTickersService
}

// realQuoteClient wraps the actual binance.Client.
type realQuoteClient struct {
	client *binance.Client
}

func (r *realQuoteClient) NewListBookTickersService() ListBookTickersService {
	return &realListBookTickersService{service: r.client.NewListBookTickersService()}
}

type realListBookTickersService struct {
	service *binance.ListBookTickersService
}

func (s *realListBookTickersService) Symbol(symbol string) ListBookTickersService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListBookTickersService) Do(ctx context.Context) ([]*binance.BookTicker, error) {
	return s.service.Do(ctx)
}

// LiveProvider quotes live prices from the Binance order book. The price is
// the bid/ask midpoint; the liquidity is the smaller of the two top-of-book
// quantities. It is stateless - every quote is fetched fresh from the API.
type LiveProvider struct {
	client QuoteClient
	// quoteAsset is appended to asset codes to form the venue symbol, e.g.
	// asset BTC with quote asset USDT trades as BTCUSDT.
	quoteAsset string
	logger     *logger.Logger
}

var _ Provider = (*LiveProvider)(nil)

// NewLiveProvider creates a Binance-backed pricing provider.
// If useTestnet is true, connects to Binance Testnet.
// If baseURL is set, it takes precedence over useTestnet.
func NewLiveProvider(apiKey, secretKey, baseURL, quoteAsset string, useTestnet bool, logger *logger.Logger) *LiveProvider {
	if useTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(apiKey, secretKey)

	if baseURL != "" {
		client.BaseURL = baseURL
	}

	return &LiveProvider{
		client:     &realQuoteClient{client: client},
		quoteAsset: quoteAsset,
		logger:     logger,
	}
}

// newLiveProviderWithClient creates a live provider with a custom client.
// This is used for testing with mock clients.
func newLiveProviderWithClient(client QuoteClient, quoteAsset string, logger *logger.Logger) *LiveProvider {
	return &LiveProvider{
		client:     client,
		quoteAsset: quoteAsset,
		logger:     logger,
	}
}

// Quote implements Provider.
func (p *LiveProvider) Quote(ctx context.Context, asset string, at time.Time) (types.Quote, error) {
	symbol := asset + p.quoteAsset

	tickers, err := p.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return types.Quote{}, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err, "failed to fetch book ticker for %s", symbol)
	}

	if len(tickers) == 0 {
		return types.Quote{}, errors.Newf(errors.ErrCodeNoLiquidity, "no book ticker for %s", symbol)
	}

	ticker := tickers[0]

	bidPrice, err := parsePrice(ticker.BidPrice, "bid price")
	if err != nil {
		return types.Quote{}, err
	}

	askPrice, err := parsePrice(ticker.AskPrice, "ask price")
	if err != nil {
		return types.Quote{}, err
	}

	bidQty, err := parsePrice(ticker.BidQuantity, "bid quantity")
	if err != nil {
		return types.Quote{}, err
	}

	askQty, err := parsePrice(ticker.AskQuantity, "ask quantity")
	if err != nil {
		return types.Quote{}, err
	}

	if bidPrice <= 0 || askPrice <= 0 {
		return types.Quote{}, errors.Newf(errors.ErrCodeNoLiquidity, "empty book for %s", symbol)
	}

	liquidity := bidQty
	if askQty < liquidity {
		liquidity = askQty
	}

	if liquidity <= 0 {
		return types.Quote{}, errors.Newf(errors.ErrCodeNoLiquidity, "no size at top of book for %s", symbol)
	}

	price := (bidPrice + askPrice) / 2

	p.logger.Debug("live quote",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Float64("liquidity", liquidity))

	return types.Quote{
		Asset:     asset,
		Price:     price,
		Liquidity: liquidity,
		Time:      at,
	}, nil
}

// Close implements Provider. The underlying HTTP client holds no resources.
func (p *LiveProvider) Close() error {
	return nil
}

func parsePrice(value, field string) (float64, error) {
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err, "failed to parse %s %q", field, value)
	}

	return parsed, nil
}
