package reconcile

import (
	"context"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"github.com/pyxis-lab/pyxis-executor/pkg/errors"
	"github.com/shopspring/decimal"
)

// GetAccountService interface for getting account information.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// AccountClient interface abstracts the Binance client for testing.
type AccountClient interface {
	NewGetAccountService() GetAccountService
}

type realAccountClient struct {
	client *binance.Client
}

func (r *realAccountClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

// BinanceBalanceSource reads spot balances from the Binance account endpoint.
// Free and locked quantities are summed; an order resting at the venue is
// still owned.
type BinanceBalanceSource struct {
	client AccountClient
	logger *logger.Logger
}

var _ BalanceSource = (*BinanceBalanceSource)(nil)

// NewBinanceBalanceSource creates a Binance-backed balance source.
// If useTestnet is true, connects to Binance Testnet.
// If baseURL is set, it takes precedence over useTestnet.
func NewBinanceBalanceSource(apiKey, secretKey, baseURL string, useTestnet bool, logger *logger.Logger) *BinanceBalanceSource {
	if useTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(apiKey, secretKey)

	if baseURL != "" {
		client.BaseURL = baseURL
	}

	return &BinanceBalanceSource{
		client: &realAccountClient{client: client},
		logger: logger,
	}
}

// newBinanceBalanceSourceWithClient creates a source with a custom client.
// This is used for testing with mock clients.
func newBinanceBalanceSourceWithClient(client AccountClient, logger *logger.Logger) *BinanceBalanceSource {
	return &BinanceBalanceSource{
		client: client,
		logger: logger,
	}
}

// Balances implements BalanceSource. Zero balances are dropped.
func (s *BinanceBalanceSource) Balances(ctx context.Context) ([]types.Balance, error) {
	account, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAdapterTransient, "failed to fetch account balances", err)
	}

	balances := make([]types.Balance, 0, len(account.Balances))

	for _, balance := range account.Balances {
		free, err := strconv.ParseFloat(balance.Free, 64)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeAdapterTransient, err, "failed to parse free balance %q for %s", balance.Free, balance.Asset)
		}

		locked, err := strconv.ParseFloat(balance.Locked, 64)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeAdapterTransient, err, "failed to parse locked balance %q for %s", balance.Locked, balance.Asset)
		}

		total, _ := decimal.NewFromFloat(free).Add(decimal.NewFromFloat(locked)).Float64()
		if total == 0 {
			continue
		}

		balances = append(balances, types.Balance{
			Asset:    balance.Asset,
			Quantity: total,
		})
	}

	return balances, nil
}

// Close implements BalanceSource.
func (s *BinanceBalanceSource) Close() error {
	return nil
}
