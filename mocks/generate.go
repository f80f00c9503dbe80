package mocks

//go:generate mockgen -destination=./mock_decider.go -package=mocks github.com/pyxis-lab/pyxis-executor/internal/decision Decider
//go:generate mockgen -destination=./mock_execution_adapter.go -package=mocks github.com/pyxis-lab/pyxis-executor/internal/execution Adapter
//go:generate mockgen -destination=./mock_pricing_provider.go -package=mocks -mock_names=Provider=MockPricingProvider github.com/pyxis-lab/pyxis-executor/internal/pricing Provider
//go:generate mockgen -destination=./mock_balance_source.go -package=mocks github.com/pyxis-lab/pyxis-executor/internal/reconcile BalanceSource
//go:generate mockgen -destination=./mock_marketdata_provider.go -package=mocks github.com/pyxis-lab/pyxis-executor/pkg/marketdata/provider Provider
