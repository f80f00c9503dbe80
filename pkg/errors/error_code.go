package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter      ErrorCode = 100
	ErrCodeInvalidConfiguration  ErrorCode = 101
	ErrCodeInvalidIntent         ErrorCode = 102
	ErrCodeMissingParameter      ErrorCode = 103
	ErrCodeSchemaVersionMismatch ErrorCode = 104

	// Ledger errors (200-299)
	ErrCodeInsufficientCash     ErrorCode = 200
	ErrCodeInsufficientPosition ErrorCode = 201
	ErrCodeLedgerInvariant      ErrorCode = 202
	ErrCodePositionNotFound     ErrorCode = 203

	// Adapter errors (300-399)
	ErrCodeAdapterTransient ErrorCode = 300
	ErrCodeAdapterRejected  ErrorCode = 301
	ErrCodeNoLiquidity      ErrorCode = 302
	ErrCodeStaleData        ErrorCode = 303
	ErrCodeAdapterOutage    ErrorCode = 304

	// Scheduler errors (400-499)
	ErrCodeCycleTimeout         ErrorCode = 400
	ErrCodeEngineNotInitialized ErrorCode = 401
	ErrCodeEngineStopped        ErrorCode = 402
	ErrCodeDecisionFailed       ErrorCode = 403

	// Reconciliation errors (500-599)
	ErrCodeDriftDetected ErrorCode = 500

	// Journal/state errors (600-699)
	ErrCodeJournalFailed  ErrorCode = 600
	ErrCodeStateCorrupted ErrorCode = 601
	ErrCodeStateNotFound  ErrorCode = 602
	ErrCodeQueryFailed    ErrorCode = 603

	// Market data errors (700-799)
	ErrCodeMarketDataFetchFailed ErrorCode = 700
	ErrCodeMarketDataWriteFailed ErrorCode = 701
	ErrCodeMarketDataParseFailed ErrorCode = 702
	ErrCodeInvalidTimespan       ErrorCode = 703
	ErrCodeInvalidProvider       ErrorCode = 704

	// Callback errors (800-899)
	ErrCodeCallbackFailed ErrorCode = 800
)
