package errors

// ErrorCode identifies an error. Codes are grouped by hundreds into categories.
type ErrorCode int

// Category groups error codes by their hundreds digit.
type Category string

const (
	CategoryGeneral     Category = "general"
	CategoryValidation  Category = "validation"
	CategoryData        Category = "data"
	CategoryStrategy    Category = "strategy"
	CategoryTrading     Category = "trading"
	CategoryBacktest    Category = "backtest"
	CategoryCallback    Category = "callback"
	CategoryWalkForward Category = "walkforward"
)

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidSignal        ErrorCode = 102
	ErrCodeInvalidSide          ErrorCode = 103
	ErrCodeInvalidTimeOfDay     ErrorCode = 104
	ErrCodeInvalidDateRange     ErrorCode = 105
	ErrCodeUnknownCostProfile   ErrorCode = 106
	ErrCodeInvalidCostProfile   ErrorCode = 107
	ErrCodeInvalidSchedule      ErrorCode = 108
	ErrCodeInvalidPeriod        ErrorCode = 109

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound          ErrorCode = 200
	ErrCodeDataSourceUnavailable ErrorCode = 201
	ErrCodeQueryFailed           ErrorCode = 202
	ErrCodeDataGap               ErrorCode = 203
	ErrCodeInvalidBar            ErrorCode = 204

	// Strategy errors (400-499)
	ErrCodeStrategyNotFound     ErrorCode = 400
	ErrCodeStrategyConfigError  ErrorCode = 401
	ErrCodeStrategyRuntimeError ErrorCode = 402

	// Trading errors (500-599)
	ErrCodeInsufficientCash   ErrorCode = 500
	ErrCodeNoPosition         ErrorCode = 501
	ErrCodeInsufficientShares ErrorCode = 502
	ErrCodeMarketDataMissing  ErrorCode = 503

	// Backtest errors (600-699)
	ErrCodeEngineInvariantViolation ErrorCode = 600
	ErrCodeSimulatorState           ErrorCode = 601
	ErrCodePersistenceFailed        ErrorCode = 602
	ErrCodeBacktestNoDatasource     ErrorCode = 603
	ErrCodeBacktestNoSignals        ErrorCode = 604
	ErrCodeBacktestNoCostModel      ErrorCode = 605

	// Callback errors (800-899)
	ErrCodeCallbackFailed ErrorCode = 800

	// Walk-forward and consistency errors (900-999)
	ErrCodeNoWindows         ErrorCode = 900
	ErrCodeWindowFailed      ErrorCode = 901
	ErrCodeEmptyParamSpace   ErrorCode = 902
	ErrCodeEngineRunFailed   ErrorCode = 903
	ErrCodeSweepCancelled    ErrorCode = 904
	ErrCodeNoInSampleMetrics ErrorCode = 905
)

// Category returns the group the code belongs to. Unassigned ranges report CategoryGeneral.
func (c ErrorCode) Category() Category {
	switch c / 100 {
	case 1:
		return CategoryValidation
	case 2:
		return CategoryData
	case 4:
		return CategoryStrategy
	case 5:
		return CategoryTrading
	case 6:
		return CategoryBacktest
	case 8:
		return CategoryCallback
	case 9:
		return CategoryWalkForward
	default:
		return CategoryGeneral
	}
}
