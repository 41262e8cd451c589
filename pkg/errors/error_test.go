package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidParameter, err.Code)
	suite.Equal("invalid parameter", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewfError() {
	err := Newf(ErrCodeInvalidParameter, "invalid parameter: %s", "test")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidParameter, err.Code)
	suite.Equal("invalid parameter: test", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestWrapError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDataNotFound, "data not found", cause)
	suite.NotNil(err)
	suite.Equal(ErrCodeDataNotFound, err.Code)
	suite.Equal("data not found", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestWrapfError() {
	cause := errors.New("underlying error")
	err := Wrapf(ErrCodeDataNotFound, cause, "data not found for symbol: %s", "AAPL")
	suite.NotNil(err)
	suite.Equal(ErrCodeDataNotFound, err.Code)
	suite.Equal("data not found for symbol: AAPL", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestErrorString() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Equal("[100] invalid parameter", err.Error())
}

func (suite *ErrorTestSuite) TestErrorStringWithCause() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDataNotFound, "data not found", cause)
	suite.Equal("[200] data not found: underlying error", err.Error())
}

func (suite *ErrorTestSuite) TestUnwrap() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDataNotFound, "data not found", cause)
	suite.Equal(cause, err.Unwrap())
}

func (suite *ErrorTestSuite) TestUnwrapNil() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Nil(err.Unwrap())
}

func (suite *ErrorTestSuite) TestGetCode() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Equal(ErrCodeInvalidParameter, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromWrapped() {
	cause := New(ErrCodeDataNotFound, "data not found")
	err := Wrap(ErrCodeStrategyRuntimeError, "signal provider failed", cause)
	suite.Equal(ErrCodeStrategyRuntimeError, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromNonArgoError() {
	err := errors.New("standard error")
	suite.Equal(ErrCodeUnknown, GetCode(err))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.True(HasCode(err, ErrCodeInvalidParameter))
	suite.False(HasCode(err, ErrCodeDataNotFound))
}

func (suite *ErrorTestSuite) TestIsError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDataNotFound, "data not found", cause)
	suite.True(Is(err, cause))
}

func (suite *ErrorTestSuite) TestIsMatchesByCode() {
	sentinel := New(ErrCodeInsufficientShares, "")
	err := fmt.Errorf("day 2024-01-02: %w", Newf(ErrCodeInsufficientShares, "sell %d of %s, hold %d", 50, "AAA", 30))

	suite.True(Is(err, sentinel))
	suite.False(Is(err, New(ErrCodeNoPosition, "")))
	suite.False(Is(err, errors.New("insufficient shares")))

	// a wrapped cause with another code still matches through the chain
	wrapped := Wrap(ErrCodeWindowFailed, "window 1 failed", New(ErrCodeEngineInvariantViolation, "negative cash"))
	suite.True(Is(wrapped, New(ErrCodeEngineInvariantViolation, "")))
}

func (suite *ErrorTestSuite) TestCategory() {
	tests := []struct {
		code     ErrorCode
		expected Category
	}{
		{ErrCodeUnknown, CategoryGeneral},
		{ErrCodeInvalidPeriod, CategoryValidation},
		{ErrCodeDataGap, CategoryData},
		{ErrCodeStrategyNotFound, CategoryStrategy},
		{ErrCodeMarketDataMissing, CategoryTrading},
		{ErrCodeBacktestNoCostModel, CategoryBacktest},
		{ErrCodeCallbackFailed, CategoryCallback},
		{ErrCodeNoInSampleMetrics, CategoryWalkForward},
		{ErrorCode(300), CategoryGeneral},
		{ErrorCode(1200), CategoryGeneral},
	}

	for _, tc := range tests {
		suite.Equal(tc.expected, tc.code.Category(), "code %d", tc.code)
	}
}

func (suite *ErrorTestSuite) TestAsError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	var argoErr *Error
	suite.True(As(err, &argoErr))
	suite.Equal(ErrCodeInvalidParameter, argoErr.Code)
}

func (suite *ErrorTestSuite) TestErrorCodeValues() {
	suite.Equal(ErrorCode(1), ErrCodeUnknown)
	suite.Equal(ErrorCode(100), ErrCodeInvalidParameter)
	suite.Equal(ErrorCode(200), ErrCodeDataNotFound)
	suite.Equal(ErrorCode(400), ErrCodeStrategyNotFound)
	suite.Equal(ErrorCode(500), ErrCodeInsufficientCash)
	suite.Equal(ErrorCode(600), ErrCodeEngineInvariantViolation)
	suite.Equal(ErrorCode(800), ErrCodeCallbackFailed)
	suite.Equal(ErrorCode(900), ErrCodeNoWindows)
}

func (suite *ErrorTestSuite) TestIsValidationError() {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"invalid parameter", New(ErrCodeInvalidParameter, "price must be positive"), true},
		{"unknown cost profile", New(ErrCodeUnknownCostProfile, "unknown profile"), true},
		{"wrapped validation", fmt.Errorf("outer: %w", New(ErrCodeInvalidSide, "bad side")), true},
		{"trade error", New(ErrCodeInsufficientCash, "not enough cash"), false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Equal(tc.expected, IsValidationError(tc.err))
		})
	}
}

func (suite *ErrorTestSuite) TestIsRecoverableTradeError() {
	suite.True(IsRecoverableTradeError(New(ErrCodeInsufficientCash, "cash")))
	suite.True(IsRecoverableTradeError(New(ErrCodeNoPosition, "position")))
	suite.True(IsRecoverableTradeError(New(ErrCodeInsufficientShares, "shares")))
	suite.True(IsRecoverableTradeError(New(ErrCodeMarketDataMissing, "bar")))
	suite.False(IsRecoverableTradeError(New(ErrCodeEngineInvariantViolation, "cash < 0")))
	suite.False(IsRecoverableTradeError(errors.New("plain")))
}

func (suite *ErrorTestSuite) TestIsEngineInvariantViolation() {
	err := Wrapf(ErrCodeEngineInvariantViolation, nil, "cash is negative on %s", "2024-01-02")
	suite.True(IsEngineInvariantViolation(err))
	suite.True(IsEngineInvariantViolation(fmt.Errorf("window 3: %w", err)))
	suite.False(IsEngineInvariantViolation(New(ErrCodeNoPosition, "none")))
}
