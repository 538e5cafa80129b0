package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrNotFound             = errors.New("position not found")
	ErrUnsupportedSymbol    = errors.New("unsupported symbol")
	ErrNoPrice              = errors.New("no price observed for symbol")
	ErrPriceFeedUnavailable = errors.New("price feed unavailable")
	ErrPersistence          = errors.New("persistence failure")
)

// Invalid 包装一个带字段说明的校验错误
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsClientError 判断错误是否应由调用方修正 (参数、余额、交易对)
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrUnsupportedSymbol)
}
