package lending

import "errors"

// Error taxonomy surfaced by the engine. Every handler fails fast with one of
// these before mutating any state; callers match them with errors.Is.
var (
	ErrInvalidParams          = errors.New("lending engine: invalid parameters")
	ErrInvalidAmount          = errors.New("lending engine: amount must be positive")
	ErrInvalidPrice           = errors.New("lending engine: price must be positive")
	ErrUnauthorized           = errors.New("lending engine: caller is not the authority")
	ErrInsufficientFunds      = errors.New("lending engine: insufficient funds")
	ErrOverLTV                = errors.New("lending engine: position would exceed max loan-to-value")
	ErrOverRepay              = errors.New("lending engine: amount exceeds outstanding debt")
	ErrNotUndercollateralized = errors.New("lending engine: borrower not eligible for liquidation")
	ErrArithmeticOverflow     = errors.New("lending engine: arithmetic overflow")
	ErrArithmeticUnderflow    = errors.New("lending engine: arithmetic underflow")

	ErrNotFound           = errors.New("lending engine: record not found")
	ErrAlreadyInitialized = errors.New("lending engine: record already initialised")
	ErrNilState           = errors.New("lending engine: state not configured")
)

// Code returns the stable identifier for a taxonomy error, or "Internal" when
// err does not wrap a known sentinel.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParams):
		return "InvalidParams"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrInvalidPrice):
		return "InvalidPrice"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrOverLTV):
		return "OverLTV"
	case errors.Is(err, ErrOverRepay):
		return "OverRepay"
	case errors.Is(err, ErrNotUndercollateralized):
		return "NotUndercollateralized"
	case errors.Is(err, ErrArithmeticOverflow):
		return "ArithmeticOverflow"
	case errors.Is(err, ErrArithmeticUnderflow):
		return "ArithmeticUnderflow"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrAlreadyInitialized):
		return "AlreadyInitialized"
	default:
		return "Internal"
	}
}
