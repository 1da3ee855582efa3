package orderbook

import "github.com/pkg/errors"

var (
	// ErrInvalidOrder rejects a single submission: bad side, or a price
	// or quantity that is not positive. The book is left untouched.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrUnsupportedOperation is returned by Cancel when the book was
	// built with cancellation disabled.
	ErrUnsupportedOperation = errors.New("operation not supported")
)
