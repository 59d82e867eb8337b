package order

import "errors"

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrOrderExpired = errors.New("order expired")
	ErrEncoding     = errors.New("order encoding failed")
)
