package service

import "errors"

var (
	ErrEmptyCart     = errors.New("cart is empty, nothing to checkout")
	ErrOrderWrite    = errors.New("order could not be written")
	ErrKeyGeneration = errors.New("order id could not be generated")
	ErrMissingUser   = errors.New("user id is required")
)
