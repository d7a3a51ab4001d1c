package model

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrMalformedEvent    = errors.New("malformed event")
	ErrDuplicateDelivery = errors.New("duplicate delivery")
	ErrSinkUnavailable   = errors.New("sink unavailable")
)
