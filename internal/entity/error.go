package entity

import "errors"

var (
	ErrDataNotFound         = errors.New("data not found")
	ErrConflictingData      = errors.New("conflicting data")
	ErrInvalidData          = errors.New("invalid data")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionInactive = errors.New("subscription inactive")
	ErrInvalidTransition    = errors.New("illegal status transition")
	ErrNoUsableChannel      = errors.New("no usable channel")
	ErrConfigPathNotSet     = errors.New("config path not set")
)
