package types

import "errors"

var (
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrEventInFlight       = errors.New("event already in flight")
	ErrCapExceeded         = errors.New("promo code usage cap exceeded")
	ErrUnknownUser         = errors.New("unknown user")
	ErrUnknownPayment      = errors.New("unknown payment")
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMalformedEvent      = errors.New("malformed event payload")
)
