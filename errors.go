package devicepair

import "errors"

var (
	ErrDeviceCodeNotFound     = errors.New("device code not found")
	ErrSessionNotAttachable   = errors.New("device code already claimed")
	ErrNoMatchingSession      = errors.New("no session matches state")
	ErrTokenNotAcceptable     = errors.New("device code not awaiting token")
	ErrCodeSpaceExhausted     = errors.New("failed generating unique device code")
	ErrInvalidResponse        = errors.New("invalid authorization response")
	ErrFailedBeginningSession = errors.New("failed beginning authorization session")
	ErrFailedExchangingToken  = errors.New("failed exchanging token")
	ErrInvalidConfig          = errors.New("invalid config")
)
