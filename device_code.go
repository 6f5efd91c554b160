package devicepair

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeviceCode is the short, human-typeable code that identifies one pairing attempt.
// The device displays it and the user types it into the pairing page.
type DeviceCode string

func (c DeviceCode) String() string {
	return string(c)
}

// AuthorizationSession is the per-login context produced by an IdentityProvider.
// It is single use: the store hands it out exactly once, when a callback claims it.
type AuthorizationSession struct {
	// PKCEVerifier binds the authorization code to this session at exchange time.
	PKCEVerifier string

	// CSRF is the OAuth2 state value. It is only used to correlate a callback
	// back to its device code.
	CSRF string

	// AuthorizeURL is where the user agent is sent to sign in.
	AuthorizeURL string
}

// Token is the token issued by the identity provider for a completed pairing.
// Values of this type are always copies; nothing returned by the store
// aliases state held inside it.
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	Expiry       time.Time
	Scope        string
	IDToken      string
}

// ClaimedSession is the result of a successful ClaimSessionByCSRF.
type ClaimedSession struct {
	Code      DeviceCode
	PairingID uuid.UUID
	Session   AuthorizationSession
}

// TokenState is the coarse status reported to a polling device.
type TokenState int

const (
	// StatusInvalid means there is no live entry for the code.
	StatusInvalid TokenState = iota
	// StatusPending means the entry exists but no token has been issued yet.
	StatusPending
	// StatusComplete means a token is available.
	StatusComplete
)

func (s TokenState) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	default:
		return "invalid"
	}
}

// TokenStatus is returned by TokenStatus lookups. Token is only set when
// State is StatusComplete.
type TokenStatus struct {
	State TokenState
	Token *Token
}

// DeviceCodeStore owns every pairing entry.
// Implementations must be safe for concurrent use by request handlers and the sweeper,
// and ClaimSessionByCSRF must find and take the session in one atomic step.
type DeviceCodeStore interface {
	// AddNewCode creates an entry under a freshly generated, currently unused code.
	AddNewCode(ctx context.Context) (DeviceCode, error)

	// AttachSession stores the login session on the entry, replacing any unclaimed one.
	// Returns ErrDeviceCodeNotFound if the code has no live entry and
	// ErrSessionNotAttachable if the entry has already been claimed.
	AttachSession(ctx context.Context, code DeviceCode, session AuthorizationSession) error

	// ClaimSessionByCSRF removes and returns the session whose CSRF value matches.
	// Returns ErrNoMatchingSession when nothing matches.
	ClaimSessionByCSRF(ctx context.Context, csrf string) (ClaimedSession, error)

	// SetToken records the token on a claimed entry.
	// Returns ErrDeviceCodeNotFound if the code has no live entry and
	// ErrTokenNotAcceptable if the entry was never claimed or already has a token.
	SetToken(ctx context.Context, code DeviceCode, token Token) error

	// TokenStatus reports what a polling device should see for the code.
	TokenStatus(ctx context.Context, code DeviceCode) TokenStatus

	// Sweep removes every entry created at least ttl ago and returns how many went.
	Sweep(ttl time.Duration) int

	// Len reports the number of live entries.
	Len() int
}
