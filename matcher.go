package devicepair

import (
	"context"
	"fmt"
)

// CompleteCallback finishes a pairing from the identity provider's redirect.
//
// The session is claimed from the store before the code is exchanged, so a
// duplicated or replayed callback can never cause a second exchange. If the
// exchange fails the session is not put back; the entry stays pending until it
// expires and the user has to pair again.
func (b *Broker) CompleteCallback(ctx context.Context, state, code string) error {
	if state == "" || code == "" {
		b.rejectCallback(ctx, "missing state or code")
		return ErrInvalidResponse
	}

	claim, err := b.store.ClaimSessionByCSRF(ctx, state)
	if err != nil {
		b.rejectCallback(ctx, "no session for state")
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	token, err := b.provider.Exchange(ctx, code, claim.Session)
	if err != nil {
		b.metrics().callback(callbackExchangeFailed)
		b.logger().ErrorContext(ctx, "exchange token", "error", err, "pairing_id", claim.PairingID)
		if err := b.monitor().AuditTokenExchange(ctx, claim.Code, claim.PairingID, false); err != nil {
			b.logger().WarnContext(ctx, "audit token exchange", "error", err)
		}
		return fmt.Errorf("%w: %w", ErrFailedExchangingToken, err)
	}

	if err := b.store.SetToken(ctx, claim.Code, token); err != nil {
		// The entry was swept while the exchange was in flight.
		b.metrics().callback(callbackExpired)
		b.logger().WarnContext(ctx, "set token", "error", err, "pairing_id", claim.PairingID)
		return err
	}

	b.metrics().callback(callbackCompleted)
	if err := b.monitor().AuditTokenExchange(ctx, claim.Code, claim.PairingID, true); err != nil {
		b.logger().WarnContext(ctx, "audit token exchange", "error", err)
	}
	return nil
}

func (b *Broker) rejectCallback(ctx context.Context, reason string) {
	b.metrics().callback(callbackRejected)
	if err := b.monitor().AuditCallbackRejected(ctx, reason); err != nil {
		b.logger().WarnContext(ctx, "audit callback rejected", "error", err)
	}
}
