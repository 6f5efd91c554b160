package devicepair

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// IssueCode creates a new pairing entry and returns its device code.
func (b *Broker) IssueCode(ctx context.Context) (DeviceCode, error) {
	code, err := b.store.AddNewCode(ctx)
	if err != nil {
		return "", err
	}

	b.metrics().codeIssued()
	b.metrics().setLiveEntries(b.store.Len())
	if err := b.monitor().AuditCodeIssued(ctx, code); err != nil {
		b.logger().WarnContext(ctx, "audit code issued", "error", err)
	}
	return code, nil
}

// NormalizeCode trims and upper-cases a code as typed by a user.
func NormalizeCode(raw string) DeviceCode {
	return DeviceCode(strings.ToUpper(strings.TrimSpace(raw)))
}

// BeginLogin starts an authorization session for code and returns the URL the
// user agent must be sent to.
// Returns ErrDeviceCodeNotFound for unknown or expired codes and
// ErrSessionNotAttachable when the code has already been through a callback.
func (b *Broker) BeginLogin(ctx context.Context, code DeviceCode) (string, error) {
	if code == "" || b.store.TokenStatus(ctx, code).State == StatusInvalid {
		return "", ErrDeviceCodeNotFound
	}

	// The provider is called with no store lock held; the entry may expire
	// meanwhile, in which case AttachSession reports it.
	session, err := b.provider.BeginSession(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFailedBeginningSession, err)
	}

	if err := b.store.AttachSession(ctx, code, session); err != nil {
		return "", err
	}

	if err := b.monitor().AuditSessionAttached(ctx, code); err != nil {
		b.logger().WarnContext(ctx, "audit session attached", "error", err)
	}
	return session.AuthorizeURL, nil
}

// Poll reports the token status for code. A completed status carries a copy of the token.
func (b *Broker) Poll(ctx context.Context, code DeviceCode) TokenStatus {
	status := b.store.TokenStatus(ctx, code)
	b.metrics().poll(status.State)
	if status.State == StatusComplete {
		if err := b.monitor().AuditTokenCollected(ctx, code); err != nil {
			b.logger().WarnContext(ctx, "audit token collected", "error", err)
		}
	}
	return status
}

// redirectError maps a pairing error onto the error query value shown by the pairing page.
func redirectError(err error) string {
	switch {
	case errors.Is(err, ErrFailedExchangingToken), errors.Is(err, ErrFailedBeginningSession):
		return "auth_failed"
	case errors.Is(err, ErrDeviceCodeNotFound), errors.Is(err, ErrSessionNotAttachable):
		return "invalid_code"
	default:
		return "invalid_response"
	}
}
