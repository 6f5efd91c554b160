package devicepair

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Monitor defines the interface for pairing audit events
type Monitor interface {
	AuditCodeIssued(ctx context.Context, code DeviceCode) error
	AuditSessionAttached(ctx context.Context, code DeviceCode) error
	AuditCallbackRejected(ctx context.Context, reason string) error
	AuditTokenExchange(ctx context.Context, code DeviceCode, pairingID uuid.UUID, success bool) error
	AuditTokenCollected(ctx context.Context, code DeviceCode) error
	AuditEntriesSwept(ctx context.Context, count int) error
}

// NoopMonitor is a monitor that does nothing
type NoopMonitor struct{}

func (n *NoopMonitor) AuditCodeIssued(ctx context.Context, code DeviceCode) error {
	return nil
}

func (n *NoopMonitor) AuditSessionAttached(ctx context.Context, code DeviceCode) error {
	return nil
}

func (n *NoopMonitor) AuditCallbackRejected(ctx context.Context, reason string) error {
	return nil
}

func (n *NoopMonitor) AuditTokenExchange(ctx context.Context, code DeviceCode, pairingID uuid.UUID, success bool) error {
	return nil
}

func (n *NoopMonitor) AuditTokenCollected(ctx context.Context, code DeviceCode) error {
	return nil
}

func (n *NoopMonitor) AuditEntriesSwept(ctx context.Context, count int) error {
	return nil
}

// Ensure NoopMonitor implements Monitor
var _ Monitor = &NoopMonitor{}

// LoggerMonitor is a monitor that logs events to a structured logger.
// Device codes are hashed before logging since anyone holding one can collect its token.
type LoggerMonitor struct {
	logger *slog.Logger
}

func NewLoggerMonitor(logger *slog.Logger) *LoggerMonitor {
	return &LoggerMonitor{
		logger: logger,
	}
}

func (l *LoggerMonitor) hashCode(code DeviceCode) string {
	hash := sha256.Sum256([]byte(code))
	return hex.EncodeToString(hash[:8])
}

func (l *LoggerMonitor) AuditCodeIssued(ctx context.Context, code DeviceCode) error {
	if code == "" {
		return fmt.Errorf("device code cannot be empty")
	}
	l.logger.InfoContext(ctx, "Device code issued", "code", l.hashCode(code))
	return nil
}

func (l *LoggerMonitor) AuditSessionAttached(ctx context.Context, code DeviceCode) error {
	if code == "" {
		return fmt.Errorf("device code cannot be empty")
	}
	l.logger.InfoContext(ctx, "Authorization session attached", "code", l.hashCode(code))
	return nil
}

func (l *LoggerMonitor) AuditCallbackRejected(ctx context.Context, reason string) error {
	l.logger.WarnContext(ctx, "Callback rejected", "reason", reason)
	return nil
}

func (l *LoggerMonitor) AuditTokenExchange(ctx context.Context, code DeviceCode, pairingID uuid.UUID, success bool) error {
	if code == "" {
		return fmt.Errorf("device code cannot be empty")
	}
	status := "failed"
	if success {
		status = "successful"
	}
	l.logger.InfoContext(ctx, "Token exchange",
		"code", l.hashCode(code),
		"pairing_id", pairingID.String(),
		"status", status)
	return nil
}

func (l *LoggerMonitor) AuditTokenCollected(ctx context.Context, code DeviceCode) error {
	if code == "" {
		return fmt.Errorf("device code cannot be empty")
	}
	l.logger.InfoContext(ctx, "Token collected", "code", l.hashCode(code))
	return nil
}

func (l *LoggerMonitor) AuditEntriesSwept(ctx context.Context, count int) error {
	if count < 0 {
		return fmt.Errorf("swept count cannot be negative")
	}
	l.logger.DebugContext(ctx, "Entries swept", "count", count)
	return nil
}

// Ensure LoggerMonitor implements Monitor
var _ Monitor = &LoggerMonitor{}
