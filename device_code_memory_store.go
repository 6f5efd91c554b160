package devicepair

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultCodeLength   = 8

	maxCodeAttempts = 32
)

// entryState is the lifecycle of a pairing entry. Only the transitions
// created -> awaitingCallback -> claimed -> tokenIssued exist, so an entry can
// never carry a token without its session having been claimed first.
type entryState interface {
	isEntryState()
}

type (
	created          struct{}
	awaitingCallback struct{ session AuthorizationSession }
	claimed          struct{}
	tokenIssued      struct{ token Token }
)

func (created) isEntryState()          {}
func (awaitingCallback) isEntryState() {}
func (claimed) isEntryState()          {}
func (tokenIssued) isEntryState()      {}

type pairingEntry struct {
	pairingID uuid.UUID
	createdAt time.Time
	state     entryState
}

// MemoryDeviceCodeStore is the in-memory DeviceCodeStore.
// Every operation runs under a single mutex; entries never leave it by reference.
type MemoryDeviceCodeStore struct {
	mu      sync.Mutex
	entries map[DeviceCode]*pairingEntry
	// byCSRF maps the CSRF value of every awaiting session to its device code
	byCSRF map[string]DeviceCode

	generate func() (DeviceCode, error)
	now      func() time.Time
}

// MemoryStoreOpt configures a MemoryDeviceCodeStore.
type MemoryStoreOpt func(*MemoryDeviceCodeStore)

// NewMemoryDeviceCodeStore creates an empty store generating DefaultCodeLength
// codes over DefaultCodeAlphabet.
func NewMemoryDeviceCodeStore(opts ...MemoryStoreOpt) *MemoryDeviceCodeStore {
	m := &MemoryDeviceCodeStore{
		entries:  make(map[DeviceCode]*pairingEntry),
		byCSRF:   make(map[string]DeviceCode),
		generate: CodeGenerator(DefaultCodeAlphabet, DefaultCodeLength),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithCodeGenerator replaces the function used to draw candidate codes.
func WithCodeGenerator(generate func() (DeviceCode, error)) MemoryStoreOpt {
	return func(m *MemoryDeviceCodeStore) {
		m.generate = generate
	}
}

// WithStoreNow replaces the clock used for entry creation and expiry.
func WithStoreNow(now func() time.Time) MemoryStoreOpt {
	return func(m *MemoryDeviceCodeStore) {
		m.now = now
	}
}

// CodeGenerator returns a generator drawing length characters uniformly from alphabet
// using crypto/rand.
func CodeGenerator(alphabet string, length int) func() (DeviceCode, error) {
	// Bytes at or above limit are rejected so every character is equally likely.
	limit := 256 - 256%len(alphabet)
	return func() (DeviceCode, error) {
		code := make([]byte, 0, length)
		buf := make([]byte, length)
		for len(code) < length {
			if _, err := rand.Read(buf); err != nil {
				return "", fmt.Errorf("read random bytes: %w", err)
			}
			for _, b := range buf {
				if int(b) >= limit {
					continue
				}
				code = append(code, alphabet[int(b)%len(alphabet)])
				if len(code) == length {
					break
				}
			}
		}
		return DeviceCode(code), nil
	}
}

// AddNewCode creates a new pairing entry under a fresh unique code.
func (m *MemoryDeviceCodeStore) AddNewCode(ctx context.Context) (DeviceCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := m.generate()
		if err != nil {
			return "", err
		}
		if _, taken := m.entries[code]; taken {
			continue
		}

		m.entries[code] = &pairingEntry{
			pairingID: uuid.New(),
			createdAt: m.now(),
			state:     created{},
		}
		return code, nil
	}

	return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, maxCodeAttempts)
}

// AttachSession stores session on code, replacing any unclaimed session.
func (m *MemoryDeviceCodeStore) AttachSession(ctx context.Context, code DeviceCode, session AuthorizationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[code]
	if !ok {
		return ErrDeviceCodeNotFound
	}

	switch state := entry.state.(type) {
	case created:
	case awaitingCallback:
		m.unindex(state.session.CSRF, code)
	default:
		return ErrSessionNotAttachable
	}

	entry.state = awaitingCallback{session: session}
	m.byCSRF[session.CSRF] = code
	return nil
}

// ClaimSessionByCSRF takes the session whose CSRF value matches csrf.
func (m *MemoryDeviceCodeStore) ClaimSessionByCSRF(ctx context.Context, csrf string) (ClaimedSession, error) {
	if csrf == "" {
		return ClaimedSession{}, ErrNoMatchingSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.byCSRF[csrf]
	if !ok {
		return ClaimedSession{}, ErrNoMatchingSession
	}
	delete(m.byCSRF, csrf)

	entry, ok := m.entries[code]
	if !ok {
		return ClaimedSession{}, ErrNoMatchingSession
	}
	awaiting, ok := entry.state.(awaitingCallback)
	if !ok || awaiting.session.CSRF != csrf {
		return ClaimedSession{}, ErrNoMatchingSession
	}

	entry.state = claimed{}
	return ClaimedSession{
		Code:      code,
		PairingID: entry.pairingID,
		Session:   awaiting.session,
	}, nil
}

// SetToken records the token for a claimed entry.
func (m *MemoryDeviceCodeStore) SetToken(ctx context.Context, code DeviceCode, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[code]
	if !ok {
		return ErrDeviceCodeNotFound
	}
	if _, ok := entry.state.(claimed); !ok {
		return ErrTokenNotAcceptable
	}

	entry.state = tokenIssued{token: token}
	return nil
}

// TokenStatus reports the pairing status of code.
func (m *MemoryDeviceCodeStore) TokenStatus(ctx context.Context, code DeviceCode) TokenStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[code]
	if !ok {
		return TokenStatus{State: StatusInvalid}
	}
	issued, ok := entry.state.(tokenIssued)
	if !ok {
		return TokenStatus{State: StatusPending}
	}
	token := issued.token
	return TokenStatus{State: StatusComplete, Token: &token}
}

// Sweep removes every entry at least ttl old and returns how many were removed.
func (m *MemoryDeviceCodeStore) Sweep(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for code, entry := range m.entries {
		if now.Sub(entry.createdAt) < ttl {
			continue
		}
		if awaiting, ok := entry.state.(awaitingCallback); ok {
			m.unindex(awaiting.session.CSRF, code)
		}
		delete(m.entries, code)
		removed++
	}
	return removed
}

// unindex drops csrf from the index only while it still points at code.
// Callers must hold mu.
func (m *MemoryDeviceCodeStore) unindex(csrf string, code DeviceCode) {
	if m.byCSRF[csrf] == code {
		delete(m.byCSRF, csrf)
	}
}

// Len returns the number of live entries.
func (m *MemoryDeviceCodeStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Reset clears all entries.
// This is useful for testing to isolate state between test cases.
func (m *MemoryDeviceCodeStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[DeviceCode]*pairingEntry)
	m.byCSRF = make(map[string]DeviceCode)
}

// Ensure MemoryDeviceCodeStore implements DeviceCodeStore
var _ DeviceCodeStore = (*MemoryDeviceCodeStore)(nil)
