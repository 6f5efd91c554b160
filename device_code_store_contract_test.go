package devicepair

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DeviceCodeStoreContract defines the contract tests for DeviceCodeStore implementations.
type DeviceCodeStoreContract struct {
	// NewStore builds an empty store reading time from now. A nil generate
	// means the implementation's default code generator.
	NewStore func(now func() time.Time, generate func() (DeviceCode, error)) DeviceCodeStore
}

func (c DeviceCodeStoreContract) Test(t *testing.T) {
	const ttl = 5 * time.Minute

	t.Run("Store Lifecycle", func(t *testing.T) {
		tests := []struct {
			name string
			test func(t *testing.T, store DeviceCodeStore, clock *fakeClock)
		}{
			{
				name: "new_code_is_pending",
				test: func(t *testing.T, store DeviceCodeStore, clock *fakeClock) {
					ctx := context.Background()
					code, err := store.AddNewCode(ctx)
					require.NoError(t, err)
					assert.Equal(t, TokenStatus{State: StatusPending}, store.TokenStatus(ctx, code))
				},
			},
			{
				name: "unknown_code_is_invalid",
				test: func(t *testing.T, store DeviceCodeStore, clock *fakeClock) {
					assert.Equal(t, TokenStatus{State: StatusInvalid}, store.TokenStatus(context.Background(), "NOPE"))
				},
			},
			{
				name: "attach_claim_and_set_token",
				test: func(t *testing.T, store DeviceCodeStore, clock *fakeClock) {
					ctx := context.Background()
					code, err := store.AddNewCode(ctx)
					require.NoError(t, err)

					session := AuthorizationSession{PKCEVerifier: "v", CSRF: "xyz", AuthorizeURL: "https://idp.test"}
					require.NoError(t, store.AttachSession(ctx, code, session))
					assert.Equal(t, StatusPending, store.TokenStatus(ctx, code).State)

					claim, err := store.ClaimSessionByCSRF(ctx, "xyz")
					require.NoError(t, err)
					assert.Equal(t, code, claim.Code)
					assert.Equal(t, session, claim.Session)
					assert.Equal(t, StatusPending, store.TokenStatus(ctx, code).State)

					token := Token{AccessToken: "access", TokenType: "Bearer"}
					require.NoError(t, store.SetToken(ctx, code, token))

					status := store.TokenStatus(ctx, code)
					assert.Equal(t, StatusComplete, status.State)
					require.NotNil(t, status.Token)
					assert.Equal(t, token, *status.Token)
				},
			},
			{
				name: "returned_token_is_a_copy",
				test: func(t *testing.T, store DeviceCodeStore, clock *fakeClock) {
					ctx := context.Background()
					code := completedCode(t, store, "copy")

					first := store.TokenStatus(ctx, code)
					first.Token.AccessToken = "mutated"

					second := store.TokenStatus(ctx, code)
					assert.Equal(t, "access-copy", second.Token.AccessToken)
				},
			},
			{
				name: "complete_never_reverts_to_pending",
				test: func(t *testing.T, store DeviceCodeStore, clock *fakeClock) {
					ctx := context.Background()
					code := completedCode(t, store, "final")

					assert.ErrorIs(t, store.AttachSession(ctx, code, AuthorizationSession{CSRF: "again"}), ErrSessionNotAttachable)
					assert.ErrorIs(t, store.SetToken(ctx, code, Token{AccessToken: "other"}), ErrTokenNotAcceptable)
					_, err := store.ClaimSessionByCSRF(ctx, "again")
					assert.ErrorIs(t, err, ErrNoMatchingSession)

					status := store.TokenStatus(ctx, code)
					assert.Equal(t, StatusComplete, status.State)
					assert.Equal(t, "access-final", status.Token.AccessToken)
				},
			},
			{
				name: "attach_overwrites_unclaimed_session",
				test: func(t *testing.T, store DeviceCodeStore, clock *fakeClock) {
					ctx := context.Background()
					code, err := store.AddNewCode(ctx)
					require.NoError(t, err)

					require.NoError(t, store.AttachSession(ctx, code, AuthorizationSession{CSRF: "first"}))
					require.NoError(t, store.AttachSession(ctx, code, AuthorizationSession{CSRF: "second"}))

					_, err = store.ClaimSessionByCSRF(ctx, "first")
					assert.ErrorIs(t, err, ErrNoMatchingSession)

					claim, err := store.ClaimSessionByCSRF(ctx, "second")
					require.NoError(t, err)
					assert.Equal(t, code, claim.Code)
				},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				clock := newFakeClock()
				tt.test(t, c.NewStore(clock.Now, nil), clock)
			})
		}
	})

	t.Run("Store Error Conditions", func(t *testing.T) {
		tests := []struct {
			name string
			test func(t *testing.T, store DeviceCodeStore)
		}{
			{
				name: "attach_unknown_code",
				test: func(t *testing.T, store DeviceCodeStore) {
					err := store.AttachSession(context.Background(), "UNKNOWN", AuthorizationSession{CSRF: "x"})
					assert.ErrorIs(t, err, ErrDeviceCodeNotFound)
				},
			},
			{
				name: "set_token_unknown_code",
				test: func(t *testing.T, store DeviceCodeStore) {
					err := store.SetToken(context.Background(), "UNKNOWN", Token{AccessToken: "a"})
					assert.ErrorIs(t, err, ErrDeviceCodeNotFound)
				},
			},
			{
				name: "set_token_before_claim",
				test: func(t *testing.T, store DeviceCodeStore) {
					ctx := context.Background()
					code, err := store.AddNewCode(ctx)
					require.NoError(t, err)
					assert.ErrorIs(t, store.SetToken(ctx, code, Token{AccessToken: "a"}), ErrTokenNotAcceptable)

					require.NoError(t, store.AttachSession(ctx, code, AuthorizationSession{CSRF: "c"}))
					assert.ErrorIs(t, store.SetToken(ctx, code, Token{AccessToken: "a"}), ErrTokenNotAcceptable)
					assert.Equal(t, StatusPending, store.TokenStatus(ctx, code).State)
				},
			},
			{
				name: "claim_unknown_csrf",
				test: func(t *testing.T, store DeviceCodeStore) {
					_, err := store.ClaimSessionByCSRF(context.Background(), "nobody")
					assert.ErrorIs(t, err, ErrNoMatchingSession)
				},
			},
			{
				name: "claim_empty_csrf",
				test: func(t *testing.T, store DeviceCodeStore) {
					ctx := context.Background()
					code, err := store.AddNewCode(ctx)
					require.NoError(t, err)
					require.NoError(t, store.AttachSession(ctx, code, AuthorizationSession{}))

					_, err = store.ClaimSessionByCSRF(ctx, "")
					assert.ErrorIs(t, err, ErrNoMatchingSession)
				},
			},
			{
				name: "attach_after_claim",
				test: func(t *testing.T, store DeviceCodeStore) {
					ctx := context.Background()
					code, err := store.AddNewCode(ctx)
					require.NoError(t, err)
					require.NoError(t, store.AttachSession(ctx, code, AuthorizationSession{CSRF: "once"}))
					_, err = store.ClaimSessionByCSRF(ctx, "once")
					require.NoError(t, err)

					err = store.AttachSession(ctx, code, AuthorizationSession{CSRF: "twice"})
					assert.ErrorIs(t, err, ErrSessionNotAttachable)
				},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				clock := newFakeClock()
				tt.test(t, c.NewStore(clock.Now, nil))
			})
		}
	})

	t.Run("Store Special Cases", func(t *testing.T) {
		t.Run("second_claim_returns_none", func(t *testing.T) {
			clock := newFakeClock()
			store := c.NewStore(clock.Now, fixedCodes("ABC123"))
			ctx := context.Background()

			code, err := store.AddNewCode(ctx)
			require.NoError(t, err)
			assert.Equal(t, DeviceCode("ABC123"), code)
			assert.Equal(t, StatusPending, store.TokenStatus(ctx, code).State)

			require.NoError(t, store.AttachSession(ctx, code, AuthorizationSession{PKCEVerifier: "v", CSRF: "xyz"}))

			claim, err := store.ClaimSessionByCSRF(ctx, "xyz")
			require.NoError(t, err)
			assert.Equal(t, code, claim.Code)
			assert.Equal(t, "v", claim.Session.PKCEVerifier)

			_, err = store.ClaimSessionByCSRF(ctx, "xyz")
			assert.ErrorIs(t, err, ErrNoMatchingSession)
		})

		t.Run("codes_are_unique", func(t *testing.T) {
			clock := newFakeClock()
			store := c.NewStore(clock.Now, nil)
			ctx := context.Background()

			seen := make(map[DeviceCode]bool)
			for i := 0; i < 500; i++ {
				code, err := store.AddNewCode(ctx)
				require.NoError(t, err)
				assert.False(t, seen[code], "duplicate code %s", code)
				seen[code] = true
			}
			assert.Equal(t, 500, store.Len())
		})

		t.Run("collision_regenerates", func(t *testing.T) {
			clock := newFakeClock()
			store := c.NewStore(clock.Now, fixedCodes("AAAA", "AAAA", "BBBB"))
			ctx := context.Background()

			first, err := store.AddNewCode(ctx)
			require.NoError(t, err)
			second, err := store.AddNewCode(ctx)
			require.NoError(t, err)

			assert.Equal(t, DeviceCode("AAAA"), first)
			assert.Equal(t, DeviceCode("BBBB"), second)
		})

		t.Run("exhausted_code_space", func(t *testing.T) {
			clock := newFakeClock()
			store := c.NewStore(clock.Now, fixedCodes("ONLY"))
			ctx := context.Background()

			_, err := store.AddNewCode(ctx)
			require.NoError(t, err)
			_, err = store.AddNewCode(ctx)
			assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
		})

		t.Run("concurrent_codes_are_unique", func(t *testing.T) {
			clock := newFakeClock()
			store := c.NewStore(clock.Now, nil)
			ctx := context.Background()

			const workers, perWorker = 16, 50
			codes := make(chan DeviceCode, workers*perWorker)
			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWorker; i++ {
						code, err := store.AddNewCode(ctx)
						if assert.NoError(t, err) {
							codes <- code
						}
					}
				}()
			}
			wg.Wait()
			close(codes)

			seen := make(map[DeviceCode]bool)
			for code := range codes {
				assert.False(t, seen[code], "duplicate code %s", code)
				seen[code] = true
			}
			assert.Len(t, seen, workers*perWorker)
		})

		t.Run("concurrent_claims_have_one_winner", func(t *testing.T) {
			clock := newFakeClock()
			store := c.NewStore(clock.Now, nil)
			ctx := context.Background()

			code, err := store.AddNewCode(ctx)
			require.NoError(t, err)
			require.NoError(t, store.AttachSession(ctx, code, AuthorizationSession{CSRF: "race"}))

			const claimers = 32
			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				wins  int
				start = make(chan struct{})
			)
			for i := 0; i < claimers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if _, err := store.ClaimSessionByCSRF(ctx, "race"); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, 1, wins)
		})
	})

	t.Run("Store Expiry", func(t *testing.T) {
		t.Run("sweep_removes_expired_regardless_of_state", func(t *testing.T) {
			clock := newFakeClock()
			store := c.NewStore(clock.Now, nil)
			ctx := context.Background()

			fresh, err := store.AddNewCode(ctx)
			require.NoError(t, err)
			awaiting, err := store.AddNewCode(ctx)
			require.NoError(t, err)
			require.NoError(t, store.AttachSession(ctx, awaiting, AuthorizationSession{CSRF: "late"}))
			done := completedCode(t, store, "done")

			clock.Advance(ttl)
			survivor, err := store.AddNewCode(ctx)
			require.NoError(t, err)

			assert.Equal(t, 3, store.Sweep(ttl))
			assert.Equal(t, StatusInvalid, store.TokenStatus(ctx, fresh).State)
			assert.Equal(t, StatusInvalid, store.TokenStatus(ctx, awaiting).State)
			assert.Equal(t, StatusInvalid, store.TokenStatus(ctx, done).State)
			assert.Equal(t, StatusPending, store.TokenStatus(ctx, survivor).State)

			_, err = store.ClaimSessionByCSRF(ctx, "late")
			assert.ErrorIs(t, err, ErrNoMatchingSession)
		})

		t.Run("sweep_keeps_entries_younger_than_ttl", func(t *testing.T) {
			clock := newFakeClock()
			store := c.NewStore(clock.Now, nil)
			ctx := context.Background()

			code, err := store.AddNewCode(ctx)
			require.NoError(t, err)

			clock.Advance(ttl - time.Second)
			assert.Equal(t, 0, store.Sweep(ttl))
			assert.Equal(t, StatusPending, store.TokenStatus(ctx, code).State)
		})

		t.Run("sweep_empty_store", func(t *testing.T) {
			clock := newFakeClock()
			store := c.NewStore(clock.Now, nil)
			assert.Equal(t, 0, store.Sweep(ttl))
			assert.Equal(t, 0, store.Len())
		})

		t.Run("set_token_after_sweep", func(t *testing.T) {
			clock := newFakeClock()
			store := c.NewStore(clock.Now, nil)
			ctx := context.Background()

			code, err := store.AddNewCode(ctx)
			require.NoError(t, err)
			require.NoError(t, store.AttachSession(ctx, code, AuthorizationSession{CSRF: "slow"}))
			_, err = store.ClaimSessionByCSRF(ctx, "slow")
			require.NoError(t, err)

			clock.Advance(ttl)
			store.Sweep(ttl)

			assert.ErrorIs(t, store.SetToken(ctx, code, Token{AccessToken: "late"}), ErrDeviceCodeNotFound)
			assert.Equal(t, StatusInvalid, store.TokenStatus(ctx, code).State)
		})
	})
}

// completedCode drives a fresh entry all the way to an issued token "access-<suffix>".
func completedCode(t *testing.T, store DeviceCodeStore, suffix string) DeviceCode {
	t.Helper()
	ctx := context.Background()

	code, err := store.AddNewCode(ctx)
	require.NoError(t, err)
	require.NoError(t, store.AttachSession(ctx, code, AuthorizationSession{CSRF: "csrf-" + suffix}))
	_, err = store.ClaimSessionByCSRF(ctx, "csrf-"+suffix)
	require.NoError(t, err)
	require.NoError(t, store.SetToken(ctx, code, Token{AccessToken: "access-" + suffix}))
	return code
}
