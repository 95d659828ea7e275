package auth

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "traceiq/internal/db"
)

type fakeKeyStore struct {
	mu       sync.Mutex
	keys     map[string]dbpkg.APIKey
	findErr  error
	touchErr error
	touched  map[string]time.Time
}

func newFakeKeyStore(keys ...dbpkg.APIKey) *fakeKeyStore {
	s := &fakeKeyStore{keys: map[string]dbpkg.APIKey{}, touched: map[string]time.Time{}}
	for _, k := range keys {
		s.keys[k.KeyValue] = k
	}
	return s
}

func (s *fakeKeyStore) FindActive(_ context.Context, value string) (*dbpkg.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	k, ok := s.keys[value]
	if !ok || !k.IsActive {
		return nil, dbpkg.ErrNotFound
	}
	return &k, nil
}

func (s *fakeKeyStore) TouchLastUsed(_ context.Context, value string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchErr != nil {
		return s.touchErr
	}
	s.touched[value] = at
	return nil
}

func newTestVerifier(store KeyStore, logs *bytes.Buffer) *Verifier {
	return NewVerifier(store, slog.New(slog.NewTextHandler(logs, nil)))
}

func TestVerifySuccessStampsFreshness(t *testing.T) {
	store := newFakeKeyStore(dbpkg.APIKey{KeyValue: "k1", ProjectID: "p-a", KeyType: "production", IsActive: true})
	v := newTestVerifier(store, &bytes.Buffer{})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v.now = func() time.Time { return fixed }

	p, err := v.Verify(context.Background(), "k1", "p-a")
	require.NoError(t, err)
	assert.Equal(t, Principal{ProjectID: "p-a", KeyType: "production"}, p)

	v.Wait()
	assert.Equal(t, fixed, store.touched["k1"])
}

func TestVerifyFailures(t *testing.T) {
	store := newFakeKeyStore(
		dbpkg.APIKey{KeyValue: "k1", ProjectID: "p-a", IsActive: true},
		dbpkg.APIKey{KeyValue: "revoked", ProjectID: "p-a", IsActive: false},
	)
	v := newTestVerifier(store, &bytes.Buffer{})

	tests := []struct {
		name      string
		key, proj string
		want      error
	}{
		{"missing key", "", "p-a", ErrMissingCredentials},
		{"missing project", "k1", "", ErrMissingCredentials},
		{"unknown key", "nope", "p-a", ErrInvalidKey},
		{"revoked key", "revoked", "p-a", ErrInvalidKey},
		{"other project", "k1", "p-b", ErrProjectMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.key, tt.proj)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsUnauthorized(err))
		})
	}

	v.Wait()
	assert.Empty(t, store.touched)
}

func TestVerifyStoreFailureIsNotUnauthorized(t *testing.T) {
	store := newFakeKeyStore()
	store.findErr = errors.New("connection refused")
	v := newTestVerifier(store, &bytes.Buffer{})

	_, err := v.Verify(context.Background(), "k1", "p-a")
	require.Error(t, err)
	assert.False(t, IsUnauthorized(err))
	assert.Equal(t, "Authentication failed", Reason(err))
}

func TestVerifyTouchFailureIsAdvisory(t *testing.T) {
	store := newFakeKeyStore(dbpkg.APIKey{KeyValue: "k1", ProjectID: "p-a", IsActive: true})
	store.touchErr = errors.New("read-only replica")
	var logs bytes.Buffer
	v := newTestVerifier(store, &logs)

	_, err := v.Verify(context.Background(), "k1", "p-a")
	require.NoError(t, err)

	v.Wait()
	assert.Contains(t, logs.String(), "failed to update last_used_at")
}

func TestReason(t *testing.T) {
	assert.Equal(t, "Missing API key or project ID", Reason(ErrMissingCredentials))
	assert.Equal(t, "Invalid API key", Reason(ErrInvalidKey))
	assert.Equal(t, "API key does not match project", Reason(errors.Wrap(ErrProjectMismatch, "ctx")))
}
