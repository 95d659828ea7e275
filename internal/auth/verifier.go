// Package auth verifies API key and project id pairs sent by clients.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	dbpkg "traceiq/internal/db"
)

var (
	ErrMissingCredentials = errors.New("missing api key or project id")
	ErrInvalidKey         = errors.New("invalid api key")
	ErrProjectMismatch    = errors.New("api key does not match project")
)

// Reason returns the client-facing message for a credential failure.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return "Missing API key or project ID"
	case errors.Is(err, ErrInvalidKey):
		return "Invalid API key"
	case errors.Is(err, ErrProjectMismatch):
		return "API key does not match project"
	default:
		return "Authentication failed"
	}
}

// IsUnauthorized reports whether err is one of the credential failures
// that map to 401.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrProjectMismatch)
}

// Principal is what a verified request may act as.
type Principal struct {
	ProjectID string
	KeyType   string
}

// KeyStore is the credential store the verifier consults.
type KeyStore interface {
	FindActive(ctx context.Context, value string) (*dbpkg.APIKey, error)
	TouchLastUsed(ctx context.Context, value string, at time.Time) error
}

// Verifier checks credentials and stamps key freshness in the background.
type Verifier struct {
	keys   KeyStore
	logger *slog.Logger
	now    func() time.Time

	touchTimeout time.Duration
	pending      sync.WaitGroup
}

func NewVerifier(keys KeyStore, logger *slog.Logger) *Verifier {
	return &Verifier{
		keys:         keys,
		logger:       logger,
		now:          time.Now,
		touchTimeout: 5 * time.Second,
	}
}

// Verify resolves apiKey and projectID to a Principal.
//
// A lookup failure other than "not found" is returned wrapped and is not
// an unauthorized error.
func (v *Verifier) Verify(ctx context.Context, apiKey, projectID string) (Principal, error) {
	if apiKey == "" || projectID == "" {
		return Principal{}, ErrMissingCredentials
	}

	key, err := v.keys.FindActive(ctx, apiKey)
	if errors.Is(err, dbpkg.ErrNotFound) {
		return Principal{}, ErrInvalidKey
	}
	if err != nil {
		return Principal{}, errors.Wrap(err, "verify api key")
	}

	if key.ProjectID != projectID {
		return Principal{}, ErrProjectMismatch
	}

	v.touch(apiKey)

	return Principal{ProjectID: key.ProjectID, KeyType: key.KeyType}, nil
}

// touch updates last_used_at without holding up the request. The update
// runs detached from the request context, which fasthttp recycles.
func (v *Verifier) touch(apiKey string) {
	at := v.now().UTC()
	v.pending.Add(1)
	go func() {
		defer v.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), v.touchTimeout)
		defer cancel()
		if err := v.keys.TouchLastUsed(ctx, apiKey, at); err != nil {
			v.logger.Warn("failed to update last_used_at", "err", err)
		}
	}()
}

// Wait blocks until every pending last_used_at update has finished.
func (v *Verifier) Wait() {
	v.pending.Wait()
}
