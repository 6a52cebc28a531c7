package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
// RELEASETRACKER_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set RELEASETRACKER_SECRET_KEY")

// CredentialStore defines the driven port for encrypted backend tokens.
// The adapter layer is responsible for encryption/decryption; this interface
// operates on plaintext values at the domain boundary.
type CredentialStore interface {
	// Set stores or replaces the token for the given service.
	Set(ctx context.Context, service, plaintext string) error
	// Get returns ("", nil) if no token exists for that service.
	Get(ctx context.Context, service string) (string, error)
	List(ctx context.Context) ([]model.Credential, error)
	Delete(ctx context.Context, service string) error
}
