package storefront

import "context"

// Persisted session field names
const (
	SessionKeyAccessToken = "accessToken"
	SessionKeyFirstName   = "firstName"
	SessionKeyRole        = "role"
)

// SessionStore defines the interface for the process-wide key-value store
// holding the persisted session fields
type SessionStore interface {
	// Load returns every stored field, or store.ErrNotFound when empty
	Load(ctx context.Context) (map[string]string, error)

	// Save replaces all stored fields at once
	Save(ctx context.Context, values map[string]string) error

	// Clear removes every stored field
	Clear(ctx context.Context) error
}
