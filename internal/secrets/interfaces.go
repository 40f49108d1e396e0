package secrets

import "context"

// APICredentials holds the credential material one platform adapter needs.
// Not every platform uses every field: Bing additionally needs the
// developer token, Facebook only uses a long-lived access token.
type APICredentials struct {
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	AccessToken    string
	DeveloperToken string
}

// SecretManager defines the interface for interacting with different secret backends.
type SecretManager interface {
	// GetAPICredentials retrieves platform API credentials from the secret
	// manager. pathOrID specifies the location of the secret.
	GetAPICredentials(ctx context.Context, pathOrID string) (*APICredentials, error)

	// IsEnabled checks if this specific secret manager is configured and enabled.
	IsEnabled() bool
}
