// Package secret provides secret management and agent credential encryption.
package secret

import "context"

// Provider defines the interface for retrieving secrets from various sources.
type Provider interface {
	// Get retrieves the secret value for the given path.
	// path examples: "env://AGENTCORE_ENCRYPTION_KEY", "vault://secret/data/agentcore"
	Get(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}
