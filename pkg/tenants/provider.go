package tenants

import (
	"context"
	"errors"
)

var (
	// ErrTenantNotFound is returned by a Provider when the bootstrap API has no
	// configuration for the key.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrNoServiceToken means no bearer token was available for the bootstrap call.
	ErrNoServiceToken = errors.New("no service token")
	// ErrInvalidTenant marks a tenant that lacks issuer or client id.
	ErrInvalidTenant = errors.New("invalid tenant configuration")
)

// Provider fetches raw tenant configuration (the bootstrap API).
type Provider interface {
	// FetchTenant returns the decoded bootstrap payload for key. bearer is the
	// service token; providers that need none ignore it.
	FetchTenant(ctx context.Context, key, bearer string) (map[string]any, error)
}

// TokenSource hands out the service token used against the bootstrap API.
// An empty string means no token could be obtained.
type TokenSource interface {
	Token(ctx context.Context) string
}
