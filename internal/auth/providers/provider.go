package providers

import "context"

// BeginAuthRequest captures the values bound to one external login attempt.
type BeginAuthRequest struct {
	State        string
	Nonce        string
	PKCEVerifier string
	Prompt       string
}

// CallbackRequest carries the parameters returned to the redirect URL.
type CallbackRequest struct {
	Code          string
	Error         string
	PKCEVerifier  string
	ExpectedNonce string
}

// Identity represents the claims returned from an external authentication provider.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	DisplayName   string
}

// Provider is an interactive redirect-based identity provider.
type Provider interface {
	Name() string
	Begin(ctx context.Context, req BeginAuthRequest) (string, error)
	Callback(ctx context.Context, req CallbackRequest) (*Identity, error)
}
