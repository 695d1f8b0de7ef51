package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig holds the client registration for an OpenID Connect issuer.
type OIDCConfig struct {
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OIDCOptions configures the behaviour of the OIDC provider implementation.
type OIDCOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

// OIDCProvider performs the authorization code flow with PKCE against a
// discovered issuer.
type OIDCProvider struct {
	name        string
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	httpClient  *http.Client
	timeout     time.Duration
}

var _ Provider = (*OIDCProvider)(nil)

// NewOIDCProvider runs discovery against cfg.Issuer and returns a ready provider.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, opts OIDCOptions) (*OIDCProvider, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("oidc provider: issuer is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("oidc provider: client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("oidc provider: client secret is required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("oidc provider: redirect url is required")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		name = "oidc"
	}

	p := &OIDCProvider{
		name:       name,
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
	}

	discoveryCtx, cancel := context.WithTimeout(p.clientContext(ctx), opts.Timeout)
	defer cancel()

	issuer, err := oidc.NewProvider(discoveryCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: discovery failed: %w", err)
	}

	p.oauthConfig = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     issuer.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}
	p.verifier = issuer.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	return p, nil
}

// Name is the provider key stored on external accounts.
func (p *OIDCProvider) Name() string {
	return p.name
}

// AuthCodeURL builds the authorization redirect bound to state, nonce and
// the S256 challenge of verifier.
func (p *OIDCProvider) AuthCodeURL(state, nonce, verifier string, extra ...oauth2.AuthCodeOption) string {
	opts := append([]oauth2.AuthCodeOption{
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
	}, extra...)
	return p.oauthConfig.AuthCodeURL(state, opts...)
}

// Begin implements Provider.
func (p *OIDCProvider) Begin(_ context.Context, req BeginAuthRequest) (string, error) {
	if strings.TrimSpace(req.State) == "" {
		return "", errors.New("oidc provider: state is required")
	}
	if strings.TrimSpace(req.Nonce) == "" {
		return "", errors.New("oidc provider: nonce is required")
	}
	if strings.TrimSpace(req.PKCEVerifier) == "" {
		return "", errors.New("oidc provider: pkce verifier is required")
	}

	var extra []oauth2.AuthCodeOption
	if req.Prompt != "" {
		extra = append(extra, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}
	return p.AuthCodeURL(req.State, req.Nonce, req.PKCEVerifier, extra...), nil
}

// Callback implements Provider.
func (p *OIDCProvider) Callback(ctx context.Context, req CallbackRequest) (*Identity, error) {
	if req.Error != "" {
		return nil, fmt.Errorf("oidc provider: authorization error: %s", req.Error)
	}
	if req.Code == "" {
		return nil, errors.New("oidc provider: authorization code missing")
	}
	if strings.TrimSpace(req.PKCEVerifier) == "" {
		return nil, errors.New("oidc provider: pkce verifier is required")
	}
	return p.Exchange(ctx, req.Code, req.PKCEVerifier, req.ExpectedNonce)
}

// Exchange redeems the authorization code and returns the verified identity.
func (p *OIDCProvider) Exchange(ctx context.Context, code, verifier, nonce string) (*Identity, error) {
	tokenCtx, cancel := context.WithTimeout(p.clientContext(ctx), p.timeout)
	defer cancel()

	token, err := p.oauthConfig.Exchange(tokenCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("oidc provider: exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("oidc provider: id token missing")
	}
	return p.VerifyIDToken(tokenCtx, rawIDToken, nonce)
}

// VerifyIDToken checks signature, issuer, audience, expiry and nonce of raw.
func (p *OIDCProvider) VerifyIDToken(ctx context.Context, raw, nonce string) (*Identity, error) {
	idToken, err := p.verifier.Verify(p.clientContext(ctx), raw)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: verify id token: %w", err)
	}
	if nonce == "" || idToken.Nonce != nonce {
		return nil, errors.New("oidc provider: nonce mismatch")
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified any    `json:"email_verified"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc provider: decode claims: %w", err)
	}

	return &Identity{
		Provider:      p.name,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: boolValue(claims.EmailVerified),
		FirstName:     claims.GivenName,
		LastName:      claims.FamilyName,
		DisplayName:   claims.Name,
	}, nil
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.httpClient != nil {
		ctx = oidc.ClientContext(ctx, p.httpClient)
	}
	return ctx
}

// Some issuers encode email_verified as a string.
func boolValue(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(val, "true")
	}
	return false
}
