package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier checks identity tokens against the issuer's published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier performs provider discovery, so it needs network access to the issuer.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (ExternalIdentity, error) {
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return ExternalIdentity{}, err
	}

	var claims idTokenClaims
	if err := tok.Claims(&claims); err != nil {
		return ExternalIdentity{}, fmt.Errorf("decode claims: %w", err)
	}
	if tok.Subject == "" {
		return ExternalIdentity{}, errors.New("token has no subject")
	}

	ident := ExternalIdentity{Subject: tok.Subject, Name: claims.Name}
	// An unverified address is not trusted for display or contact.
	if claims.EmailVerified == nil || *claims.EmailVerified {
		ident.Email = claims.Email
	}
	return ident, nil
}
