package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/apperr"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
)

var ErrInvalidToken = errors.New("invalid or expired identity token")

// ExternalIdentity is what a verified identity-provider token tells us about the caller.
type ExternalIdentity struct {
	Subject string
	Email   string
	Name    string
}

type IdentityVerifier interface {
	Verify(ctx context.Context, rawToken string) (ExternalIdentity, error)
}

// AuthService trades an external identity token for an application session token.
type AuthService struct {
	cfg        *config.Config
	identities *IdentityService
	verifier   IdentityVerifier
	now        func() time.Time
}

func NewAuthService(cfg *config.Config, identities *IdentityService, verifier IdentityVerifier) *AuthService {
	return &AuthService{cfg: cfg, identities: identities, verifier: verifier, now: utcNow}
}

func (s *AuthService) Exchange(ctx context.Context, req *dto.ExchangeRequest) (*dto.AuthResponse, error) {
	if strings.TrimSpace(req.IDToken) == "" {
		return nil, apperr.Validation("id_token is required")
	}
	if s.verifier == nil {
		return nil, apperr.Internal("exchange", errors.New("identity verifier not configured"))
	}

	ident, err := s.verifier.Verify(ctx, req.IDToken)
	if err != nil {
		slog.Warn("identity token verification failed", "error", err)
		return nil, ErrInvalidToken
	}

	hint := req.DisplayName
	if strings.TrimSpace(hint) == "" {
		hint = ident.Name
	}
	user, err := s.identities.Resolve(ctx, ident.Subject, ident.Email, hint)
	if err != nil {
		return nil, err
	}

	token, err := s.generateAccessToken(&user)
	if err != nil {
		return nil, apperr.Internal("sign access token", err)
	}
	return &dto.AuthResponse{
		AccessToken: token,
		ExpiresIn:   int64(s.cfg.JWTAccessExpiry.Seconds()),
		User:        dto.NewUserResponse(user),
	}, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	if s.cfg.JWTSecret == "" {
		return "", fmt.Errorf("JWT_SECRET is empty")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.JWTAccessExpiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}
