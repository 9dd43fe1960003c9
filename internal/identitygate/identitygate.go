// Package identitygate implements the Identity Gate of spec.md §4.1: bearer
// credential verification, password signin, and refresh-token rotation.
// Access tokens are short-lived EdDSA JWTs; refresh tokens are opaque
// random strings whose SHA-256 hash is the only thing ever persisted.
package identitygate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/config"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Principal is the authenticated actor attached to every inbound command
// once a bearer token has been verified.
type Principal struct {
	UserID      uuid.UUID
	WorkspaceID uuid.UUID
}

type claims struct {
	WorkspaceID string `json:"wsid"`
	jwt.RegisteredClaims
}

type Gate struct {
	store      *store.Store
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	refreshAbs time.Duration
}

func New(s *store.Store, cfg config.IdentityConfig) (*Gate, error) {
	g := &Gate{
		store:      s,
		accessTTL:  time.Duration(cfg.AccessTokenTTLSecs) * time.Second,
		refreshTTL: time.Duration(cfg.RefreshTokenTTLSecs) * time.Second,
		refreshAbs: time.Duration(cfg.RefreshAbsoluteTTLSecs) * time.Second,
	}
	if cfg.PublicKeyPEM != "" {
		pub, err := parsePublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		g.publicKey = pub
	}
	if cfg.PrivateKeyPEM != "" {
		priv, err := parsePrivateKey(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		g.privateKey = priv
	}
	return g, nil
}

func parsePublicKey(pemStr string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, apperrors.New(apperrors.Fatal, "invalid identity.public_key_pem")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Fatal)
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, apperrors.New(apperrors.Fatal, "identity.public_key_pem is not an Ed25519 key")
	}
	return key, nil
}

func parsePrivateKey(pemStr string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, apperrors.New(apperrors.Fatal, "invalid identity.private_key_pem")
	}
	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Fatal)
	}
	key, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, apperrors.New(apperrors.Fatal, "identity.private_key_pem is not an Ed25519 key")
	}
	return key, nil
}

// VerifyAccessToken checks signature, expiry, and issuer, returning the
// Principal it authenticates (spec.md §4.1 step 1).
func (g *Gate) VerifyAccessToken(tokenStr string) (Principal, error) {
	if g.publicKey == nil {
		return Principal{}, apperrors.New(apperrors.Unauthenticated, "identity gate has no verification key configured")
	}

	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, apperrors.New(apperrors.TokenInvalid, "unexpected signing method")
		}
		return g.publicKey, nil
	}, jwt.WithIssuer("fechatter-messaging-core"))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, apperrors.New(apperrors.TokenExpired, "access token expired")
		}
		return Principal{}, apperrors.New(apperrors.TokenInvalid, "access token invalid")
	}
	if !token.Valid {
		return Principal{}, apperrors.New(apperrors.TokenInvalid, "access token invalid")
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Principal{}, apperrors.New(apperrors.TokenInvalid, "access token subject is not a user id")
	}
	wsID, err := uuid.Parse(c.WorkspaceID)
	if err != nil {
		return Principal{}, apperrors.New(apperrors.TokenInvalid, "access token workspace claim invalid")
	}
	return Principal{UserID: userID, WorkspaceID: wsID}, nil
}

// TokenPair is what Signin and RefreshToken hand back to the caller.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Signin verifies email+password and issues a fresh token pair
// (spec.md §4.1 step-zero: establishing the initial session).
func (g *Gate) Signin(ctx context.Context, email, password, deviceFingerprint string) (*TokenPair, error) {
	user, err := g.store.GetUserByEmail(ctx, email)
	if err != nil {
		if apperrors.Is(err, apperrors.NotFound) {
			return nil, apperrors.New(apperrors.Unauthenticated, "invalid email or password")
		}
		return nil, err
	}
	if user.Status != model.UserActive {
		return nil, apperrors.New(apperrors.Forbidden, "account is not active")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.New(apperrors.Unauthenticated, "invalid email or password")
	}

	access, expiresAt, err := g.issueAccessToken(user.ID, user.WorkspaceID)
	if err != nil {
		return nil, err
	}

	refresh, err := g.issueRefresh(ctx, user.ID, deviceFingerprint)
	if err != nil {
		return nil, err
	}

	_ = g.store.TouchLastActive(ctx, user.ID)
	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}, nil
}

// RefreshToken rotates a refresh credential and mints a new access token
// (spec.md §4.1 step 2, §9's reuse-detection design note).
func (g *Gate) RefreshToken(ctx context.Context, refreshToken, deviceFingerprint string) (*TokenPair, error) {
	hash := hashToken(refreshToken)
	old, err := g.store.GetRefreshCredentialByHash(ctx, hash)
	if err != nil {
		if apperrors.Is(err, apperrors.NotFound) {
			return nil, apperrors.New(apperrors.TokenInvalid, "refresh token not recognized")
		}
		return nil, err
	}

	newToken, newHash := newOpaqueToken()
	rotated, err := g.store.RotateRefreshCredential(ctx, hash, store.IssueRefreshParams{
		UserID: old.UserID, TokenHash: newHash, DeviceFingerprint: deviceFingerprint,
		TTL: g.refreshTTL, AbsoluteTTL: g.refreshAbs,
	})
	if err != nil {
		return nil, err
	}

	user, err := g.store.GetUserByID(ctx, rotated.UserID)
	if err != nil {
		return nil, err
	}

	access, expiresAt, err := g.issueAccessToken(user.ID, user.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: newToken, ExpiresAt: expiresAt}, nil
}

func (g *Gate) issueAccessToken(userID, workspaceID uuid.UUID) (string, time.Time, error) {
	if g.privateKey == nil {
		return "", time.Time{}, apperrors.New(apperrors.Fatal, "identity gate has no signing key configured")
	}
	now := time.Now()
	expiresAt := now.Add(g.accessTTL)
	c := claims{
		WorkspaceID: workspaceID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "fechatter-messaging-core",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c)
	signed, err := token.SignedString(g.privateKey)
	if err != nil {
		return "", time.Time{}, apperrors.Wrap(err, apperrors.Fatal)
	}
	return signed, expiresAt, nil
}

func (g *Gate) issueRefresh(ctx context.Context, userID uuid.UUID, deviceFingerprint string) (string, error) {
	token, hash := newOpaqueToken()
	if _, err := g.store.IssueRefreshCredential(ctx, store.IssueRefreshParams{
		UserID: userID, TokenHash: hash, DeviceFingerprint: deviceFingerprint,
		TTL: g.refreshTTL, AbsoluteTTL: g.refreshAbs,
	}); err != nil {
		return "", err
	}
	return token, nil
}

func newOpaqueToken() (token, hash string) {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, hashToken(token)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
