package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

const maxTokenLen = 4096

// Claims is the verified identity envelope of a signed token.
type Claims struct {
	UserID    string
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type signedClaims struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	// Issuer is the value set in (and required from) the "iss" claim.
	Issuer string
	// AccessTTL is the lifetime of access tokens.
	AccessTTL time.Duration
	// RefreshClaimTTL is the lifetime of signed refresh-claim tokens.
	RefreshClaimTTL time.Duration
	// SigningKey is the HS256 key (see DeriveKeys).
	SigningKey []byte
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	key        []byte
}

// NewIssuer validates cfg and builds an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.SigningKey) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshClaimTTL <= 0 {
		return nil, errors.New("token: ttl must be positive")
	}
	key := make([]byte, len(cfg.SigningKey))
	copy(key, cfg.SigningKey)

	return &Issuer{
		issuer:     strings.TrimSpace(cfg.Issuer),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshClaimTTL,
		key:        key,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// CreateAccessToken signs {userId, type:"access", iat, exp}.
func (i *Issuer) CreateAccessToken(userID string, now time.Time) (string, time.Time, error) {
	return i.sign(userID, TypeAccess, now, i.accessTTL)
}

// VerifyAccessToken checks signature, expiry, issuer and type=="access".
// It never returns an error: any failure yields ok=false.
func (i *Issuer) VerifyAccessToken(token string, now time.Time) (Claims, bool) {
	return i.verify(token, TypeAccess, now)
}

// CreateRefreshClaimToken signs a stateless {userId, type:"refresh"} token.
//
// Sessions do not use it: the persisted opaque secret from GenerateRefreshSecret
// is the only refresh credential they accept.
func (i *Issuer) CreateRefreshClaimToken(userID string, now time.Time) (string, time.Time, error) {
	return i.sign(userID, TypeRefresh, now, i.refreshTTL)
}

// VerifyRefreshClaimToken is the counterpart of CreateRefreshClaimToken.
func (i *Issuer) VerifyRefreshClaimToken(token string, now time.Time) (Claims, bool) {
	return i.verify(token, TypeRefresh, now)
}

func (i *Issuer) sign(userID, typ string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("token: empty user id")
	}

	now = now.UTC()
	exp := now.Add(ttl)

	claims := signedClaims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate has second precision; report what the token actually carries.
	return signed, claims.ExpiresAt.Time, nil
}

func (i *Issuer) verify(token, wantType string, now time.Time) (out Claims, ok bool) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLen {
		return Claims{}, false
	}

	defer func() {
		if recover() != nil {
			out, ok = Claims{}, false
		}
	}()

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	var c signedClaims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return i.key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Claims{}, false
	}
	if c.Type != wantType || strings.TrimSpace(c.UserID) == "" {
		return Claims{}, false
	}

	out = Claims{UserID: c.UserID, Type: c.Type}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, true
}
