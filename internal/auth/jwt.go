package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cohortlive/pkg/types"
)

var (
	ErrSecretRequired = errors.New("auth secret is required")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token is expired")
	ErrMissingSubject = errors.New("token subject is required")
)

// Claims are the bearer token claims: sub is the user id and role carries
// the capability.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Verifier checks HS256 bearer tokens issued by the identity service.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier creates a verifier. When issuer is set, tokens must carry it.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	return &Verifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		now:    time.Now,
	}, nil
}

// Verify validates token and returns the identity it carries. Tokens without
// a role are participants.
func (v *Verifier) Verify(token string) (*types.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if !types.IsValidUserID(claims.Subject) {
		return nil, ErrMissingSubject
	}
	role := claims.Role
	if role == "" {
		role = types.RoleParticipant
	}
	return &types.Identity{UserID: claims.Subject, Role: role}, nil
}

// Issue signs a token for userID. It backs the development token command and
// tests; production tokens come from the identity service.
func (v *Verifier) Issue(userID, role string, ttl time.Duration) (string, error) {
	if !types.IsValidUserID(userID) {
		return "", ErrMissingSubject
	}
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
