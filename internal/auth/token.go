// ABOUTME: Bearer credential checks for relay clients
// ABOUTME: Accepts the shared secret itself or an HS256 JWT signed with it

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential errors
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token expired")
	ErrMissingClaim      = errors.New("missing required claim")
)

// SharedSecretSubject is reported for clients presenting the raw secret.
const SharedSecretSubject = "shared-secret"

// JWTVerifier checks HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and returns the agent named by its "sub" claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Generate signs a token for subject. A non-positive expiresIn yields a
// token that is already expired.
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Credential checks Authorization headers against one shared secret.
// The zero secret disables checking.
type Credential struct {
	secret   []byte
	verifier *JWTVerifier
}

// NewCredential creates a Credential for secret.
func NewCredential(secret string) *Credential {
	return &Credential{secret: []byte(secret), verifier: NewJWTVerifier([]byte(secret))}
}

// Enabled reports whether a secret is configured.
func (c *Credential) Enabled() bool { return len(c.secret) > 0 }

// Authorize validates an Authorization header value and returns the
// authenticated subject.
func (c *Credential) Authorize(header string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}
	token, err := ExtractBearer(header)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(token), c.secret) == 1 {
		return SharedSecretSubject, nil
	}
	return c.verifier.Verify(token)
}

// Issue signs a token naming subject, valid for ttl.
func (c *Credential) Issue(subject string, ttl time.Duration) (string, error) {
	if !c.Enabled() {
		return "", errors.New("no secret configured")
	}
	return c.verifier.Generate(subject, ttl)
}

// ExtractBearer pulls the token out of a "Bearer <token>" header value.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingCredential
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", fmt.Errorf("%w: authorization header is not a bearer token", ErrInvalidToken)
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrMissingCredential)
	}
	return token, nil
}
