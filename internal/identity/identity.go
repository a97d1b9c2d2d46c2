package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens issued by the identity service and yields
// the username the relay should show for a connection.
type Verifier struct {
	secret []byte
}

// NewVerifier returns nil when secret is empty; a nil Verifier accepts
// every request anonymously.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Enabled() bool {
	return v != nil
}

// Verify parses token and returns its username, falling back to the subject.
func (v *Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	name := claims.Username
	if name == "" {
		name = claims.Subject
	}
	if name == "" {
		return "", fmt.Errorf("%w: no username or subject", ErrInvalidToken)
	}
	return name, nil
}

// Authenticate extracts the token from ?token= or an Authorization bearer
// header. With verification disabled it returns an empty identity.
func (v *Verifier) Authenticate(r *http.Request) (string, error) {
	if !v.Enabled() {
		return "", nil
	}
	return v.Verify(TokenFromRequest(r))
}

func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Sign issues a token for username. The relay only verifies tokens; Sign
// exists for tests and local tooling.
func Sign(secret, username string, claims jwt.RegisteredClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Username: username, RegisteredClaims: claims})
	return token.SignedString([]byte(secret))
}
