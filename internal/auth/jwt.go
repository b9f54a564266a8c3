package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CallClaims represents the claims in a call token.
type CallClaims struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role"` // "caller"
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens presented on the websocket handshake.
// An empty secret disables verification entirely, which is the development
// default.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return &Verifier{}
	}
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether tokens are required.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// GenerateCallToken signs a short-lived token authorizing one caller to
// stream. SessionID is left open so the client can mint its own identifiers
// across reconnects.
func (v *Verifier) GenerateCallToken(userID string) (string, error) {
	if !v.Enabled() {
		return "", fmt.Errorf("token generation requires a configured secret")
	}
	claims := &CallClaims{
		UserID: userID,
		Role:   "caller",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ValidateCallToken validates a token and returns its claims.
func (v *Verifier) ValidateCallToken(tokenString string) (*CallClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CallClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CallClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}
