package auth

import (
	"errors"
	"fmt"

	"foxchat/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Reason classifies why a credential was rejected.
type Reason string

const (
	ReasonMissing      Reason = "missing"
	ReasonMalformed    Reason = "malformed"
	ReasonExpired      Reason = "expired"
	ReasonBadSignature Reason = "bad_signature"
)

// Error is a credential verification failure. Handshake-fatal: a connection
// that produces one never reaches the authenticated state.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the rejection reason from an error chain, or "" if the
// error is not an auth failure.
func ReasonOf(err error) Reason {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

// Verifier validates bearer credentials against a configured secret and
// extracts the identity they assert. Stateless; no side effects.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates a credential, returning the identity it
// carries. Expected claims: user_id (UUID), name, optional avatar_url.
func (v *Verifier) Verify(credential string) (models.Identity, error) {
	if credential == "" {
		return models.Identity{}, &Error{Reason: ReasonMissing}
	}

	token, err := jwt.ParseWithClaims(credential, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return models.Identity{}, &Error{Reason: classify(err), Err: err}
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Identity{}, &Error{Reason: ReasonMalformed, Err: fmt.Errorf("invalid token")}
	}

	return identityFromClaims(*claims)
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonBadSignature
	default:
		return ReasonMalformed
	}
}

func identityFromClaims(claims jwt.MapClaims) (models.Identity, error) {
	rawID, ok := claims["user_id"].(string)
	if !ok {
		return models.Identity{}, &Error{Reason: ReasonMalformed, Err: fmt.Errorf("user_id claim missing")}
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return models.Identity{}, &Error{Reason: ReasonMalformed, Err: fmt.Errorf("user_id claim: %w", err)}
	}

	identity := models.Identity{UserID: userID}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	if avatar, ok := claims["avatar_url"].(string); ok {
		identity.AvatarURL = avatar
	}
	return identity, nil
}
