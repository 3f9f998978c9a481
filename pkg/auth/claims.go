package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	CustomerID  uuid.UUID
	ExternalRef string
	Email       string
	JTI         string
}

// AccessTokenClaims represents the typed JWT presented by clients. Tokens are
// minted by the main application; this service verifies and reads them.
type AccessTokenClaims struct {
	CustomerID  uuid.UUID `json:"customer_id"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Email       string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}
