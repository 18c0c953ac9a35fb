package tokenizer

import "github.com/golang-jwt/jwt/v5"

// TicketClaims combines standard claims with the pinned challenge message
type TicketClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"` // Challenge message the guardian signs
}
