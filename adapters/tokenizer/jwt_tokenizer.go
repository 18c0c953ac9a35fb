package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
)

const AudienceRemoval = "guardian:removal"

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.Tokenizer {
	return &JWTTokenizer{signKey: signKey}
}

// TicketToToken converts a RemovalTicket to a JWT token
func (j *JWTTokenizer) TicketToToken(ticket *core.RemovalTicket) (string, error) {
	claims := TicketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ticket.Site,
			ID:        ticket.ID,
			ExpiresAt: jwt.NewNumericDate(ticket.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(ticket.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceRemoval},
		},
		Nonce: ticket.Message,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToTicket converts a JWT token to a RemovalTicket
func (j *JWTTokenizer) TokenToTicket(tokenStr string) (*core.RemovalTicket, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &TicketClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceRemoval), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrTicketExpired
		}
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidTicket, err)
	}

	// Validate token
	if !token.Valid {
		return nil, core.ErrInvalidTicket
	}

	// Extract claims
	claims, ok := token.Claims.(*TicketClaims)
	if !ok || claims.Subject == "" || claims.ID == "" {
		return nil, core.ErrInvalidTicket
	}

	ticket := &core.RemovalTicket{
		ID:        claims.ID,
		Site:      claims.Subject,
		Message:   claims.Nonce,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		ticket.IssuedAt = claims.IssuedAt.Time
	}

	return ticket, nil
}
