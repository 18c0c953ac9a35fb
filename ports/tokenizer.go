package ports

import "github.com/layer-3/guardian/core"

// Tokenizer converts removal tickets to and from signed tokens
type Tokenizer interface {
	TicketToToken(ticket *core.RemovalTicket) (string, error)

	// TokenToTicket verifies the token and returns core.ErrTicketExpired for
	// tokens past their expiry and core.ErrInvalidTicket for anything else
	TokenToTicket(token string) (*core.RemovalTicket, error)
}
