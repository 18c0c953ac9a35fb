package core

import "errors"

var (
	ErrMessageTooLong         = errors.New("message exceeds 255 bytes")
	ErrInvalidSignatureLength = errors.New("signature must be 65 bytes")
	ErrMalformedPayload       = errors.New("malformed payload")
	ErrInvalidSite            = errors.New("invalid site")
	ErrSiteAlreadyBlocked     = errors.New("site is already blocked")
	ErrSiteNotBlocked         = errors.New("site is not blocked")
	ErrInvalidAddress         = errors.New("invalid ethereum address")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrNotFound               = errors.New("key not found")
	ErrStoreConflict          = errors.New("store update conflict")
	ErrInvalidTicket          = errors.New("invalid removal ticket")
	ErrTicketExpired          = errors.New("removal ticket has expired")
	ErrTicketConsumed         = errors.New("removal ticket already used")
	ErrNotGuardian            = errors.New("claimed signer is not the configured guardian")
	ErrSignatureMismatch      = errors.New("signature does not recover to the signing account")
	ErrUnknownAccount         = errors.New("account is not managed by this wallet")
	ErrInvalidTxHash          = errors.New("invalid transaction hash")
)
