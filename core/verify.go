package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Outcome is the terminal state of one verification attempt
type Outcome string

const (
	OutcomeVerified        Outcome = "verified"
	OutcomeNoInputData     Outcome = "no_input_data"
	OutcomeDecodeFailed    Outcome = "decode_failed"
	OutcomeSignerMismatch  Outcome = "signer_mismatch"
	OutcomeMessageMismatch Outcome = "message_mismatch"
	OutcomeRecoveryFailed  Outcome = "recovery_failed"

	// Outcomes produced by the unblock flow around the verifier
	OutcomeFetchError     Outcome = "fetch_error"
	OutcomeFetchTimeout   Outcome = "fetch_timeout"
	OutcomeUnknownSite    Outcome = "unknown_site"
	OutcomeNoChallenge    Outcome = "no_challenge"
	OutcomeTicketRejected Outcome = "ticket_rejected"
)

// VerificationResult describes why an approval was accepted or rejected
type VerificationResult struct {
	Outcome   Outcome
	Recovered common.Address // Zero unless recovery succeeded
	Err       error          // Underlying cause for failure outcomes, if any
}

// Verified reports whether the approval was accepted
func (r VerificationResult) Verified() bool {
	return r.Outcome == OutcomeVerified
}

// Status is the human-readable line shown to the user
func (r VerificationResult) Status() string {
	switch r.Outcome {
	case OutcomeVerified:
		return "Verified! Site removed."
	case OutcomeSignerMismatch:
		return "Verification failed. Signer mismatch."
	case OutcomeMessageMismatch:
		return "Verification failed. Message does not match."
	case OutcomeNoInputData:
		return "Error verifying tx: no input data in tx"
	case OutcomeFetchTimeout:
		return "Error verifying tx: transaction lookup timed out"
	case OutcomeUnknownSite:
		return "Site is not blocked."
	case OutcomeNoChallenge:
		return "No challenge message for this site. Request removal first."
	}
	if r.Err != nil {
		return "Error verifying tx: " + r.Err.Error()
	}
	return "Error verifying tx: " + string(r.Outcome)
}

// Recoverer derives the signing address of a personal message
type Recoverer interface {
	RecoverAddress(message []byte, signature []byte) (common.Address, error)
}

// PersonalSignRecoverer recovers signatures produced by personal_sign (EIP-191)
type PersonalSignRecoverer struct{}

// RecoverAddress hashes message with the personal message prefix and recovers the signer.
// V may be given as 0/1 or 27/28.
func (PersonalSignRecoverer) RecoverAddress(message []byte, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, ErrInvalidSignatureLength
	}
	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("unable to recover signing key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verifier checks that a transaction payload carries the expected message signed by the guardian
type Verifier struct {
	recoverer Recoverer
}

// NewVerifier creates a verifier. A nil recoverer selects PersonalSignRecoverer.
func NewVerifier(recoverer Recoverer) *Verifier {
	if recoverer == nil {
		recoverer = PersonalSignRecoverer{}
	}
	return &Verifier{recoverer: recoverer}
}

// Verify decodes input, recovers the signer, then compares it to claimedSigner
// and the decoded message to expectedMessage, in that order.
func (v *Verifier) Verify(input, expectedMessage, claimedSigner string) VerificationResult {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(input, "0x"), "0X")
	if trimmed == "" {
		return VerificationResult{Outcome: OutcomeNoInputData}
	}

	payload, err := DecodePayload(input)
	if err != nil {
		return VerificationResult{Outcome: OutcomeDecodeFailed, Err: err}
	}
	sig, err := payload.SignatureBytes()
	if err != nil {
		return VerificationResult{Outcome: OutcomeDecodeFailed, Err: err}
	}

	recovered, err := v.recoverer.RecoverAddress([]byte(payload.Message), sig)
	if err != nil {
		return VerificationResult{Outcome: OutcomeRecoveryFailed, Err: err}
	}

	if !common.IsHexAddress(claimedSigner) || common.HexToAddress(claimedSigner) != recovered {
		return VerificationResult{
			Outcome:   OutcomeSignerMismatch,
			Recovered: recovered,
			Err:       errors.New("recovered " + recovered.Hex()),
		}
	}

	if payload.Message != expectedMessage {
		return VerificationResult{Outcome: OutcomeMessageMismatch, Recovered: recovered}
	}

	return VerificationResult{Outcome: OutcomeVerified, Recovered: recovered}
}
