package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/internal/stopwaiter"
	"github.com/layer-3/guardian/ports"
)

var errChallengeRotated = errors.New("challenge rotated during verification")

// UnblockConfig holds the timing of the unblock flow
type UnblockConfig struct {
	RotationInterval time.Duration // How often challenge messages are replaced
	TicketGrace      time.Duration // How long a removal ticket pins its message
	FetchTimeout     time.Duration // Bound on a single transaction lookup
}

// DefaultUnblockConfig returns the production timings
func DefaultUnblockConfig() UnblockConfig {
	return UnblockConfig{
		RotationInterval: 3 * time.Minute,
		TicketGrace:      5 * time.Minute,
		FetchTimeout:     15 * time.Second,
	}
}

// RemovalPrompt is what the user forwards to their guardian
type RemovalPrompt struct {
	Site            string    `json:"site"`
	Message         string    `json:"message"`
	GuardianAddress string    `json:"guardian_address,omitempty"`
	Ticket          string    `json:"ticket"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// RemovalConfirmation names the guardian's approval transaction for a site
type RemovalConfirmation struct {
	Site           string
	TxHash         string
	ClaimedAddress string // Must match the stored guardian when one is set; may then be empty
	Ticket         string // Optional; without it the live challenge is expected
}

// UnblockFlow issues challenges and removes a site once the guardian has
// signed its challenge in an on-chain transaction.
type UnblockFlow struct {
	stopwaiter.StopWaiter

	cfg       UnblockConfig
	store     ports.Store
	fetcher   ports.TransactionFetcher
	tokenizer ports.Tokenizer
	eventPub  ports.EventPublisher
	recovery  *RecoveryTracker
	verifier  *core.Verifier

	generate core.MessageGenerator
	now      func() time.Time
}

// NewUnblockFlow creates a new unblock flow
func NewUnblockFlow(
	cfg UnblockConfig,
	store ports.Store,
	fetcher ports.TransactionFetcher,
	tokenizer ports.Tokenizer,
	eventPub ports.EventPublisher,
	recovery *RecoveryTracker,
) *UnblockFlow {
	return &UnblockFlow{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		tokenizer: tokenizer,
		eventPub:  eventPub,
		recovery:  recovery,
		verifier:  core.NewVerifier(nil),
		generate:  core.GenerateChallenge,
		now:       time.Now,
	}
}

// RequestRemoval returns the current challenge for site, creating one if needed,
// together with a ticket pinning that message for the grace window. The pin is
// kept in the state and goes away when the site is unblocked.
func (f *UnblockFlow) RequestRemoval(ctx context.Context, site string) (RemovalPrompt, error) {
	host := core.NormalizeHost(site)
	if host == "" {
		return RemovalPrompt{}, core.ErrInvalidSite
	}

	guardian, err := f.store.Get(ctx, ports.KeyGuardianAddress)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return RemovalPrompt{}, fmt.Errorf("failed to load guardian address: %w", err)
	}

	now := f.now()
	ticket := &core.RemovalTicket{
		ID:        uuid.New().String(),
		Site:      host,
		IssuedAt:  now,
		ExpiresAt: now.Add(f.cfg.TicketGrace),
	}
	_, err = f.store.Update(ctx, func(state *core.State) error {
		if _, ok := state.Site(host); !ok {
			return core.ErrSiteNotBlocked
		}
		msg := state.Challenges[host]
		if msg == "" {
			generated, err := f.generate()
			if err != nil {
				return err
			}
			state.Challenges[host] = generated
			msg = generated
		}
		state.PruneTickets(now)
		state.PinTicket(ticket.ID, core.TicketPin{Site: host, Message: msg, ExpiresAt: ticket.ExpiresAt})
		ticket.Message = msg
		return nil
	})
	if err != nil {
		return RemovalPrompt{}, fmt.Errorf("failed to prepare removal of %s: %w", host, err)
	}

	token, err := f.tokenizer.TicketToToken(ticket)
	if err != nil {
		return RemovalPrompt{}, fmt.Errorf("failed to create ticket: %w", err)
	}

	return RemovalPrompt{
		Site:            host,
		Message:         ticket.Message,
		GuardianAddress: guardian,
		Ticket:          token,
		ExpiresAt:       ticket.ExpiresAt,
	}, nil
}

// ConfirmRemoval verifies the guardian's approval transaction and removes the
// site when it checks out. Rejections are reported as outcomes; the returned
// error is reserved for store failures.
func (f *UnblockFlow) ConfirmRemoval(ctx context.Context, req RemovalConfirmation) (core.VerificationResult, error) {
	host := core.NormalizeHost(req.Site)
	state, err := f.store.Load(ctx)
	if err != nil {
		return core.VerificationResult{}, fmt.Errorf("failed to load block-list: %w", err)
	}
	if _, ok := state.Site(host); !ok {
		return core.VerificationResult{Outcome: core.OutcomeUnknownSite, Err: core.ErrSiteNotBlocked}, nil
	}

	signer, err := f.expectedSigner(ctx, req.ClaimedAddress)
	if errors.Is(err, core.ErrNotGuardian) {
		log.Info("Removal rejected", "site", host, "claimed", req.ClaimedAddress, "outcome", core.OutcomeSignerMismatch)
		return core.VerificationResult{Outcome: core.OutcomeSignerMismatch, Err: err}, nil
	} else if err != nil {
		return core.VerificationResult{}, err
	}

	var ticket *core.RemovalTicket
	var expected string
	if req.Ticket != "" {
		ticket, err = f.tokenizer.TokenToTicket(req.Ticket)
		switch {
		case err != nil:
			return rejectTicket(host, err), nil
		case ticket.Site != host:
			return rejectTicket(host, core.ErrInvalidTicket), nil
		case !f.now().Before(ticket.ExpiresAt):
			return rejectTicket(host, core.ErrTicketExpired), nil
		}
		pin, ok := state.Tickets[ticket.ID]
		if !ok || pin.Site != host {
			return rejectTicket(host, core.ErrTicketConsumed), nil
		}
		expected = pin.Message
	} else {
		expected = state.Challenges[host]
		if expected == "" {
			return core.VerificationResult{Outcome: core.OutcomeNoChallenge}, nil
		}
	}

	tx, fetched := f.fetch(ctx, req.TxHash)
	if tx == nil {
		log.Info("Removal rejected", "site", host, "tx", req.TxHash, "outcome", fetched.Outcome, "err", fetched.Err)
		return fetched, nil
	}

	verified := f.verifier.Verify(tx.Input, expected, signer)
	if !verified.Verified() {
		log.Info("Removal rejected", "site", host, "tx", req.TxHash, "outcome", verified.Outcome)
		return verified, nil
	}

	// RemoveSite drops the challenge and every ticket pinned for host,
	// so the approval is spent by the write that lifts the block
	_, err = f.store.Update(ctx, func(state *core.State) error {
		if ticket != nil {
			if pin, ok := state.Tickets[ticket.ID]; !ok || pin.Message != expected {
				return core.ErrTicketConsumed
			}
		} else if state.Challenges[host] != expected {
			return errChallengeRotated
		}
		return state.RemoveSite(host)
	})
	switch {
	case errors.Is(err, errChallengeRotated):
		log.Info("Removal rejected", "site", host, "tx", req.TxHash, "outcome", core.OutcomeMessageMismatch)
		return core.VerificationResult{Outcome: core.OutcomeMessageMismatch, Recovered: verified.Recovered, Err: err}, nil
	case errors.Is(err, core.ErrTicketConsumed):
		return rejectTicket(host, err), nil
	case errors.Is(err, core.ErrSiteNotBlocked):
		return core.VerificationResult{Outcome: core.OutcomeUnknownSite, Recovered: verified.Recovered, Err: err}, nil
	case err != nil:
		return core.VerificationResult{}, fmt.Errorf("failed to remove %s: %w", host, err)
	}

	log.Info("Site unblocked", "site", host, "guardian", verified.Recovered, "tx", req.TxHash)
	if err := f.recovery.Reset(ctx); err != nil {
		log.Error("Failed to reset recovery streak", "err", err)
	}
	if err := f.eventPub.PublishSiteUnblocked(ctx, host); err != nil {
		log.Warn("Failed to publish site unblocked event", "site", host, "err", err)
	}
	return verified, nil
}

// expectedSigner returns the address the approval must recover to. A stored
// guardian wins over the claim; the claim is only trusted when none is set.
func (f *UnblockFlow) expectedSigner(ctx context.Context, claimed string) (string, error) {
	guardian, err := f.store.Get(ctx, ports.KeyGuardianAddress)
	switch {
	case errors.Is(err, core.ErrNotFound) || (err == nil && guardian == ""):
		return claimed, nil
	case err != nil:
		return "", fmt.Errorf("failed to load guardian address: %w", err)
	}
	if claimed == "" {
		return guardian, nil
	}
	if !common.IsHexAddress(claimed) || common.HexToAddress(claimed) != common.HexToAddress(guardian) {
		return "", core.ErrNotGuardian
	}
	return guardian, nil
}

// fetch looks up txHash within the fetch timeout. A nil transaction comes with the failure outcome.
func (f *UnblockFlow) fetch(ctx context.Context, txHash string) (*core.Transaction, core.VerificationResult) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	tx, err := f.fetcher.TransactionByHash(fetchCtx, txHash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return nil, core.VerificationResult{Outcome: core.OutcomeFetchTimeout, Err: err}
		}
		return nil, core.VerificationResult{Outcome: core.OutcomeFetchError, Err: err}
	}
	if tx == nil {
		return nil, core.VerificationResult{Outcome: core.OutcomeNoInputData}
	}
	return tx, core.VerificationResult{}
}

func rejectTicket(site string, err error) core.VerificationResult {
	log.Info("Removal ticket rejected", "site", site, "err", err)
	return core.VerificationResult{Outcome: core.OutcomeTicketRejected, Err: err}
}

// RotateChallenges replaces the message of every blocked site with a fresh one
// and drops messages of sites that are no longer blocked. Tickets pinned to an
// older message stay valid until they expire.
func (f *UnblockFlow) RotateChallenges(ctx context.Context) error {
	var rotated []string
	_, err := f.store.Update(ctx, func(state *core.State) error {
		rotated = rotated[:0]
		next := make(map[string]string, len(state.Sites))
		for _, site := range state.Sites {
			msg, err := core.FreshChallenge(f.generate, state.Challenges[site.URL])
			if err != nil {
				return err
			}
			next[site.URL] = msg
			rotated = append(rotated, site.URL)
		}
		state.Challenges = next
		state.PruneTickets(f.now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rotate challenges: %w", err)
	}

	log.Debug("Rotated challenges", "sites", len(rotated))
	if len(rotated) == 0 {
		return nil
	}
	if err := f.eventPub.PublishChallengesRotated(ctx, rotated); err != nil {
		log.Warn("Failed to publish challenges rotated event", "err", err)
	}
	return nil
}

// Start rotates challenges now and then once every rotation interval until StopAndWait
func (f *UnblockFlow) Start(ctx context.Context) error {
	if err := f.StopWaiter.Start(ctx); err != nil {
		return err
	}
	return f.CallIteratively(func(ctx context.Context) time.Duration {
		if err := f.RotateChallenges(ctx); err != nil && ctx.Err() == nil {
			log.Error("Challenge rotation failed", "err", err)
		}
		return f.cfg.RotationInterval
	})
}
