package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
)

// SiteService manages the block-list and the guardian settings
type SiteService struct {
	store    ports.Store
	eventPub ports.EventPublisher
	generate core.MessageGenerator
	now      func() time.Time
}

// NewSiteService creates a new site service
func NewSiteService(store ports.Store, eventPub ports.EventPublisher) *SiteService {
	return &SiteService{
		store:    store,
		eventPub: eventPub,
		generate: core.GenerateChallenge,
		now:      time.Now,
	}
}

// AddSite blocks raw and creates its first challenge message
func (s *SiteService) AddSite(ctx context.Context, raw string) (core.BlockedSite, error) {
	site, err := core.NewBlockedSite(raw, s.now())
	if err != nil {
		return core.BlockedSite{}, err
	}
	msg, err := s.generate()
	if err != nil {
		return core.BlockedSite{}, err
	}

	_, err = s.store.Update(ctx, func(state *core.State) error {
		if err := state.AddSite(site); err != nil {
			return err
		}
		state.Challenges[site.URL] = msg
		return nil
	})
	if err != nil {
		return core.BlockedSite{}, fmt.Errorf("failed to block %s: %w", site.URL, err)
	}

	log.Info("Site blocked", "site", site.URL)
	if err := s.eventPub.PublishSiteBlocked(ctx, site.URL); err != nil {
		log.Warn("Failed to publish site blocked event", "site", site.URL, "err", err)
	}
	return site, nil
}

// ListSites returns the block-list in insertion order
func (s *SiteService) ListSites(ctx context.Context) ([]core.BlockedSite, error) {
	state, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load block-list: %w", err)
	}
	return state.Sites, nil
}

// Guardian returns the configured guardian address, if any
func (s *SiteService) Guardian(ctx context.Context) (string, error) {
	return s.address(ctx, ports.KeyGuardianAddress)
}

// SetGuardian stores the address whose signature unblocks sites
func (s *SiteService) SetGuardian(ctx context.Context, address string) (string, error) {
	return s.setAddress(ctx, ports.KeyGuardianAddress, address)
}

// Wallet returns the user's own wallet address, if any
func (s *SiteService) Wallet(ctx context.Context) (string, error) {
	return s.address(ctx, ports.KeyWalletAddress)
}

// SetWallet stores the user's own wallet address
func (s *SiteService) SetWallet(ctx context.Context, address string) (string, error) {
	return s.setAddress(ctx, ports.KeyWalletAddress, address)
}

func (s *SiteService) address(ctx context.Context, key string) (string, error) {
	value, err := s.store.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", key, err)
	}
	return value, nil
}

func (s *SiteService) setAddress(ctx context.Context, key, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", core.ErrInvalidAddress
	}
	checksummed := common.HexToAddress(address).Hex()
	if err := s.store.Set(ctx, key, checksummed); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", key, err)
	}
	return checksummed, nil
}
