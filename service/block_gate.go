package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
)

// BlockGate redirects tabs that finish loading a blocked site
type BlockGate struct {
	store          ports.Store
	redirector     ports.Redirector
	blockedPageURL string
}

// NewBlockGate creates a gate sending blocked tabs to blockedPageURL
func NewBlockGate(store ports.Store, redirector ports.Redirector, blockedPageURL string) *BlockGate {
	return &BlockGate{store: store, redirector: redirector, blockedPageURL: blockedPageURL}
}

// OnNavigationComplete checks a finished top-level navigation and redirects the tab if it is blocked
func (g *BlockGate) OnNavigationComplete(ctx context.Context, tabID int, url string) (core.BlockDecision, error) {
	if url == "" {
		return core.BlockDecision{}, nil
	}

	state, err := g.store.Load(ctx)
	if err != nil {
		return core.BlockDecision{}, fmt.Errorf("failed to load block-list: %w", err)
	}
	if len(state.Sites) == 0 {
		return core.BlockDecision{}, nil
	}

	decision, err := core.MatchURL(url, state.Sites)
	if err != nil {
		log.Warn("Skipping block check", "tab", tabID, "url", url, "err", err)
		return core.BlockDecision{}, nil
	}
	if !decision.Blocked {
		return decision, nil
	}

	if err := g.redirector.Redirect(ctx, tabID, g.blockedPageURL); err != nil {
		return decision, fmt.Errorf("failed to redirect tab %d: %w", tabID, err)
	}
	decision.RedirectURL = g.blockedPageURL
	log.Debug("Redirected blocked navigation", "tab", tabID, "site", decision.MatchedSite)
	return decision, nil
}
