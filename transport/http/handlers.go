package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/guardian/adapters/events"
	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/service"
)

// Handlers contains the HTTP handlers of the guardian API
type Handlers struct {
	gate       *service.BlockGate
	sites      *service.SiteService
	flow       *service.UnblockFlow
	recovery   *service.RecoveryTracker
	subscriber message.Subscriber
}

// NewHandlers creates new handlers. subscriber feeds the events stream and may be nil.
func NewHandlers(
	gate *service.BlockGate,
	sites *service.SiteService,
	flow *service.UnblockFlow,
	recovery *service.RecoveryTracker,
	subscriber message.Subscriber,
) *Handlers {
	return &Handlers{
		gate:       gate,
		sites:      sites,
		flow:       flow,
		recovery:   recovery,
		subscriber: subscriber,
	}
}

// Navigation handles a finished top-level navigation reported by the extension
func (h *Handlers) Navigation(c *gin.Context) {
	var req struct {
		TabID int    `json:"tab_id"`
		URL   string `json:"url"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	decision, err := h.gate.OnNavigationComplete(c.Request.Context(), req.TabID, req.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check navigation"})
		return
	}

	c.JSON(http.StatusOK, decision)
}

// ListSites returns the block-list
func (h *Handlers) ListSites(c *gin.Context) {
	sites, err := h.sites.ListSites(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load sites"})
		return
	}
	if sites == nil {
		sites = []core.BlockedSite{}
	}

	c.JSON(http.StatusOK, gin.H{"sites": sites})
}

// AddSite blocks a site
func (h *Handlers) AddSite(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	site, err := h.sites.AddSite(c.Request.Context(), req.URL)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidSite):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid site"})
		case errors.Is(err, core.ErrSiteAlreadyBlocked):
			c.JSON(http.StatusConflict, gin.H{"error": "Site is already blocked"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to block site"})
		}
		return
	}

	c.JSON(http.StatusCreated, site)
}

// RequestRemoval returns the challenge the guardian has to sign for a site
func (h *Handlers) RequestRemoval(c *gin.Context) {
	prompt, err := h.flow.RequestRemoval(c.Request.Context(), c.Param("site"))
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidSite):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid site"})
		case errors.Is(err, core.ErrSiteNotBlocked):
			c.JSON(http.StatusNotFound, gin.H{"error": "Site is not blocked"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		}
		return
	}

	c.JSON(http.StatusOK, prompt)
}

// ConfirmRemoval verifies the guardian's approval transaction
func (h *Handlers) ConfirmRemoval(c *gin.Context) {
	var req struct {
		TxHash         string `json:"tx_hash" binding:"required"`
		ClaimedAddress string `json:"claimed_address" binding:"required"`
		Ticket         string `json:"ticket"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.flow.ConfirmRemoval(c.Request.Context(), service.RemovalConfirmation{
		Site:           c.Param("site"),
		TxHash:         req.TxHash,
		ClaimedAddress: req.ClaimedAddress,
		Ticket:         req.Ticket,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify approval"})
		return
	}

	body := gin.H{
		"outcome": result.Outcome,
		"status":  result.Status(),
	}
	if result.Recovered != (common.Address{}) {
		body["recovered"] = result.Recovered.Hex()
	}

	c.JSON(outcomeStatus(result.Outcome), body)
}

func outcomeStatus(outcome core.Outcome) int {
	switch outcome {
	case core.OutcomeVerified:
		return http.StatusOK
	case core.OutcomeUnknownSite:
		return http.StatusNotFound
	case core.OutcomeFetchTimeout:
		return http.StatusGatewayTimeout
	case core.OutcomeFetchError:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// Guardian returns the guardian address
func (h *Handlers) Guardian(c *gin.Context) {
	address, err := h.sites.Guardian(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load guardian"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": address})
}

// SetGuardian stores the guardian address
func (h *Handlers) SetGuardian(c *gin.Context) {
	h.setAddress(c, h.sites.SetGuardian)
}

// Wallet returns the user's wallet address
func (h *Handlers) Wallet(c *gin.Context) {
	address, err := h.sites.Wallet(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": address})
}

// SetWallet stores the user's wallet address
func (h *Handlers) SetWallet(c *gin.Context) {
	h.setAddress(c, h.sites.SetWallet)
}

func (h *Handlers) setAddress(c *gin.Context, set func(ctx context.Context, address string) (string, error)) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	address, err := set(c.Request.Context(), req.Address)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save address"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": address})
}

// Streak returns the current recovery streak
func (h *Handlers) Streak(c *gin.Context) {
	streak, err := h.recovery.Current(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load streak"})
		return
	}

	c.JSON(http.StatusOK, streak)
}

// StartStreak begins a new recovery streak
func (h *Handlers) StartStreak(c *gin.Context) {
	streak, err := h.recovery.Start(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start streak"})
		return
	}

	c.JSON(http.StatusOK, streak)
}

// Events streams state changes and tab redirects as server-sent events until the client goes away
func (h *Handlers) Events(c *gin.Context) {
	if h.subscriber == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Event stream unavailable"})
		return
	}

	ctx := c.Request.Context()
	states, err := h.subscriber.Subscribe(ctx, events.StateTopic)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to subscribe"})
		return
	}
	redirects, err := h.subscriber.Subscribe(ctx, events.RedirectTopic)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to subscribe"})
		return
	}

	// Flush headers so clients know the subscription is live
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		var name string
		var msg *message.Message
		var ok bool
		select {
		case <-ctx.Done():
			return false
		case msg, ok = <-states:
			name = "state"
		case msg, ok = <-redirects:
			name = "redirect"
		}
		if !ok {
			return false
		}
		c.SSEvent(name, string(msg.Payload))
		msg.Ack()
		return true
	})
}
