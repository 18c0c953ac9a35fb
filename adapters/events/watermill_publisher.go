package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/guardian/ports"
)

const (
	// StateTopic carries block-list and challenge changes
	StateTopic = "guardian.state"

	// RedirectTopic carries tab redirects for the extension's background worker
	RedirectTopic = "guardian.redirect"
)

// Event types published on StateTopic
const (
	EventSiteBlocked       = "site_blocked"
	EventSiteUnblocked     = "site_unblocked"
	EventChallengesRotated = "challenges_rotated"
)

// StateEvent represents a state change
type StateEvent struct {
	Type  string    `json:"type"`
	Site  string    `json:"site,omitempty"`
	Sites []string  `json:"sites,omitempty"`
	At    time.Time `json:"at"`
}

// RedirectEvent asks the extension to navigate a tab
type RedirectEvent struct {
	TabID int    `json:"tab_id"`
	URL   string `json:"url"`
}

// WatermillPublisher implements EventPublisher and Redirector using Watermill
type WatermillPublisher struct {
	publisher     message.Publisher
	stateTopic    string
	redirectTopic string
}

var (
	_ ports.EventPublisher = (*WatermillPublisher)(nil)
	_ ports.Redirector     = (*WatermillPublisher)(nil)
)

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{
		publisher:     publisher,
		stateTopic:    StateTopic,
		redirectTopic: RedirectTopic,
	}
}

// PublishSiteBlocked publishes a site_blocked event
func (p *WatermillPublisher) PublishSiteBlocked(ctx context.Context, site string) error {
	return p.publish(ctx, p.stateTopic, StateEvent{Type: EventSiteBlocked, Site: site, At: time.Now()})
}

// PublishSiteUnblocked publishes a site_unblocked event
func (p *WatermillPublisher) PublishSiteUnblocked(ctx context.Context, site string) error {
	return p.publish(ctx, p.stateTopic, StateEvent{Type: EventSiteUnblocked, Site: site, At: time.Now()})
}

// PublishChallengesRotated publishes a challenges_rotated event
func (p *WatermillPublisher) PublishChallengesRotated(ctx context.Context, sites []string) error {
	return p.publish(ctx, p.stateTopic, StateEvent{Type: EventChallengesRotated, Sites: sites, At: time.Now()})
}

// Redirect publishes a redirect for tabID
func (p *WatermillPublisher) Redirect(ctx context.Context, tabID int, url string) error {
	return p.publish(ctx, p.redirectTopic, RedirectEvent{TabID: tabID, URL: url})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
