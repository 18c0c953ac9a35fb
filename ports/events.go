package ports

import "context"

// EventPublisher notifies subscribers (the extension UI) about state changes
type EventPublisher interface {
	PublishSiteBlocked(ctx context.Context, site string) error
	PublishSiteUnblocked(ctx context.Context, site string) error
	PublishChallengesRotated(ctx context.Context, sites []string) error
}

// Redirector sends a tab to another page
type Redirector interface {
	Redirect(ctx context.Context, tabID int, url string) error
}
