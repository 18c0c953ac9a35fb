package core

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// internalSchemes are browser or extension pages that are never redirected.
// The blocked page itself lives under one of these.
var internalSchemes = []string{
	"chrome:",
	"chrome-extension:",
	"about:",
	"moz-extension:",
	"edge:",
	"devtools:",
}

// BlockDecision is the outcome of matching one navigation against the block-list
type BlockDecision struct {
	Blocked     bool   `json:"blocked"`
	Host        string `json:"host,omitempty"`         // Normalized navigated hostname
	MatchedSite string `json:"matched_site,omitempty"` // Block-list entry that matched
	RedirectURL string `json:"redirect_url,omitempty"`
}

// NormalizeHost reduces a block-list entry or hostname to its canonical form:
// lowercase, without scheme, credentials, port, path, trailing dot or a leading "www.".
func NormalizeHost(entry string) string {
	host := strings.ToLower(strings.TrimSpace(entry))
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host, "]") {
		host = host[:i]
	}
	host = strings.TrimSuffix(host, ".")
	return strings.TrimPrefix(host, "www.")
}

// MatchURL decides whether navigatedURL falls under any entry of sites.
// A non-nil error means the URL could not be parsed; the decision is then not blocked.
func MatchURL(navigatedURL string, sites []BlockedSite) (BlockDecision, error) {
	u, err := url.Parse(navigatedURL)
	if err != nil {
		return BlockDecision{}, fmt.Errorf("parse navigated url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme) + ":"
	for _, internal := range internalSchemes {
		if scheme == internal {
			return BlockDecision{}, nil
		}
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return BlockDecision{}, nil
	}

	decision := BlockDecision{Host: host}
	for _, site := range sites {
		entry := NormalizeHost(site.URL)
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			decision.Blocked = true
			decision.MatchedSite = entry
			return decision, nil
		}
	}
	return decision, nil
}

// IsBlocked reports whether navigatedURL should be redirected.
// Parse failures are logged and treated as not blocked so browsing keeps working.
func IsBlocked(navigatedURL string, sites []BlockedSite) bool {
	decision, err := MatchURL(navigatedURL, sites)
	if err != nil {
		log.Warn("Skipping block check", "url", navigatedURL, "err", err)
		return false
	}
	return decision.Blocked
}
