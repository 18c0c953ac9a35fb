package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the format of BlockedSite.AddedDate
const DateLayout = "2006-01-02"

// BlockedSite is a single block-list entry
type BlockedSite struct {
	URL       string `json:"url"`       // Normalized hostname
	AddedDate string `json:"addedDate"` // Day the site was blocked, YYYY-MM-DD
}

// NewBlockedSite normalizes raw and stamps it with the day of now
func NewBlockedSite(raw string, now time.Time) (BlockedSite, error) {
	host := NormalizeHost(raw)
	if host == "" {
		return BlockedSite{}, ErrInvalidSite
	}
	return BlockedSite{URL: host, AddedDate: now.Format(DateLayout)}, nil
}

// UnmarshalJSON accepts both the bare string and the object form of an entry.
// The hostname is normalized either way.
func (s *BlockedSite) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*s = BlockedSite{URL: NormalizeHost(bare)}
		return nil
	}

	type record BlockedSite
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("decode blocked site: %w", err)
	}
	r.URL = NormalizeHost(r.URL)
	*s = BlockedSite(r)
	return nil
}

// TicketPin is the message a removal ticket was issued for.
// A pin lives only as long as the blocking of its site.
type TicketPin struct {
	Site      string    `json:"site"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// State is the block-list together with the live challenge messages
// and the removal tickets still honoured
type State struct {
	Version    int64
	Sites      []BlockedSite
	Challenges map[string]string    // hostname -> challenge message
	Tickets    map[string]TicketPin // ticket id -> pinned message
}

// NewState returns an empty state
func NewState() *State {
	return &State{
		Challenges: make(map[string]string),
		Tickets:    make(map[string]TicketPin),
	}
}

// Clone returns a deep copy so update functions can mutate freely
func (s *State) Clone() *State {
	c := &State{
		Version:    s.Version,
		Sites:      append([]BlockedSite(nil), s.Sites...),
		Challenges: make(map[string]string, len(s.Challenges)),
		Tickets:    make(map[string]TicketPin, len(s.Tickets)),
	}
	for k, v := range s.Challenges {
		c.Challenges[k] = v
	}
	for k, v := range s.Tickets {
		c.Tickets[k] = v
	}
	return c
}

// PinTicket records that ticket id may be redeemed for message until expiresAt
func (s *State) PinTicket(id string, pin TicketPin) {
	if s.Tickets == nil {
		s.Tickets = make(map[string]TicketPin)
	}
	s.Tickets[id] = pin
}

// PruneTickets drops pins that expired by now or whose site is no longer blocked
func (s *State) PruneTickets(now time.Time) {
	for id, pin := range s.Tickets {
		if _, ok := s.Site(pin.Site); !ok || !now.Before(pin.ExpiresAt) {
			delete(s.Tickets, id)
		}
	}
}

// Site returns the entry for host, if blocked
func (s *State) Site(host string) (BlockedSite, bool) {
	for _, site := range s.Sites {
		if site.URL == host {
			return site, true
		}
	}
	return BlockedSite{}, false
}

// AddSite appends site unless its hostname is already present
func (s *State) AddSite(site BlockedSite) error {
	if _, ok := s.Site(site.URL); ok {
		return ErrSiteAlreadyBlocked
	}
	s.Sites = append(s.Sites, site)
	return nil
}

// RemoveSite drops host from the block-list and deletes its challenge
// together with every ticket pinned for it
func (s *State) RemoveSite(host string) error {
	kept := s.Sites[:0:0]
	found := false
	for _, site := range s.Sites {
		if site.URL == host {
			found = true
			continue
		}
		kept = append(kept, site)
	}
	if !found {
		return ErrSiteNotBlocked
	}
	s.Sites = kept
	delete(s.Challenges, host)
	for id, pin := range s.Tickets {
		if pin.Site == host {
			delete(s.Tickets, id)
		}
	}
	return nil
}

// Dedupe collapses entries that normalize to the same hostname, keeping the first
func (s *State) Dedupe() {
	seen := make(map[string]struct{}, len(s.Sites))
	kept := s.Sites[:0:0]
	for _, site := range s.Sites {
		if site.URL == "" {
			continue
		}
		if _, ok := seen[site.URL]; ok {
			continue
		}
		seen[site.URL] = struct{}{}
		kept = append(kept, site)
	}
	s.Sites = kept
}

// Streak tracks the current recovery run
type Streak struct {
	StartDate time.Time `json:"startDate"`
	Count     int       `json:"count"` // Whole days since StartDate
}

// Transaction is the subset of a looked-up transaction the verifier needs
type Transaction struct {
	Hash  string
	From  string
	To    string
	Input string // Hex calldata, empty when the transaction carried none
}

// RemovalTicket pins the challenge message used for one removal attempt
type RemovalTicket struct {
	ID        string    // Unique identifier for the ticket
	Site      string    // Hostname the removal is for
	Message   string    // Challenge message the guardian must sign
	IssuedAt  time.Time // When the ticket was created
	ExpiresAt time.Time // When the ticket stops being accepted
}
