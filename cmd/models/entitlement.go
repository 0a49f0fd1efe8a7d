package models

import "time"

// Membership is a viewer's relation snapshot used for access decisions:
// which communities they follow and which they hold an active subscription
// to. Activity is evaluated against end dates at build time, never against
// the cached status column.
type Membership struct {
	Follows    map[uint]bool
	ActiveSubs map[uint]bool
}

// NewMembership derives a membership snapshot from fetched follow and
// subscription rows at the given instant.
func NewMembership(follows []Follow, subs []Subscription, now time.Time) Membership {
	m := Membership{
		Follows:    make(map[uint]bool, len(follows)),
		ActiveSubs: make(map[uint]bool, len(subs)),
	}
	for _, f := range follows {
		m.Follows[f.CommunityID] = true
	}
	for _, s := range subs {
		if s.IsActive(now) {
			m.ActiveSubs[s.CommunityID] = true
		}
	}
	return m
}

// Member reports whether the viewer has any relation to the community.
// Non-members do not see the community's signals at all.
func (m Membership) Member(communityID uint) bool {
	return m.Follows[communityID] || m.ActiveSubs[communityID]
}

// CanViewSignal decides whether the signal's full content is visible.
// Free signals are visible to any member (a subscription implies follow for
// entitlement purposes). VIP signals require an active subscription;
// following alone is insufficient.
func (m Membership) CanViewSignal(sig *Signal) bool {
	switch sig.Type {
	case SignalTypeVIP:
		return m.ActiveSubs[sig.CommunityID]
	default:
		return m.Member(sig.CommunityID)
	}
}

// VisibleCommunityIDs is the deduplicated union of followed and
// actively-subscribed community IDs used to filter the signal feed.
func (m Membership) VisibleCommunityIDs() []uint {
	ids := make([]uint, 0, len(m.Follows)+len(m.ActiveSubs))
	seen := make(map[uint]bool, len(m.Follows)+len(m.ActiveSubs))
	for id := range m.Follows {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range m.ActiveSubs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// LockedSignal is the placeholder payload for a signal the viewer is not
// entitled to. It carries non-sensitive metadata only; entry price, take
// profit and stop loss are never transmitted to an unentitled viewer. The
// redaction lives in the type rather than in json tags so the guarded
// fields cannot leak through a marshalling change.
type LockedSignal struct {
	ID            uint      `json:"id"`
	CommunityID   uint      `json:"community_id"`
	CommunityName string    `json:"community_name,omitempty"`
	Asset         string    `json:"asset"`
	Market        string    `json:"market"`
	Type          string    `json:"type"`
	Direction     string    `json:"direction"`
	Status        string    `json:"status"`
	Locked        bool      `json:"locked"`
	CreatedAt     time.Time `json:"created_at"`
}

// Lock produces the redacted view of a signal.
func (s *Signal) Lock() LockedSignal {
	locked := LockedSignal{
		ID:          s.ID,
		CommunityID: s.CommunityID,
		Asset:       s.Asset,
		Market:      s.Market,
		Type:        s.Type,
		Direction:   s.Direction,
		Status:      s.Status,
		Locked:      true,
		CreatedAt:   s.CreatedAt,
	}
	if s.Community != nil {
		locked.CommunityName = s.Community.Name
	}
	return locked
}

// Redact returns either the full signal or its locked placeholder depending
// on the viewer's entitlement.
func (m Membership) Redact(sig *Signal) interface{} {
	if m.CanViewSignal(sig) {
		return sig
	}
	return sig.Lock()
}
