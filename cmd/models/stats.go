package models

import (
	"math"

	"gorm.io/gorm"
)

// Win-rate display tiers. The classification is total over 0-100.
const (
	TierExcellent = "excellent"
	TierGood      = "good"
	TierPoor      = "poor"
)

// CommunityStats is a cached aggregate over a community's signals. The
// authoritative value is always ComputeStats over the signal rows; this row
// is a read optimization refreshed whenever a signal is created or resolved.
// Invariant: wins + losses <= total_signals (pending signals count toward the
// total only).
type CommunityStats struct {
	gorm.Model
	CommunityID  uint  `gorm:"column:community_id;uniqueIndex;not null" json:"community_id"`
	TotalSignals int64 `gorm:"column:total_signals;not null;default:0" json:"total_signals"`
	Wins         int64 `gorm:"column:wins;not null;default:0" json:"wins"`
	Losses       int64 `gorm:"column:losses;not null;default:0" json:"losses"`
	WinRate      int   `gorm:"column:win_rate;not null;default:0" json:"win_rate"`
}

// ComputeStats is the authoritative full recompute from a community's
// signals. Callers display "N/A" when TotalSignals is zero; the numeric
// win rate stays 0 to keep the column simple.
func ComputeStats(communityID uint, signals []Signal) CommunityStats {
	stats := CommunityStats{CommunityID: communityID}
	for _, sig := range signals {
		stats.TotalSignals++
		switch sig.Status {
		case SignalStatusWin:
			stats.Wins++
		case SignalStatusLoss:
			stats.Losses++
		}
	}
	stats.WinRate = winRate(stats.Wins, stats.TotalSignals)
	return stats
}

// ApplyCreation maintains the aggregate incrementally on signal creation:
// the total grows once and is never decremented.
func (s *CommunityStats) ApplyCreation() {
	s.TotalSignals++
	s.WinRate = winRate(s.Wins, s.TotalSignals)
}

// ApplyResolution maintains the aggregate incrementally on a pending -> win
// or pending -> loss transition. Must only be called for a transition that
// actually happened (the caller holds the compare-and-swap result), so
// replays cannot double count. Converges with ComputeStats for any
// interleaving of creations and resolutions.
func (s *CommunityStats) ApplyResolution(status string) {
	switch status {
	case SignalStatusWin:
		s.Wins++
	case SignalStatusLoss:
		s.Losses++
	default:
		return
	}
	s.WinRate = winRate(s.Wins, s.TotalSignals)
}

func winRate(wins, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(wins) / float64(total) * 100))
}

// WinRateTier classifies a win rate for display: >= 65 excellent,
// 50-64 good, below 50 poor.
func WinRateTier(rate int) string {
	switch {
	case rate >= 65:
		return TierExcellent
	case rate >= 50:
		return TierGood
	default:
		return TierPoor
	}
}
