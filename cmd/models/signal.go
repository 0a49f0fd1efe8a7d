package models

import (
	"errors"

	"gorm.io/gorm"
)

const (
	SignalStatusPending = "pending"
	SignalStatusWin     = "win"
	SignalStatusLoss    = "loss"

	SignalTypeFree = "free"
	SignalTypeVIP  = "vip"

	DirectionBuy  = "buy"
	DirectionSell = "sell"

	MarketCrypto = "crypto"
	MarketForex  = "forex"
	MarketStocks = "stocks"
)

var ErrSignalValidation = errors.New("signal validation failed")

type Signal struct {
	gorm.Model
	CommunityID uint     `gorm:"column:community_id;index;not null" json:"community_id"`
	Asset       string   `gorm:"column:asset;type:text;not null" json:"asset"`
	Market      string   `gorm:"column:market;size:20;not null" json:"market"`
	Type        string   `gorm:"column:type;size:20;not null;default:free" json:"type"`
	Direction   string   `gorm:"column:direction;size:10;not null" json:"direction"`
	EntryPrice  float64  `gorm:"column:entry_price;not null" json:"entry_price"`
	TakeProfit  *float64 `gorm:"column:take_profit" json:"take_profit,omitempty"`
	StopLoss    *float64 `gorm:"column:stop_loss" json:"stop_loss,omitempty"`
	Status      string   `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`

	Community *Community `gorm:"foreignKey:CommunityID" json:"community,omitempty"`
}

// Validate rejects a signal locally before any write reaches the store.
func (s *Signal) Validate() error {
	if s.Asset == "" {
		return errors.New("asset is required")
	}
	if s.Market != MarketCrypto && s.Market != MarketForex && s.Market != MarketStocks {
		return errors.New("market must be one of crypto, forex, stocks")
	}
	if s.Type != SignalTypeFree && s.Type != SignalTypeVIP {
		return errors.New("type must be free or vip")
	}
	if s.Direction != DirectionBuy && s.Direction != DirectionSell {
		return errors.New("direction must be buy or sell")
	}
	if s.EntryPrice <= 0 {
		return errors.New("entry price is required and must be positive")
	}
	if s.TakeProfit != nil && *s.TakeProfit <= 0 {
		return errors.New("take profit must be positive when set")
	}
	if s.StopLoss != nil && *s.StopLoss <= 0 {
		return errors.New("stop loss must be positive when set")
	}
	return nil
}

// Resolved reports whether the signal has left the pending state.
func (s *Signal) Resolved() bool {
	return s.Status == SignalStatusWin || s.Status == SignalStatusLoss
}

// TerminalStatus reports whether status is a valid resolution target.
func TerminalStatus(status string) bool {
	return status == SignalStatusWin || status == SignalStatusLoss
}
