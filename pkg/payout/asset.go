package payout

import (
	"strings"
	"time"
)

// Asset is a tokenized security whose holders receive payouts through its
// life-cycle-cash-flow contract.
type Asset struct {
	ID                             string
	Name                           string
	HederaTokenAddress             string
	EvmTokenAddress                string
	LifeCycleCashFlowHederaAddress string
	LifeCycleCashFlowEvmAddress    string
	IsPaused                       bool
	SyncEnabled                    bool
	Timestamps
}

// NewAsset registers a new, unpaused asset with corporate-action sync enabled.
func NewAsset(name, hederaToken, evmToken, lccHedera, lccEvm string, now time.Time) (*Asset, error) {
	if err := ValidateEvmAddress(evmToken); err != nil {
		return nil, err
	}
	if err := ValidateEvmAddress(lccEvm); err != nil {
		return nil, err
	}
	a := &Asset{
		ID:                             newID(),
		Name:                           strings.TrimSpace(name),
		HederaTokenAddress:             hederaToken,
		EvmTokenAddress:                NormalizeEvmAddress(evmToken),
		LifeCycleCashFlowHederaAddress: lccHedera,
		LifeCycleCashFlowEvmAddress:    NormalizeEvmAddress(lccEvm),
		SyncEnabled:                    true,
		Timestamps:                     newTimestamps(now),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks names and address formats.
func (a *Asset) Validate() error {
	if a.Name == "" {
		return ErrInvalidName
	}
	if err := ValidateHederaAddress(a.HederaTokenAddress); err != nil {
		return err
	}
	if err := ValidateEvmAddress(a.EvmTokenAddress); err != nil {
		return err
	}
	if err := ValidateHederaAddress(a.LifeCycleCashFlowHederaAddress); err != nil {
		return err
	}
	if err := ValidateEvmAddress(a.LifeCycleCashFlowEvmAddress); err != nil {
		return err
	}
	return a.Timestamps.Validate()
}

// Pause marks the asset paused. It reports whether the state changed.
func (a *Asset) Pause(now time.Time) bool {
	if a.IsPaused {
		return false
	}
	a.IsPaused = true
	a.Touch(now)
	return true
}

// Unpause clears the paused flag. It reports whether the state changed.
func (a *Asset) Unpause(now time.Time) bool {
	if !a.IsPaused {
		return false
	}
	a.IsPaused = false
	a.Touch(now)
	return true
}

// Rename changes the display name.
func (a *Asset) Rename(name string, now time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	a.Name = name
	a.Touch(now)
	return nil
}

// EnableSync turns on corporate-action import for the asset.
func (a *Asset) EnableSync(now time.Time) {
	a.SyncEnabled = true
	a.Touch(now)
}

// DisableSync turns off corporate-action import for the asset.
func (a *Asset) DisableSync(now time.Time) {
	a.SyncEnabled = false
	a.Touch(now)
}
