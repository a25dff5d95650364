package payout

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DistributionStatus is the lifecycle status of a Distribution.
type DistributionStatus string

const (
	DistributionStatusPending            DistributionStatus = "PENDING"
	DistributionStatusInProgress         DistributionStatus = "IN_PROGRESS"
	DistributionStatusPartiallyCompleted DistributionStatus = "PARTIALLY_COMPLETED"
	DistributionStatusCompleted          DistributionStatus = "COMPLETED"
	DistributionStatusFailed             DistributionStatus = "FAILED"
	DistributionStatusCancelled          DistributionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed.
func (s DistributionStatus) IsTerminal() bool {
	switch s {
	case DistributionStatusCompleted, DistributionStatusFailed, DistributionStatusCancelled:
		return true
	}
	return false
}

// allowedTransitions lists the legal moves out of each non-terminal status.
// PARTIALLY_COMPLETED goes back to IN_PROGRESS only through ApplyAggregate,
// while a retried batch waits for its transaction receipt.
var allowedTransitions = map[DistributionStatus][]DistributionStatus{
	DistributionStatusPending: {
		DistributionStatusInProgress,
		DistributionStatusFailed,
		DistributionStatusCancelled,
	},
	DistributionStatusInProgress: {
		DistributionStatusPartiallyCompleted,
		DistributionStatusCompleted,
		DistributionStatusFailed,
		DistributionStatusCancelled,
	},
	DistributionStatusPartiallyCompleted: {
		DistributionStatusInProgress,
		DistributionStatusCompleted,
		DistributionStatusFailed,
		DistributionStatusCancelled,
	},
}

// CanTransition reports whether from -> to is legal. Staying in place is always legal
// for non-terminal statuses.
func CanTransition(from, to DistributionStatus) bool {
	if from == to {
		return !from.IsTerminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DistributionType distinguishes on-chain corporate actions from ad-hoc payouts.
type DistributionType string

const (
	DistributionTypeCorporateAction DistributionType = "CORPORATE_ACTION"
	DistributionTypePayout          DistributionType = "PAYOUT"
)

// PayoutSubtype describes when a payout distribution runs.
type PayoutSubtype string

const (
	PayoutSubtypeImmediate PayoutSubtype = "IMMEDIATE"
	PayoutSubtypeOneOff    PayoutSubtype = "ONE_OFF"
	PayoutSubtypeRecurring PayoutSubtype = "RECURRING"
)

// Recurrency is the period of a recurring payout.
type Recurrency string

const (
	RecurrencyHourly  Recurrency = "HOURLY"
	RecurrencyDaily   Recurrency = "DAILY"
	RecurrencyWeekly  Recurrency = "WEEKLY"
	RecurrencyMonthly Recurrency = "MONTHLY"
)

// Next returns t advanced by one period.
func (r Recurrency) Next(t time.Time) (time.Time, error) {
	switch r {
	case RecurrencyHourly:
		return t.Add(time.Hour), nil
	case RecurrencyDaily:
		return t.AddDate(0, 0, 1), nil
	case RecurrencyWeekly:
		return t.AddDate(0, 0, 7), nil
	case RecurrencyMonthly:
		return addMonth(t), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidRecurrency, r)
	}
}

// addMonth moves t one calendar month ahead. Days past the end of the target
// month are clamped to its last day: Jan 31 becomes Feb 28 or 29.
func addMonth(t time.Time) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// AmountType says how a payout amount is interpreted.
type AmountType string

const (
	AmountTypeFixed      AmountType = "FIXED"
	AmountTypePercentage AmountType = "PERCENTAGE"
)

// Distribution is one payout campaign against an Asset.
type Distribution struct {
	ID                string
	AssetID           string
	Type              DistributionType
	CorporateActionID string
	ExecutionDate     time.Time
	PayoutSubtype     PayoutSubtype
	Recurrency        Recurrency
	AmountType        AmountType
	Amount            decimal.Decimal
	Concept           string
	SnapshotID        string
	Status            DistributionStatus
	Timestamps
}

// NewCorporateActionDistribution creates a pending distribution for an on-chain
// dividend or coupon. The execution date must be in the future.
func NewCorporateActionDistribution(assetID, corporateActionID string, executionDate, now time.Time) (*Distribution, error) {
	if !executionDate.After(now) {
		return nil, ErrExecutionDateInPast
	}
	if corporateActionID == "" {
		return nil, ErrInvalidCorporateActionID
	}
	return &Distribution{
		ID:                newID(),
		AssetID:           assetID,
		Type:              DistributionTypeCorporateAction,
		CorporateActionID: corporateActionID,
		ExecutionDate:     executionDate.UTC(),
		Status:            DistributionStatusPending,
		Timestamps:        newTimestamps(now),
	}, nil
}

// PayoutParams describes an ad-hoc payout.
type PayoutParams struct {
	AssetID       string
	Subtype       PayoutSubtype
	ExecutionDate time.Time
	Recurrency    Recurrency
	AmountType    AmountType
	Amount        decimal.Decimal
	Concept       string
}

// NewPayoutDistribution creates a pending payout distribution. Immediate payouts
// execute at now; one-off and recurring payouts need a future execution date.
func NewPayoutDistribution(p PayoutParams, now time.Time) (*Distribution, error) {
	execDate := p.ExecutionDate
	switch p.Subtype {
	case PayoutSubtypeImmediate:
		execDate = now
	case PayoutSubtypeOneOff:
		if !execDate.After(now) {
			return nil, ErrExecutionDateInPast
		}
	case PayoutSubtypeRecurring:
		if !execDate.After(now) {
			return nil, ErrExecutionDateInPast
		}
		if _, err := p.Recurrency.Next(execDate); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPayoutSubtype, p.Subtype)
	}

	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	switch p.AmountType {
	case AmountTypeFixed:
	case AmountTypePercentage:
		if p.Amount.GreaterThan(decimal.NewFromInt(100)) {
			return nil, ErrInvalidPercentage
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmountType, p.AmountType)
	}

	d := &Distribution{
		ID:            newID(),
		AssetID:       p.AssetID,
		Type:          DistributionTypePayout,
		ExecutionDate: execDate.UTC(),
		PayoutSubtype: p.Subtype,
		AmountType:    p.AmountType,
		Amount:        p.Amount,
		Concept:       p.Concept,
		Status:        DistributionStatusPending,
		Timestamps:    newTimestamps(now),
	}
	if p.Subtype == PayoutSubtypeRecurring {
		d.Recurrency = p.Recurrency
	}
	return d, nil
}

func (d *Distribution) transition(to DistributionStatus, now time.Time) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, d.Status, to)
	}
	if d.Status == to {
		return nil
	}
	d.Status = to
	d.Touch(now)
	return nil
}

// Start moves a PENDING distribution to IN_PROGRESS.
func (d *Distribution) Start(now time.Time) error {
	if d.Status != DistributionStatusPending {
		return fmt.Errorf("%w: cannot start a %s distribution", ErrInvalidStatusTransition, d.Status)
	}
	return d.transition(DistributionStatusInProgress, now)
}

// Cancel is only legal from a non-terminal status.
func (d *Distribution) Cancel(now time.Time) error {
	if d.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel a %s distribution", ErrInvalidStatusTransition, d.Status)
	}
	return d.transition(DistributionStatusCancelled, now)
}

// ApplyAggregate moves the distribution to a status derived from its batches.
func (d *Distribution) ApplyAggregate(status DistributionStatus, now time.Time) error {
	return d.transition(status, now)
}

// IsExecutable reports whether pages may still be dispatched. An IN_PROGRESS
// distribution is one whose run was interrupted; once every page has a batch
// payout the status moves on and only retries remain.
func (d *Distribution) IsExecutable() bool {
	switch d.Status {
	case DistributionStatusPending, DistributionStatusInProgress:
		return true
	}
	return false
}

// IsDue reports whether a pending distribution should run at now.
func (d *Distribution) IsDue(now time.Time) bool {
	return d.Status == DistributionStatusPending && !d.ExecutionDate.After(now)
}

// SetSnapshot records the on-chain snapshot used to resolve holders.
func (d *Distribution) SetSnapshot(snapshotID string, now time.Time) {
	d.SnapshotID = snapshotID
	d.Touch(now)
}

// NextExecutionDate returns the first period boundary of a recurring payout
// that lies after now.
func (d *Distribution) NextExecutionDate(now time.Time) (time.Time, error) {
	if d.Type != DistributionTypePayout || d.PayoutSubtype != PayoutSubtypeRecurring {
		return time.Time{}, ErrDistributionNotRecurring
	}
	next, err := d.Recurrency.Next(d.ExecutionDate)
	if err != nil {
		return time.Time{}, err
	}
	for !next.After(now) {
		if next, err = d.Recurrency.Next(next); err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}

// NextOccurrence builds the pending successor of a recurring payout.
func (d *Distribution) NextOccurrence(now time.Time) (*Distribution, error) {
	next, err := d.NextExecutionDate(now)
	if err != nil {
		return nil, err
	}
	return &Distribution{
		ID:            newID(),
		AssetID:       d.AssetID,
		Type:          d.Type,
		ExecutionDate: next.UTC(),
		PayoutSubtype: d.PayoutSubtype,
		Recurrency:    d.Recurrency,
		AmountType:    d.AmountType,
		Amount:        d.Amount,
		Concept:       d.Concept,
		Status:        DistributionStatusPending,
		Timestamps:    newTimestamps(now),
	}, nil
}
