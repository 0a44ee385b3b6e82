// Package raffle holds the data model of the periodic raffle: round state,
// readiness verdicts, settlement records and the notifications emitted as a
// round moves through its lifecycle.
package raffle

import (
	"math/big"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
)

// State is the lifecycle state of the current round.
type State string

const (
	// StateOpen accepts entries.
	StateOpen State = "open"
	// StateDrawing has a randomness request in flight and rejects entries.
	StateDrawing State = "drawing"
)

// Config is fixed for the lifetime of an engine.
type Config struct {
	EntranceFee *big.Int
	Interval    time.Duration
	Randomness  random.Params
}

// Round is a point-in-time copy of the engine's round.
type Round struct {
	Number           int64            `json:"number"`
	State            State            `json:"state"`
	Entries          []string         `json:"entries"`
	Pool             *big.Int         `json:"pool"`
	OpenedAt         time.Time        `json:"opened_at"`
	ClosedAt         time.Time        `json:"closed_at,omitempty"`
	PendingRequestID random.RequestID `json:"pending_request_id,omitempty"`
}

// Drawing reports whether a randomness request is in flight.
func (r Round) Drawing() bool {
	return r.State == StateDrawing
}

// Reason explains a readiness verdict.
type Reason string

const (
	ReasonReady              Reason = "ready"
	ReasonNotOpen            Reason = "round not open"
	ReasonIntervalNotElapsed Reason = "interval not elapsed"
	ReasonNoEntries          Reason = "no entries"
	ReasonNoBalance          Reason = "ledger holds no balance"
	ReasonLedgerUnavailable  Reason = "ledger unavailable"
)

// Readiness is the verdict of an upkeep check.
type Readiness struct {
	Ready  bool   `json:"ready"`
	Reason Reason `json:"reason"`
}

// Settlement records a completed draw.
type Settlement struct {
	Round       int64            `json:"round"`
	RequestID   random.RequestID `json:"request_id"`
	Winner      string           `json:"winner"`
	WinnerIndex int              `json:"winner_index"`
	Amount      *big.Int         `json:"amount"`
	EntryCount  int              `json:"entry_count"`
	TransferID  string           `json:"transfer_id"`
	OpenedAt    time.Time        `json:"opened_at"`
	ClosedAt    time.Time        `json:"closed_at"`
	SettledAt   time.Time        `json:"settled_at"`
}

// Event is a notification emitted by the engine.
type Event interface {
	EventName() string
}

const (
	EventEntryRecorded = "entry_recorded"
	EventDrawRequested = "draw_requested"
	EventWinnerPicked  = "winner_picked"
)

// EntryRecorded is emitted for every accepted entry.
type EntryRecorded struct {
	Round       int64     `json:"round"`
	Participant string    `json:"participant"`
	Index       int       `json:"index"`
	Stake       *big.Int  `json:"stake"`
	At          time.Time `json:"at"`
}

func (EntryRecorded) EventName() string { return EventEntryRecorded }

// DrawRequested is emitted once a round closes and randomness is requested.
type DrawRequested struct {
	Round     int64            `json:"round"`
	RequestID random.RequestID `json:"request_id"`
	Entries   int              `json:"entries"`
	Pool      *big.Int         `json:"pool"`
	At        time.Time        `json:"at"`
}

func (DrawRequested) EventName() string { return EventDrawRequested }

// WinnerPicked is emitted after the pool has been paid out.
type WinnerPicked struct {
	Round     int64            `json:"round"`
	RequestID random.RequestID `json:"request_id"`
	Winner    string           `json:"winner"`
	Amount    *big.Int         `json:"amount"`
	At        time.Time        `json:"at"`
}

func (WinnerPicked) EventName() string { return EventWinnerPicked }
