package random

import (
	"math/big"
	"strconv"
	"time"
)

// RequestID identifies a randomness request. Issued identifiers start at 1;
// the zero value means no request.
type RequestID uint64

func (id RequestID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseRequestID parses the decimal form produced by String.
func ParseRequestID(raw string) (RequestID, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return RequestID(v), nil
}

// Params are the delivery parameters handed to the coordinator unchanged.
type Params struct {
	KeyHash          string `json:"key_hash"`
	SubscriptionID   uint64 `json:"subscription_id"`
	Confirmations    uint16 `json:"confirmations"`
	CallbackGasLimit uint32 `json:"callback_gas_limit"`
	NumWords         uint32 `json:"num_words"`
}

// Request asks the coordinator for NumWords random words on behalf of Consumer.
type Request struct {
	Params
	Consumer string `json:"consumer"`
}

// Status is the lifecycle of a stored request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusFailed    Status = "failed"
)

// Record is the coordinator's view of a request.
type Record struct {
	ID          RequestID  `json:"id"`
	Request     Request    `json:"request"`
	Status      Status     `json:"status"`
	Words       []*big.Int `json:"words,omitempty"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	Payment     *big.Int   `json:"payment,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FulfilledAt time.Time  `json:"fulfilled_at,omitempty"`
}

// Subscription funds requests made by its consumers.
type Subscription struct {
	ID        uint64   `json:"id"`
	Owner     string   `json:"owner"`
	Balance   *big.Int `json:"balance"`
	Consumers []string `json:"consumers"`
}
