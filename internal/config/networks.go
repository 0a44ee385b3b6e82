package config

import (
	"fmt"
	"sort"
	"time"
)

// Network is a deployment profile for the raffle.
type Network struct {
	Name               string        `json:"name" yaml:"name"`
	ChainID            int64         `json:"chain_id" yaml:"chain_id"`
	Development        bool          `json:"development" yaml:"development"`
	BlockConfirmations uint16        `json:"block_confirmations" yaml:"block_confirmations"`
	BlockTime          time.Duration `json:"block_time" yaml:"block_time"`
	Coordinator        string        `json:"coordinator,omitempty" yaml:"coordinator,omitempty"`
	EntranceFee        string        `json:"entrance_fee" yaml:"entrance_fee"`
	GasLane            string        `json:"gas_lane" yaml:"gas_lane"`
	SubscriptionID     uint64        `json:"subscription_id,omitempty" yaml:"subscription_id,omitempty"`
	CallbackGasLimit   uint32        `json:"callback_gas_limit" yaml:"callback_gas_limit"`
	Interval           time.Duration `json:"interval" yaml:"interval"`
}

const (
	// oneHundredthEther is 0.01 ether in wei.
	oneHundredthEther = "10000000000000000"
	gasLane           = "0x79d3d8832d904592c0bf9818b621522c988bb8b0c05cdc3b15aea1b6e8db0c15"
)

var networks = map[string]Network{
	"hardhat": {
		Name:               "hardhat",
		ChainID:            31337,
		Development:        true,
		BlockConfirmations: 1,
		BlockTime:          time.Second,
		EntranceFee:        oneHundredthEther,
		GasLane:            gasLane,
		CallbackGasLimit:   500000,
		Interval:           30 * time.Second,
	},
	"localhost": {
		Name:               "localhost",
		ChainID:            31337,
		Development:        true,
		BlockConfirmations: 1,
		BlockTime:          time.Second,
		EntranceFee:        oneHundredthEther,
		GasLane:            gasLane,
		CallbackGasLimit:   500000,
		Interval:           30 * time.Second,
	},
	"goerli": {
		Name:               "goerli",
		ChainID:            5,
		BlockConfirmations: 3,
		BlockTime:          12 * time.Second,
		Coordinator:        "0x2Ca8E0C643bDe4C2E08ab1fA0da3401AdAD7734D",
		EntranceFee:        oneHundredthEther,
		GasLane:            gasLane,
		SubscriptionID:     4893,
		CallbackGasLimit:   500000,
		Interval:           30 * time.Second,
	},
}

// LookupNetwork returns the named profile.
func LookupNetwork(name string) (Network, error) {
	n, ok := networks[name]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q", name)
	}
	return n, nil
}

// Networks lists every built-in profile ordered by name.
func Networks() []Network {
	out := make([]Network, 0, len(networks))
	for _, n := range networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
