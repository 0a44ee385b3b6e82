// Package storage defines the persistence contracts used by the raffle
// services. Implementations live in the memory and postgres subpackages.
package storage
