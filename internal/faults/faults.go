// Package faults defines the error taxonomy shared across the engine.
//
// Batch operations never abort on these: a per-item failure is wrapped,
// counted into the batch summary, and the loop moves on. Duplicate-write
// conflicts do not appear here because every write path is an upsert.
package faults

import "errors"

var (
	// ErrValidation marks malformed input (dates, periods, amounts,
	// instrument codes) rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing user, instrument, or candle. A missing
	// candle is a legitimate historical gap, distinct from invalid data.
	ErrNotFound = errors.New("not found")

	// ErrDataIntegrity marks data that exists but is unusable: an OHLC
	// invariant violation, or a price gap too wide to value a holding.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrExternalService marks a price-source failure or timeout,
	// isolated per item and collected into the batch errors.
	ErrExternalService = errors.New("external service failure")
)
