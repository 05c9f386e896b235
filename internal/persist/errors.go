package persist

import (
	"errors"
	"fmt"
)

// ErrFenced is returned by every commit attempted after the writer's epoch
// was superseded. The writer is permanently unusable; the caller must
// acquire a fresh lease with Shard.NewWriter.
var ErrFenced = errors.New("persist: writer fenced: lease epoch superseded")

// InvalidTimeBoundError rejects an append whose times or upper would break
// the frontier invariants. It is never retried internally.
type InvalidTimeBoundError struct {
	Reason string
	Time   uint64
	Upper  uint64
}

func (e *InvalidTimeBoundError) Error() string {
	return fmt.Sprintf("persist: invalid time bound: %s (time=%d upper=%d)", e.Reason, e.Time, e.Upper)
}

// SinceViolationError rejects a read below the compaction floor.
type SinceViolationError struct {
	AsOf  uint64
	Since uint64
}

func (e *SinceViolationError) Error() string {
	return fmt.Sprintf("persist: as_of %d is below since %d", e.AsOf, e.Since)
}

// DataCorruptionError reports a batch part whose content hash does not match
// its descriptor. It is fatal for that batch and never silently repaired.
type DataCorruptionError struct {
	Key      string
	Expected uint32
	Actual   uint32
}

func (e *DataCorruptionError) Error() string {
	return fmt.Sprintf("persist: blob %s corrupt: hash %08x, descriptor says %08x", e.Key, e.Actual, e.Expected)
}

// IsPermanent reports whether err must not be retried against the backend.
func IsPermanent(err error) bool {
	var itb *InvalidTimeBoundError
	var sv *SinceViolationError
	var dc *DataCorruptionError
	return errors.Is(err, ErrFenced) ||
		errors.As(err, &itb) ||
		errors.As(err, &sv) ||
		errors.As(err, &dc)
}
