package persist

import (
	"encoding/json"
	"fmt"
)

// BatchPart describes one stored blob of a batch.
type BatchPart struct {
	Key   string `json:"key"`
	Hash  uint32 `json:"hash"`
	Len   int    `json:"len"`
	Count int    `json:"count"`
}

// BatchDesc describes one committed batch covering [Lower, Upper). SeqNo is
// assigned at commit and totally orders batches for a shard, including
// merged batches produced by compaction.
type BatchDesc struct {
	SeqNo uint64      `json:"seqno"`
	Lower uint64      `json:"lower"`
	Upper uint64      `json:"upper"`
	Parts []BatchPart `json:"parts,omitempty"`
}

// Bytes returns the total encoded size of the batch's parts.
func (d BatchDesc) Bytes() int {
	n := 0
	for _, p := range d.Parts {
		n += p.Len
	}
	return n
}

// samePartsAs reports whether both descriptors reference exactly the same
// blobs. Commit retries use it to recognize their own earlier success.
func (d BatchDesc) samePartsAs(other BatchDesc) bool {
	if len(d.Parts) != len(other.Parts) {
		return false
	}
	for i := range d.Parts {
		if d.Parts[i].Key != other.Parts[i].Key {
			return false
		}
	}
	return true
}

// State is the single atomically swapped consistency record of a shard.
// Every mutation produces a new value published through a meta CAS; nothing
// edits it in place.
type State struct {
	SeqNo        uint64            `json:"seqno"`
	Batches      []BatchDesc       `json:"batches,omitempty"`
	Since        uint64            `json:"since"`
	Upper        uint64            `json:"upper"`
	Epoch        uint64            `json:"epoch"`
	Holder       string            `json:"holder,omitempty"`
	Reservations map[string]uint64 `json:"reservations,omitempty"`
}

// Clone returns a deep copy safe to mutate before a CAS publish.
func (s State) Clone() State {
	out := s
	out.Batches = make([]BatchDesc, len(s.Batches))
	for i, d := range s.Batches {
		out.Batches[i] = d
		out.Batches[i].Parts = append([]BatchPart(nil), d.Parts...)
	}
	if s.Reservations != nil {
		out.Reservations = make(map[string]uint64, len(s.Reservations))
		for k, v := range s.Reservations {
			out.Reservations[k] = v
		}
	}
	return out
}

// Validate checks the structural invariants of a consistent state: batch
// descriptors gapless and non-overlapping in time order, frontiers ordered.
func (s State) Validate() error {
	if s.Since > s.Upper {
		return fmt.Errorf("persist: state invalid: since %d > upper %d", s.Since, s.Upper)
	}
	for i, d := range s.Batches {
		if d.Upper < d.Lower {
			return fmt.Errorf("persist: state invalid: batch %d range [%d, %d) inverted", d.SeqNo, d.Lower, d.Upper)
		}
		if d.Lower == d.Upper && len(d.Parts) > 0 {
			// A listener walking the tiling could never get past it.
			return fmt.Errorf("persist: state invalid: batch %d covers empty range [%d, %d) yet carries parts",
				d.SeqNo, d.Lower, d.Upper)
		}
		if i > 0 {
			prev := s.Batches[i-1]
			if d.Lower != prev.Upper {
				return fmt.Errorf("persist: state invalid: batch %d lower %d does not abut previous upper %d",
					d.SeqNo, d.Lower, prev.Upper)
			}
		}
	}
	if n := len(s.Batches); n > 0 && s.Batches[n-1].Upper > s.Upper {
		return fmt.Errorf("persist: state invalid: last batch upper %d exceeds shard upper %d",
			s.Batches[n-1].Upper, s.Upper)
	}
	return nil
}

// MinReservation returns the lowest registered reader reservation.
func (s State) MinReservation() (uint64, bool) {
	found := false
	var min uint64
	for _, t := range s.Reservations {
		if !found || t < min {
			min = t
			found = true
		}
	}
	return min, found
}

// Encode serializes the state for the meta record.
func (s State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState parses a meta record. Nil bytes decode to the initial state.
func DecodeState(b []byte) (State, error) {
	if len(b) == 0 {
		return State{}, nil
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, fmt.Errorf("persist: decode state: %w", err)
	}
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	return s, nil
}
