package persist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func desc(seqno, lower, upper uint64, keys ...string) BatchDesc {
	d := BatchDesc{SeqNo: seqno, Lower: lower, Upper: upper}
	for _, k := range keys {
		d.Parts = append(d.Parts, BatchPart{Key: k, Len: 1, Count: 1})
	}
	return d
}

func TestValidateAcceptsTiledBatches(t *testing.T) {
	st := State{
		SeqNo:   3,
		Batches: []BatchDesc{desc(1, 0, 2, "a"), desc(2, 2, 5, "b"), desc(3, 5, 5)},
		Since:   2,
		Upper:   7,
	}
	require.NoError(t, st.Validate())
}

func TestValidateRejectsGap(t *testing.T) {
	st := State{
		Batches: []BatchDesc{desc(1, 0, 2, "a"), desc(2, 3, 5, "b")},
		Upper:   5,
	}
	require.Error(t, st.Validate())
}

func TestValidateRejectsOverlap(t *testing.T) {
	st := State{
		Batches: []BatchDesc{desc(1, 0, 3, "a"), desc(2, 2, 5, "b")},
		Upper:   5,
	}
	require.Error(t, st.Validate())
}

func TestValidateRejectsSinceAboveUpper(t *testing.T) {
	st := State{Since: 3, Upper: 2}
	require.Error(t, st.Validate())
}

func TestValidateRejectsBatchBeyondUpper(t *testing.T) {
	st := State{Batches: []BatchDesc{desc(1, 0, 9, "a")}, Upper: 5}
	require.Error(t, st.Validate())
}

func TestValidateRejectsEmptyRangeWithParts(t *testing.T) {
	st := State{
		Batches: []BatchDesc{desc(1, 0, 3, "a"), desc(2, 3, 3, "b")},
		Upper:   3,
	}
	require.Error(t, st.Validate())
}

func TestStateCodecRoundTrip(t *testing.T) {
	st := State{
		SeqNo:        7,
		Batches:      []BatchDesc{desc(6, 0, 4, "k1", "k2"), desc(7, 4, 9, "k3")},
		Since:        4,
		Upper:        9,
		Epoch:        2,
		Holder:       "w-1",
		Reservations: map[string]uint64{"r-1": 5},
	}
	data, err := st.Encode()
	require.NoError(t, err)
	back, err := DecodeState(data)
	require.NoError(t, err)
	require.Equal(t, st, back)
}

func TestDecodeStateEmptyIsInitial(t *testing.T) {
	st, err := DecodeState(nil)
	require.NoError(t, err)
	require.Equal(t, State{}, st)
}

func TestDecodeStateRejectsInvalid(t *testing.T) {
	bad := State{Since: 9, Upper: 1}
	data, err := bad.Encode()
	require.NoError(t, err)
	_, err = DecodeState(data)
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	st := State{
		Batches:      []BatchDesc{desc(1, 0, 2, "a")},
		Reservations: map[string]uint64{"r": 1},
	}
	cl := st.Clone()
	cl.Batches[0].Parts[0].Key = "mutated"
	cl.Reservations["r"] = 99
	require.Equal(t, "a", st.Batches[0].Parts[0].Key)
	require.Equal(t, uint64(1), st.Reservations["r"])
}

func TestMinReservation(t *testing.T) {
	st := State{}
	_, ok := st.MinReservation()
	require.False(t, ok)

	st.Reservations = map[string]uint64{"a": 5, "b": 2, "c": 9}
	min, ok := st.MinReservation()
	require.True(t, ok)
	require.Equal(t, uint64(2), min)
}
