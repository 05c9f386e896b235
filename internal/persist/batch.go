package persist

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/rizalgowandy/materialize/pkg/log"
)

// Part encoding:
//
//	uvarint count
//	count times: uvarint keyLen | key | uvarint valLen | val | uvarint time | varint diff
//	crc32c(castagnoli) of everything preceding, 4 bytes big-endian
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodePart serializes updates into one part blob and returns the bytes
// together with their content hash (the crc also stored in the trailer).
func encodePart(updates []Update) ([]byte, uint32) {
	size := 10
	for _, u := range updates {
		size += u.sizeBytes() + 24
	}
	out := make([]byte, 0, size)

	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(updates)))
	out = append(out, tmp[:n]...)
	for _, u := range updates {
		n = binary.PutUvarint(tmp[:], uint64(len(u.Key)))
		out = append(out, tmp[:n]...)
		out = append(out, u.Key...)
		n = binary.PutUvarint(tmp[:], uint64(len(u.Value)))
		out = append(out, tmp[:n]...)
		out = append(out, u.Value...)
		n = binary.PutUvarint(tmp[:], u.Time)
		out = append(out, tmp[:n]...)
		n = binary.PutVarint(tmp[:], u.Diff)
		out = append(out, tmp[:n]...)
	}

	crc := crc32.Checksum(out, castagnoli)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...), crc
}

var errPartCorrupt = errors.New("part checksum mismatch")

// decodePart parses a part blob, verifying its trailer checksum. Corruption
// is reported via errPartCorrupt; callers attach the blob key.
func decodePart(b []byte) ([]Update, uint32, error) {
	if len(b) < 5 {
		return nil, 0, errors.New("part too short")
	}
	payload, trailer := b[:len(b)-4], b[len(b)-4:]
	want := binary.BigEndian.Uint32(trailer)
	got := crc32.Checksum(payload, castagnoli)
	if got != want {
		return nil, got, errPartCorrupt
	}

	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return nil, want, errors.New("part count malformed")
	}
	payload = payload[n:]
	updates := make([]Update, 0, count)
	for i := uint64(0); i < count; i++ {
		var u Update
		klen, n := binary.Uvarint(payload)
		if n <= 0 || uint64(len(payload[n:])) < klen {
			return nil, want, errors.New("part key malformed")
		}
		u.Key = append([]byte(nil), payload[n:n+int(klen)]...)
		payload = payload[n+int(klen):]

		vlen, n := binary.Uvarint(payload)
		if n <= 0 || uint64(len(payload[n:])) < vlen {
			return nil, want, errors.New("part value malformed")
		}
		u.Value = append([]byte(nil), payload[n:n+int(vlen)]...)
		payload = payload[n+int(vlen):]

		u.Time, n = binary.Uvarint(payload)
		if n <= 0 {
			return nil, want, errors.New("part time malformed")
		}
		payload = payload[n:]

		u.Diff, n = binary.Varint(payload)
		if n <= 0 {
			return nil, want, errors.New("part diff malformed")
		}
		payload = payload[n:]
		updates = append(updates, u)
	}
	if len(payload) != 0 {
		return nil, want, errors.New("part has trailing bytes")
	}
	return updates, want, nil
}

// batchBuilder accumulates updates and uploads them as part blobs, splitting
// whenever the staged size passes the configured flush threshold. Parts are
// uploaded before the descriptor is published; a crash leaves orphans the
// grace-window sweep reclaims.
type batchBuilder struct {
	shard   *Shard
	staged  []Update
	bytes   int
	parts   []BatchPart
	maxTime uint64
	hasMax  bool
}

func newBatchBuilder(s *Shard) *batchBuilder { return &batchBuilder{shard: s} }

func (b *batchBuilder) add(ctx context.Context, updates []Update) error {
	for _, u := range updates {
		if !b.hasMax || u.Time > b.maxTime {
			b.maxTime = u.Time
			b.hasMax = true
		}
		b.staged = append(b.staged, u.clone())
		b.bytes += u.sizeBytes()
		if b.bytes >= b.shard.cfg.FlushPartBytes {
			if err := b.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush seals the staged updates into one uploaded part.
func (b *batchBuilder) flush(ctx context.Context) error {
	if len(b.staged) == 0 {
		return nil
	}
	if err := b.shard.faults.Fail(FaultPreWrite); err != nil {
		return err
	}
	data, hash := encodePart(b.staged)
	key := b.shard.blobKey()
	err := b.shard.retryBackend(ctx, "blob put", func() error {
		return b.shard.blob.Put(ctx, key, data)
	})
	if err != nil {
		return fmt.Errorf("persist: upload part: %w", err)
	}
	b.parts = append(b.parts, BatchPart{Key: key, Hash: hash, Len: len(data), Count: len(b.staged)})
	b.staged = nil
	b.bytes = 0
	return nil
}

// finish uploads any remaining staged updates and returns the part list.
func (b *batchBuilder) finish(ctx context.Context) ([]BatchPart, error) {
	if err := b.flush(ctx); err != nil {
		return nil, err
	}
	return b.parts, nil
}

// discard best-effort deletes every uploaded part. Used when the commit the
// parts were built for lost its race.
func (b *batchBuilder) discard(ctx context.Context) {
	for _, p := range b.parts {
		if err := b.shard.blob.Delete(ctx, p.Key); err != nil {
			b.shard.logger.Warn("orphaned part not deleted", log.F("key", p.Key), log.Err(err))
		}
	}
	b.parts = nil
}
