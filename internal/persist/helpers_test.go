package persist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rizalgowandy/materialize/internal/config"
	"github.com/rizalgowandy/materialize/internal/storage/blob"
	"github.com/rizalgowandy/materialize/internal/storage/meta"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.CompactMinBatches = 2
	cfg.BackendBackoff = config.Duration(time.Millisecond)
	cfg.ListenPollInterval = config.Duration(10 * time.Millisecond)
	cfg.GCGraceWindow = 0
	return cfg
}

type testShard struct {
	*Shard
	blob *blob.Memory
	meta *meta.Memory
}

func newTestShard(t *testing.T, opts ...func(*ShardOptions)) testShard {
	t.Helper()
	b := blob.NewMemory()
	m := meta.NewMemory()
	so := ShardOptions{Name: "orders", Blob: b, Meta: m, Config: testConfig()}
	for _, opt := range opts {
		opt(&so)
	}
	s, err := Open(so)
	require.NoError(t, err)
	return testShard{Shard: s, blob: b, meta: m}
}

func upd(key, value string, ts uint64, diff int64) Update {
	return Update{Key: []byte(key), Value: []byte(value), Time: ts, Diff: diff}
}

func mustAppend(t *testing.T, w *Writer, updates []Update, upper uint64) BatchDesc {
	t.Helper()
	desc, err := w.Append(context.Background(), updates, upper)
	require.NoError(t, err)
	return desc
}

// scriptFaults runs a hook at each consulted decision point. Hooks may carry
// out side effects (such as a concurrent state mutation) and return nil, or
// return an error to simulate a crash at that point.
type scriptFaults struct {
	mu    sync.Mutex
	hooks map[string]func() error
}

func newScriptFaults() *scriptFaults {
	return &scriptFaults{hooks: make(map[string]func() error)}
}

func (f *scriptFaults) on(point string, fn func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[point] = fn
}

func (f *scriptFaults) Fail(point string) error {
	f.mu.Lock()
	fn := f.hooks[point]
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// flakyMeta applies one compare-and-set and then reports a transient error,
// simulating a commit whose acknowledgement was lost. When set, onDrop runs
// after the swap applied and before the error returns, so concurrent state
// changes can be squeezed in ahead of the caller's retry.
type flakyMeta struct {
	meta.Store
	mu        sync.Mutex
	dropNext  bool
	dropped   bool
	errInject error
	onDrop    func()
}

func (f *flakyMeta) CompareAndSet(ctx context.Context, expected meta.Version, data []byte) (meta.Version, error) {
	v, err := f.Store.CompareAndSet(ctx, expected, data)
	f.mu.Lock()
	drop := err == nil && f.dropNext
	var hook func()
	if drop {
		f.dropNext = false
		f.dropped = true
		hook = f.onDrop
	}
	f.mu.Unlock()
	if drop {
		if hook != nil {
			hook()
		}
		return 0, f.errInject
	}
	return v, err
}

// conflictMeta runs an armed hook once, just before delegating the next
// compare-and-set, simulating an unrelated mutation landing between a
// caller's state read and its swap.
type conflictMeta struct {
	meta.Store
	mu   sync.Mutex
	next func()
}

func (c *conflictMeta) arm(fn func()) {
	c.mu.Lock()
	c.next = fn
	c.mu.Unlock()
}

func (c *conflictMeta) CompareAndSet(ctx context.Context, expected meta.Version, data []byte) (meta.Version, error) {
	c.mu.Lock()
	fn := c.next
	c.next = nil
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return c.Store.CompareAndSet(ctx, expected, data)
}
