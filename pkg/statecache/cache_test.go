package statecache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quillsign/signsync-go/pkg/events"
	"github.com/quillsign/signsync-go/pkg/store"
	"github.com/quillsign/signsync-go/pkg/store/memory"
	"github.com/quillsign/signsync-go/pkg/types"
)

// fakeClock lets tests move through the TTL window deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingStore counts signature lookups so tests can assert cache hits
// performed no remote I/O.
type countingStore struct {
	store.ISignatureStore
	loads atomic.Int64
}

func (c *countingStore) LoadSignature(contractID string, party types.Party) (*types.SignatureRecord, error) {
	c.loads.Add(1)
	return c.ISignatureStore.LoadSignature(contractID, party)
}

func record(contractID string, party types.Party) *types.SignatureRecord {
	return &types.SignatureRecord{
		ID:         "rec-" + contractID + "-" + string(party),
		ContractID: contractID,
		Party:      party,
		SignerName: "Ada",
		SignedAt:   time.Now().UTC(),
	}
}

func newTestCache(t *testing.T) (*SignatureStateCache, *countingStore, *memory.MemoryStore, *memory.MemoryStore, *fakeClock) {
	t.Helper()

	remote := memory.NewMemoryStore()
	local := memory.NewMemoryStore()
	counting := &countingStore{ISignatureStore: remote}
	clock := newFakeClock()

	cache := NewSignatureStateCache(counting, local, zap.NewNop(), &Config{
		TTL:   10 * time.Second,
		Clock: clock,
	})

	return cache, counting, remote, local, clock
}

func TestGetSignatureState_NoSignatures(t *testing.T) {
	cache, _, _, _, _ := newTestCache(t)

	state := cache.GetSignatureState("c1")
	assert.Equal(t, "c1", state.ContractID)
	assert.False(t, state.HasDesignerSignature)
	assert.False(t, state.HasClientSignature)
	assert.False(t, state.LastChecked.IsZero())
}

func TestGetSignatureState_EmptyContractID(t *testing.T) {
	cache, counting, _, _, _ := newTestCache(t)

	state := cache.GetSignatureState("")
	assert.False(t, state.HasDesignerSignature)
	assert.False(t, state.HasClientSignature)
	assert.Zero(t, counting.loads.Load(), "empty contract ID must not hit the stores")
}

func TestGetSignatureState_CachedWithinTTL(t *testing.T) {
	cache, counting, _, _, clock := newTestCache(t)

	cache.GetSignatureState("c1")
	first := counting.loads.Load()
	assert.Equal(t, int64(2), first, "one remote lookup per party")

	clock.Advance(5 * time.Second) // still inside the 10s TTL
	cache.GetSignatureState("c1")
	assert.Equal(t, first, counting.loads.Load(), "second call within TTL must not perform remote I/O")
}

func TestGetSignatureState_ReconcilesAfterTTL(t *testing.T) {
	cache, counting, _, _, clock := newTestCache(t)

	cache.GetSignatureState("c1")
	clock.Advance(11 * time.Second)
	cache.GetSignatureState("c1")

	assert.Equal(t, int64(4), counting.loads.Load())
}

func TestGetSignatureState_SeesNewSignatureAfterInvalidate(t *testing.T) {
	cache, _, remote, _, _ := newTestCache(t)

	state := cache.GetSignatureState("c1")
	assert.False(t, state.HasDesignerSignature)

	require.NoError(t, remote.SaveSignature(record("c1", types.PartyDesigner)))

	// Still cached
	state = cache.GetSignatureState("c1")
	assert.False(t, state.HasDesignerSignature)

	cache.Invalidate("c1")
	state = cache.GetSignatureState("c1")
	assert.True(t, state.HasDesignerSignature)
}

func TestInvalidate_Idempotent(t *testing.T) {
	cache, counting, _, _, _ := newTestCache(t)

	cache.GetSignatureState("c1")

	cache.Invalidate("c1")
	cache.Invalidate("c1")

	cache.GetSignatureState("c1")
	assert.Equal(t, int64(4), counting.loads.Load(), "one re-reconciliation regardless of repeated invalidates")
}

func TestInvalidateAll(t *testing.T) {
	cache, counting, _, _, _ := newTestCache(t)

	cache.GetSignatureState("c1")
	cache.GetSignatureState("c2")
	require.Equal(t, int64(4), counting.loads.Load())

	cache.InvalidateAll()

	cache.GetSignatureState("c1")
	cache.GetSignatureState("c2")
	assert.Equal(t, int64(8), counting.loads.Load())
}

func TestLookup_RemoteFailure_FallsBackToLocal(t *testing.T) {
	cache, _, remote, local, _ := newTestCache(t)

	require.NoError(t, local.SaveSignature(record("c1", types.PartyDesigner)))
	remote.SetFailing(true)

	state := cache.GetSignatureState("c1")
	assert.True(t, state.HasDesignerSignature)
	assert.False(t, state.HasClientSignature)
}

func TestLookup_TotalFailure_FailsOpen(t *testing.T) {
	cache, _, remote, local, _ := newTestCache(t)

	remote.SetFailing(true)
	local.SetFailing(true)

	state := cache.GetSignatureState("c1")
	assert.False(t, state.HasDesignerSignature)
	assert.False(t, state.HasClientSignature)

	result := cache.CanEditContract("c1")
	assert.True(t, result.CanEdit, "infrastructure failure must never lock the user out")
}

func TestLookup_LocalWinsWhenRemoteAbsent(t *testing.T) {
	cache, _, _, local, _ := newTestCache(t)

	// Write reached the local mirror but not yet visible remotely.
	require.NoError(t, local.SaveSignature(record("c1", types.PartyDesigner)))

	state := cache.GetSignatureState("c1")
	assert.True(t, state.HasDesignerSignature)
}

func TestCanEditContract(t *testing.T) {
	cache, _, remote, _, _ := newTestCache(t)

	result := cache.CanEditContract("c1")
	assert.True(t, result.CanEdit)
	assert.Empty(t, result.Reason)

	require.NoError(t, remote.SaveSignature(record("c1", types.PartyDesigner)))
	cache.Invalidate("c1")

	result = cache.CanEditContract("c1")
	assert.False(t, result.CanEdit)
	assert.NotEmpty(t, result.Reason)
}

func TestCanEditContract_ClientSignatureDoesNotBlock(t *testing.T) {
	cache, _, remote, _, _ := newTestCache(t)

	require.NoError(t, remote.SaveSignature(record("c1", types.PartyClient)))

	result := cache.CanEditContract("c1")
	assert.True(t, result.CanEdit)

	state := cache.GetSignatureState("c1")
	assert.True(t, state.HasClientSignature)
}

func TestRefresh_BypassesTTL(t *testing.T) {
	cache, counting, remote, _, _ := newTestCache(t)

	cache.GetSignatureState("c1")
	require.NoError(t, remote.SaveSignature(record("c1", types.PartyDesigner)))

	state := cache.Refresh("c1")
	assert.True(t, state.HasDesignerSignature)
	assert.Equal(t, int64(4), counting.loads.Load())
}

func TestAttachBus_StateChangedUpdatesSnapshot(t *testing.T) {
	cache, counting, _, _, _ := newTestCache(t)

	bus := events.NewBus(zap.NewNop())
	cache.AttachBus(bus)

	bus.Publish(events.SignatureStateChanged{
		ContractID:           "c1",
		HasDesignerSignature: true,
		HasClientSignature:   false,
		Source:               "test",
	})

	// The optimistic snapshot serves reads without I/O.
	state := cache.GetSignatureState("c1")
	assert.True(t, state.HasDesignerSignature)
	assert.Zero(t, counting.loads.Load())
}

func TestAttachBus_RemovalInvalidates(t *testing.T) {
	cache, counting, _, _, _ := newTestCache(t)

	bus := events.NewBus(zap.NewNop())
	cache.AttachBus(bus)

	cache.GetSignatureState("c1")
	require.Equal(t, int64(2), counting.loads.Load())

	bus.Publish(events.SignatureRemoved{ContractID: "c1", Party: "designer", Source: "test"})

	cache.GetSignatureState("c1")
	assert.Equal(t, int64(4), counting.loads.Load(), "removal event must force re-reconciliation")
}

func TestGetSignatureState_ReturnsCopies(t *testing.T) {
	cache, _, _, _, _ := newTestCache(t)

	first := cache.GetSignatureState("c1")
	first.HasDesignerSignature = true // consumer mutates its copy

	second := cache.GetSignatureState("c1")
	assert.False(t, second.HasDesignerSignature)
}
